package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	columns := []string{"attempt_id", "first_leg_side", "note"}
	records := [][]string{
		{"1", "YES", "plain"},
		{"2", "NO", "comma, inside"},
		{"3", "YES", ""},
	}

	require.NoError(t, writeCSV(&buf, columns, records))

	want := "attempt_id,first_leg_side,note\n" +
		"1,YES,plain\n" +
		"2,NO,\"comma, inside\"\n" +
		"3,YES,\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_NoRows(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeCSV(&buf, []string{"attempt_id"}, nil))
	assert.Equal(t, "attempt_id\n", buf.String(), "header still written for empty tables")
}

// TestExportCommand_Flags tests command flags are defined
func TestExportCommand_Flags(t *testing.T) {
	tests := []struct {
		name      string
		flag      string
		shorthand string
		defValue  string
	}{
		{name: "table", flag: "table", shorthand: "t", defValue: "attempts"},
		{name: "output", flag: "output", shorthand: "o", defValue: ""},
		{name: "after", flag: "after", shorthand: "", defValue: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := exportCmd.Flags().Lookup(tt.flag)
			require.NotNil(t, flag, "%s flag not defined", tt.flag)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
			assert.Equal(t, tt.defValue, flag.DefValue)
		})
	}
}
