package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAfter(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{name: "empty-is-zero", raw: "", want: time.Time{}},
		{name: "bare-date", raw: "2026-02-10", want: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", raw: "2026-02-10T15:30:00Z", want: time.Date(2026, 2, 10, 15, 30, 0, 0, time.UTC)},
		{name: "rfc3339-with-offset", raw: "2026-02-10T15:30:00+02:00", want: time.Date(2026, 2, 10, 13, 30, 0, 0, time.UTC)},
		{name: "garbage", raw: "yesterday", wantErr: true},
		{name: "us-format", raw: "02/10/2026", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAfter(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}

func TestReportFilterFromFlags(t *testing.T) {
	require.NoError(t, reportCmd.Flags().Set("parameter-set", "3"))
	require.NoError(t, reportCmd.Flags().Set("asset", " BTC "))
	require.NoError(t, reportCmd.Flags().Set("after", "2026-02-10"))
	defer func() {
		_ = reportCmd.Flags().Set("parameter-set", "0")
		_ = reportCmd.Flags().Set("asset", "")
		_ = reportCmd.Flags().Set("after", "")
	}()

	filter, err := reportFilterFromFlags(reportCmd)
	require.NoError(t, err)

	assert.Equal(t, int64(3), filter.ParameterSetID)
	assert.Equal(t, "btc", filter.Asset, "asset should be trimmed and lower-cased")
	assert.True(t, filter.After.Equal(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)), "got %v", filter.After)
}

func TestReportFilterFromFlags_Defaults(t *testing.T) {
	filter, err := reportFilterFromFlags(reportCmd)
	require.NoError(t, err)

	assert.Equal(t, int64(0), filter.ParameterSetID)
	assert.Equal(t, "", filter.Asset)
	assert.True(t, filter.After.IsZero())
}

func TestReportFilterFromFlags_BadAfter(t *testing.T) {
	require.NoError(t, reportCmd.Flags().Set("after", "not-a-time"))
	defer func() {
		_ = reportCmd.Flags().Set("after", "")
	}()

	_, err := reportFilterFromFlags(reportCmd)
	require.Error(t, err)
}
