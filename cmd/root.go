package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "updown-pairs",
	Short: "Measurement harness for 15-minute updown market pairing",
	Long: `updown-pairs measures how often both sides of a Polymarket 15-minute
updown market can be bought so the pair locks a profit at settlement.

The harness resolves each window from the Gamma API, mirrors both order
books over WebSocket, and samples them on a fixed cadence: when one side's
ask touches its trigger a virtual first leg is recorded, then the harness
tracks whether the opposite ask ever reaches the complementary price. No
orders are placed; every attempt is journaled for offline analysis.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
