package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "botserver",
	Short: "Conversational bot server for BASIC dialogs",
	Long: `botserver runs bots written as BASIC dialogs. TALK sends messages,
HEAR suspends a dialog until the user's next message arrives on any channel.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
