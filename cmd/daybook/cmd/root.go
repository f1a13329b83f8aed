package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "daybook",
	Short: "Daybook is a zero-knowledge journal authentication service",
	Long: `The Daybook authentication service brokers OPAQUE password handshakes for
accounts and secret tags. Passphrases never reach the server; it stores only
opaque registration envelopes and issues bearer credentials on success.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
