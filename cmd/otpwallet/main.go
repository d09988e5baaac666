package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "otpwallet",
	Short: "Email one-time-code login with a custodial test-network wallet",
	Long: `otpwallet authenticates a user by an emailed one-time code, holds a single
custodial key for them and submits ETH transfers to a test network.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
