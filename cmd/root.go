package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marketplace-auth",
	Short: "Marketplace authentication service",
	Long:  `The authentication and session-token service of the marketplace backend: registration, login, federated sign-in, refresh-token rotation and revocation.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
