package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "orgupgrader",
		Short: "Org Upgrader - Browser-driven package upgrade automation",
		Long: `Org Upgrader drives managed package upgrades across many orgs.
It logs into each org through a real browser, navigates to the package
install page, and walks the upgrade to completion, reporting progress
over a live status channel.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
