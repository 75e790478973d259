// Command dojoctl runs maintenance jobs against the billing database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var dojoFlag uint

func main() {
	rootCmd := &cobra.Command{
		Use:           "dojoctl",
		Short:         "Maintenance jobs for dojo billing",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().UintVar(&dojoFlag, "dojo", 0, "limit to one dojo id (default: all dojos)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(pollCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
