// Package cmd implements the actionflow command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	useFake bool
)

var rootCmd = &cobra.Command{
	Use:   "actionflow",
	Short: "Execute planned tool-call batches against the project-management API",
	Long: `actionflow executes batches of planned tool calls. Independent actions run
in parallel; actions that reference each other through placeholders such as
"<id of project: Mobile App>" are run in dependency order, with values pulled
from the results of earlier actions.

Commands:
  run       - execute a batch file
  classify  - print the strategy a batch file would use
  tools     - list the generated tools
  serve     - start the HTTP API`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("command failed", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML)")
	rootCmd.PersistentFlags().BoolVar(&useFake, "fake", false, "use the in-memory API instead of the remote one")
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
