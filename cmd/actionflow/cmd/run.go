package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/actionflow"
	"github.com/ZanzyTHEbar/actionflow/internal/batchfile"
)

var runCmd = &cobra.Command{
	Use:   "run <batch-file>",
	Short: "Execute a batch file",
	Long: `Executes the planned actions in a YAML or JSON batch file and prints the
execution report as JSON.

Examples:
  actionflow run batch.yaml
  actionflow run --fake examples/project-with-issue.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <batch-file>",
	Short: "Print the execution strategy of a batch file",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	req, err := batchfile.LoadRequest(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, useFake)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.Execute(ctx, req)
	if resp != nil {
		if encErr := writeJSON(resp); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		var d *actionflow.DeadlockError
		if errors.As(err, &d) && len(d.Completed) > 0 {
			fmt.Fprintf(os.Stderr, "%d action(s) completed before the deadlock\n", len(d.Completed))
		}
		return err
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	req, err := batchfile.LoadRequest(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Classification never reaches the API.
	cfg.Recorder = actionflow.RecorderConfig{Driver: "memory"}
	cfg.Extractor.Mode = "rule"
	cfg.Events.Enabled = false

	a, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	mode, err := a.service.Classify(req.Actions)
	if err != nil {
		return err
	}
	fmt.Println(mode)
	return nil
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
