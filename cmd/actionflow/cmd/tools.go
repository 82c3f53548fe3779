package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCategory string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the generated tools",
	Long: `Lists every tool generated from the catalog with its kind and parameters.

Examples:
  actionflow tools
  actionflow tools --category workitems`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().StringVar(&toolsCategory, "category", "", "only list tools of this category")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Recorder.Driver = "memory"
	cfg.Extractor.Mode = "rule"
	cfg.Events.Enabled = false

	a, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tKIND\tPARAMETERS")
	for _, t := range a.registry.Tools() {
		meta := t.Metadata()
		if toolsCategory != "" && string(meta.Category) != toolsCategory {
			continue
		}
		params := make([]string, 0, len(meta.Parameters))
		for _, p := range meta.Parameters {
			if p.AutoFillFromContext {
				continue
			}
			name := p.Name
			if p.Optional() {
				name += "?"
			}
			params = append(params, name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", meta.Name, meta.Kind, strings.Join(params, ", "))
	}
	return w.Flush()
}
