package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sdko-org/analytics-dashboard/internal/tables"
	"github.com/spf13/cobra"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List the registered endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		return printEndpoints(cmd.OutOrStdout(), registry)
	},
}

func init() {
	rootCmd.AddCommand(endpointsCmd)
}

func printEndpoints(w io.Writer, registry *endpoint.Registry) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Key", "Method", "URL", "Table")

	for _, key := range registry.Keys() {
		d, err := registry.Resolve(key)
		if err != nil {
			return err
		}
		t.Row(d.Key, d.Method, d.URLTemplate, tables.For(d.Key, nil).Title)
	}

	_, err := fmt.Fprintln(w, t.String())
	return err
}
