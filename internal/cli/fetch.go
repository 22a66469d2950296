package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/endpoint"
	"github.com/sdko-org/analytics-dashboard/internal/tables"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <endpoint>",
	Short: "Fetch one endpoint and print it as a table",
	Long: `Fetch one endpoint through the query cache and print the formatted table.

Examples:
  dashboard fetch traffic
  dashboard fetch events -p site=example.com
  dashboard fetch pages --json`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var (
	fetchParams  []string
	fetchJSON    bool
	fetchTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringArrayVarP(&fetchParams, "param", "p", nil, "Request parameter as key=value (repeatable)")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "Print raw records as JSON")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "Give up after this long (defaults to FETCH_TIMEOUT)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	params, err := parseParams(fetchParams)
	if err != nil {
		return err
	}

	timeout := fetchTimeout
	if timeout <= 0 {
		timeout = cfg.FetchTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app, err := NewAppContext(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	res, err := app.Queries.Fetch(ctx, args[0], params)
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("fetching %s: %w", args[0], res.Error)
	}

	out := cmd.OutOrStdout()
	if fetchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Data)
	}
	return tables.Render(out, tables.For(res.Endpoint, res.Data), res.Data, res.LastFetchedAt)
}

// parseParams turns key=value pairs into string parameters.
func parseParams(pairs []string) (endpoint.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(endpoint.Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
