package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// HealthReport mirrors the body of GET /health.
type HealthReport struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// HealthCmd creates the health command.
func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("json")
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			return runHealth(cmd.Context(), api, cmd.OutOrStdout(), outputJSON)
		},
	}
}

func runHealth(ctx context.Context, api *APIClient, out io.Writer, outputJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var report HealthReport
	if _, err := api.GetJSON(ctx, "/health", &report); err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "status: %s\n", report.Status)
		names := make([]string, 0, len(report.Checks))
		for name := range report.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			check := report.Checks[name]
			if check.Message != "" {
				fmt.Fprintf(out, "  %-12s %s (%s)\n", name, check.Status, check.Message)
			} else {
				fmt.Fprintf(out, "  %-12s %s\n", name, check.Status)
			}
		}
	}

	if report.Status == "unavailable" {
		return fmt.Errorf("server is unavailable")
	}
	return nil
}
