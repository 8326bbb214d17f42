package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/lexrag/internal/cli"
	"github.com/cloo-solutions/lexrag/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexrag",
		Short: "Lexrag CLI - ask questions about the legal corpus",
		Long: `Lexrag CLI streams answers from a lexragd server.

Environment variables:
  LEXRAG_SERVER_URL   Server base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("server", "", "Server base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.HealthCmd())
	rootCmd.AddCommand(client.HistoryCmd())
	rootCmd.AddCommand(client.ConfigCmd())

	if handled, err := cli.CheckHelpJSON(rootCmd, os.Args[1:]); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
