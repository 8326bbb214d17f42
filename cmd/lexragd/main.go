package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/lexrag/internal/cli"
	"github.com/cloo-solutions/lexrag/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexragd",
		Short: "Lexrag daemon and index tools",
		Long:  "Lexrag daemon for serving legal answers, running migrations and maintaining the document index",
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (overrides LEXRAG_DEBUG)")
	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.IndexCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if handled, err := cli.CheckHelpJSON(rootCmd, os.Args[1:]); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
