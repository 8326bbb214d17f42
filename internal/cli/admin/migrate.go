package admin

import (
	"context"

	"github.com/cloo-solutions/lexrag/internal/database"
	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending SQL migrations, then recreate vector columns whose dimension differs from LEXRAG_EMBEDDING_DIMENSIONS",
		RunE:  runMigrate,
	}
	cmd.Flags().String("source", database.DefaultMigrationsSource, "Migration source URL")
	return cmd
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := start(ctx, cmd)
	if err != nil {
		return err
	}
	defer b.close()

	source, _ := cmd.Flags().GetString("source")
	return b.migrate(ctx, source)
}
