package main

import (
	"log/slog"
	"os"

	"github.com/eddynotadi/mosquito-hunter/internal/platform/database"

	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := commonRun()

			db, err := database.Connect(cmd.Context(), cfg.DBConnStr)
			if err != nil {
				slog.Error("Failed to connect to database", "err", err)
				os.Exit(1)
			}
			defer database.Close(db)

			if err := database.Migrate(cmd.Context(), db); err != nil {
				slog.Error("Migration failed", "err", err)
				os.Exit(1)
			}
			slog.Info("Migrations applied")
		},
	}
}
