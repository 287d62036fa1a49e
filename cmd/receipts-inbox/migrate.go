package main

import (
	"github.com/spf13/cobra"

	repo "github.com/joseph-ayodele/receipts-inbox/internal/repository"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return repo.Migrate(a.db, a.logger)
		},
	}
}
