package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specmem/specmem/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := pg.OpenDB(cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := pg.Migrate(db); err != nil {
				return err
			}
			fmt.Println("Migrations applied.")
			return nil
		},
	}
}
