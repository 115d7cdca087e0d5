package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/example/mobility-matching/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the bookings schema to postgres.dsn",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is not set")
		}
		ps, err := storage.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		applied, err := ps.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range applied {
			log.Info().Str("migration", name).Msg("migration applied")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
