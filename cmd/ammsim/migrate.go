package main

import (
	"context"
	"errors"
	"log"
	"time"

	"ammsim/internal/config"
	"ammsim/internal/observability"
	"ammsim/internal/persistence"

	"github.com/spf13/cobra"
)

func newMigrateCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate {up|down}",
		Short:     "Apply or roll back the embedded SQL migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.InMemory() {
				return errors.New("migrate needs --postgres-dsn or AMMSIM_POSTGRES_DSN")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := openPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			m := persistence.NewMigrator(db, nil,
				observability.NewLoggerWithLevel("migrator", observability.ParseLogLevel(cfg.LogLevel)))

			if args[0] == "down" {
				rolled, err := m.Down(ctx)
				if err != nil {
					return err
				}
				if rolled {
					log.Println("INFO: rolled back latest migration")
				} else {
					log.Println("INFO: no migrations to roll back")
				}
				return nil
			}

			applied, err := m.Up(ctx)
			if err != nil {
				return err
			}
			log.Printf("INFO: %d migrations applied", applied)
			return nil
		},
	}

	addCommonFlags(cmd.Flags())
	return cmd
}
