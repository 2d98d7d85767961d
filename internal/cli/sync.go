package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"examprep-sync-service/internal/app"
	"examprep-sync-service/internal/config"
	"examprep-sync-service/internal/infra/postgres"
	"examprep-sync-service/internal/infra/sqlite"
)

// NewSyncCmd builds the CLI subcommand that runs one coordinator pass:
// drain the pending-result queue, refresh the question bank, reconcile the
// profile mirror.
func NewSyncCmd(configPath *string) *cobra.Command {
	var userID, licenseID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), *configPath, userID, licenseID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "authenticated user ID")
	cmd.Flags().StringVar(&licenseID, "license", "", "license whose bank to refresh (defaults to the cached preference)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runSync(ctx context.Context, configPath, userID, licenseID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if cfg.SQLite.Path == "" {
		return fmt.Errorf("sqlite path not configured")
	}

	cache, err := sqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer cache.Close()

	if licenseID == "" {
		pref, ok, err := cache.LicensePreference(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no license given and none cached")
		}
		licenseID = pref
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	remote := postgres.NewRemoteStore(pool)
	phaseTimeout := config.TTLDuration(cfg.Sync.PhaseTimeout, 30*time.Second)
	coordinator := app.NewSyncCoordinator(remote, cache, cache, cache, userID, licenseID, phaseTimeout)

	report := coordinator.RunOnce(ctx)
	log.Printf("sync: drained=%d drainErr=%v bankErr=%v profile=%s profileErr=%v",
		report.Drained, report.DrainErr, report.BankErr, report.Profile, report.ProfileErr)
	return nil
}
