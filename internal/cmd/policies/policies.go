package policies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/memoric/memoric/internal/config"
	"github.com/memoric/memoric/internal/memory"
	storemetrics "github.com/memoric/memoric/internal/plugin/store/metrics"
	registrymigrate "github.com/memoric/memoric/internal/registry/migrate"
	registrystore "github.com/memoric/memoric/internal/registry/store"
	"github.com/memoric/memoric/internal/security"

	// Import store plugins to trigger init() registration.
	_ "github.com/memoric/memoric/internal/plugin/store/postgres"
	_ "github.com/memoric/memoric/internal/plugin/store/sqlite"
	_ "github.com/memoric/memoric/internal/plugin/textproc/external"
)

// Command returns the policies sub-command: a one-shot lifecycle sweep,
// useful from cron or for testing a policy file before deploying it.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "policies",
		Usage: "Run one lifecycle policy sweep across all users and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("MEMORIC_DB_KIND"),
				Destination: &cfg.DBKind,
				Value:       cfg.DBKind,
				Usage:       "Backend store (sqlite|postgres)",
			},
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("MEMORIC_DB_URL"),
				Destination: &cfg.DBURL,
				Value:       cfg.DBURL,
				Usage:       "Database connection URL",
			},
			&cli.StringFlag{
				Name:        "policy-file",
				Sources:     cli.EnvVars("MEMORIC_POLICY_FILE"),
				Destination: &cfg.PolicyFile,
				Usage:       "YAML file overriding lifecycle policy defaults",
			},
			&cli.DurationFlag{
				Name:        "policy-run-timeout",
				Sources:     cli.EnvVars("MEMORIC_POLICY_RUN_TIMEOUT"),
				Destination: &cfg.PolicyRunTimeout,
				Value:       cfg.PolicyRunTimeout,
				Usage:       "Upper bound on the sweep",
			},
			&cli.BoolFlag{
				Name:        "migrate-at-start",
				Sources:     cli.EnvVars("MEMORIC_DB_MIGRATE_AT_START"),
				Destination: &cfg.MigrateAtStart,
				Value:       cfg.MigrateAtStart,
				Usage:       "Run schema migrations before the sweep",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	security.InitMetrics(nil)

	if cfg.PolicyFile != "" {
		policyCfg, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load policy file: %w", err)
		}
		cfg.Policy = policyCfg
	}
	if err := cfg.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy configuration: %w", err)
	}

	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	storeLoader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	manager := memory.New(ctx, cfg, store)

	runCtx := ctx
	if cfg.PolicyRunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.PolicyRunTimeout)
		defer cancel()
	}

	start := time.Now()
	counts, err := manager.RunPolicies(runCtx)
	if err != nil {
		var timeout *registrystore.TimeoutError
		if !errors.As(err, &timeout) {
			return err
		}
		log.Warn("Sweep timed out before finishing; counts below are partial")
	}
	log.Info("Sweep finished", "elapsed", time.Since(start).Round(time.Millisecond))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(counts)
}
