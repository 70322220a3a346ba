package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/availability-orchestrator/internal/config"
	"github.com/example/availability-orchestrator/internal/interfaces/web"
	"github.com/example/availability-orchestrator/internal/metrics"
	"github.com/example/availability-orchestrator/internal/migrate"
	"github.com/example/availability-orchestrator/internal/scheduler"
)

func newServerCmd(v *viper.Viper) *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API and the regeneration sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrateUp {
				if _, err := migrate.Up(ctx, a.db, logger); err != nil {
					return err
				}
			}

			if err := a.detector.Hydrate(ctx); err != nil {
				return fmt.Errorf("hydrate stale flags: %w", err)
			}

			health := map[string]web.HealthCheck{
				"postgres": a.db.Ping,
				"ags": func(context.Context) error {
					if state := a.ags.State(); state == "open" {
						return fmt.Errorf("circuit %s", state)
					}
					return nil
				},
			}
			if a.redis != nil {
				health["redis"] = a.redis.Ping
			}

			srv := web.New(web.Options{
				Stale:       a.detector,
				Regen:       a.coord,
				Protector:   a.protector,
				Schedules:   a.schedules,
				Metrics:     metrics.Handler(a.registry),
				Health:      health,
				Location:    cfg.Location,
				HorizonDays: cfg.HorizonDays,
				Logger:      logger,
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx, cfg.ListenAddr) })
			revalidateInBackground(ctx, g, a.detector, logger)
			if cfg.AutoRegenerate {
				sweeper := &scheduler.Scheduler{
					Stale:       a.detector,
					Regen:       a.coord,
					Interval:    cfg.SweepInterval,
					HorizonDays: cfg.HorizonDays,
					Location:    cfg.Location,
					Logger:      logger,
				}
				g.Go(func() error {
					if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
						return err
					}
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().String("listen-addr", "", "HTTP listen address (env LISTEN_ADDR)")
	cmd.Flags().Bool("auto-regenerate", false, "regenerate stale restaurants on a timer (env AUTO_REGENERATE)")
	_ = v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen-addr"))
	_ = v.BindPFlag(config.KeyAutoRegenerate, cmd.Flags().Lookup("auto-regenerate"))

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

type revalidator interface {
	Revalidate(ctx context.Context) error
}

// revalidateInBackground self-heals hydrated stale flags on g while reads
// are already served. Its failures are logged and never stop the group.
func revalidateInBackground(ctx context.Context, g *errgroup.Group, r revalidator, logger *zap.Logger) {
	g.Go(func() error {
		if err := r.Revalidate(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("revalidate stale flags", zap.Error(err))
		}
		return nil
	})
}
