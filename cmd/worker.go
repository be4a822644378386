package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/rewards/internal/database"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that redelivers pending point awards and activity records and audits the scarcity ledger`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(a.db); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.DispatchInterval),
			gocron.NewTask(func() {
				start := time.Now()
				stats, err := a.dispatcher.DrainPending(ctx, cfg.Worker.BatchSize)
				if err != nil {
					log.Error().Err(err).Msg("Failed to drain notification outbox")
					return
				}
				if stats.Delivered+stats.Failed > 0 {
					log.Info().
						Int("delivered", stats.Delivered).
						Int("failed", stats.Failed).
						Dur("duration", time.Since(start)).
						Msg("Notification outbox drained")
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.AuditInterval),
			gocron.NewTask(func() {
				auditLedger(ctx, a)
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		log.Info().
			Dur("dispatch_interval", cfg.Worker.DispatchInterval).
			Dur("audit_interval", cfg.Worker.AuditInterval).
			Msg("Starting outbox dispatch and ledger audit jobs")
		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// auditLedger verifies every scarce item and halts the inconsistent ones
func auditLedger(ctx context.Context, a *app) {
	items, err := a.engine.ListItems(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list items for audit")
		return
	}

	inconsistent := 0
	for _, item := range items {
		v, err := a.engine.AuditItem(ctx, item.ItemID)
		if err != nil {
			log.Error().Err(err).Str("item_id", item.ItemID).Msg("Failed to verify item")
			continue
		}
		if !v.Consistent {
			inconsistent++
		}
	}

	log.Info().Int("items", len(items)).Int("inconsistent", inconsistent).Msg("Ledger audit completed")
}
