package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/rewards/internal/api"
	"example.com/backstage/services/rewards/internal/database"
	"example.com/backstage/services/rewards/internal/services"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle redemption attempts and item administration`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	redemptions := services.NewRedemptionService(a.engine, a.dispatcher, a.tracer, a.metrics)

	server := api.NewServer(cfg, api.Dependencies{
		Redeemer:     redemptions,
		Items:        a.engine,
		Metrics:      a.metrics,
		Tracer:       a.tracer,
		HealthChecks: a.healthChecks(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return err
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Let background deliveries finish; the worker retries whatever is left
	redemptions.Wait()

	log.Info().Msg("API server stopped")
	return nil
}
