package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/rewards/config"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Limited-edition reward redemption service",
	Long: `Rewards redeems scanned payloads for catalog items and allocates
numbered limited-edition collectibles without ever exceeding their supply.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the configuration and applies its logging settings
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".", cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg)
	return cfg, nil
}

// setupLogging picks the level from the flag, LOG_LEVEL or the config file,
// in that order. JSON output is used unless running in development.
func setupLogging(cfg config.Config) {
	level := logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = cfg.Logging.Level
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
		zerolog.SetGlobalLevel(parsed)
	}

	if cfg.Environment == "development" || cfg.Logging.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "rewards").Logger()
	}
}
