package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/signalgate/internal/config"
	applog "github.com/sawpanic/signalgate/internal/log"
)

const appName = "SignalGate"

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "v0.4.0"

var (
	configPath string
	envFile    string
	logLevel   string

	appConfig *config.AppConfig
	logCloser io.Closer
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "signalgate",
		Short:   "Signal ingestion, sandbox and kernel gateway",
		Version: version,
		Long: `SignalGate accepts trading signals from producers, scores and audits them,
gates live execution per user and tier, and fronts the trading kernel's
health and command surface.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/signalgate.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKernelCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// the root pre-run loads config, which version does not need
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	})

	return rootCmd
}

// setup loads .env, the YAML config and env overrides, applies flag
// overrides, validates, then configures logging
func setup(cmd *cobra.Command, args []string) error {
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cfg, cmd.Flags()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	closer, err := applog.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	appConfig = cfg
	logCloser = closer
	return nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
// Flags left at their defaults never override file or env values.
func applyFlagOverrides(cfg *config.AppConfig, flags *pflag.FlagSet) error {
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if flags.Lookup("host") != nil && flags.Changed("host") {
		host, err := flags.GetString("host")
		if err != nil {
			return err
		}
		cfg.Server.Host = host
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return err
		}
		cfg.Server.Port = port
	}
	if flags.Lookup("kernel-url") != nil && flags.Changed("kernel-url") {
		url, err := flags.GetString("kernel-url")
		if err != nil {
			return err
		}
		cfg.Kernel.BaseURL = url
	}
	if flags.Lookup("redis-addr") != nil && flags.Changed("redis-addr") {
		addr, err := flags.GetString("redis-addr")
		if err != nil {
			return err
		}
		cfg.Kernel.Redis.Addr = addr
	}
	return nil
}
