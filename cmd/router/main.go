// Command router runs the multi-broker order router and its maintenance tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/coachpo/multibroker/internal/infra/config"
)

const (
	defaultConfigPath = "config/app.yaml"
	defaultEnvFile    = ".env"
	loggerPrefix      = "router "
)

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "router",
		Short:         "Fan operator orders out to Dhan and Motilal accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "Dotenv file loaded before configuration; missing files are ignored")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSymbolsCommand(opts),
		newAccountsCommand(opts),
	)
	return cmd
}

// loadEnvFile exports a dotenv file without overriding variables already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("MULTIBROKER_CONFIG"); env != "" {
		return env
	}
	return filepath.Clean(defaultConfigPath)
}

func loadConfig(ctx context.Context, opts *rootOptions, logger *log.Logger) (config.AppConfig, error) {
	path := resolveConfigPath(opts.configPath)
	cfg, err := config.LoadOrDefault(ctx, path)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	logger.Printf("configuration initialised: path=%s env=%s brokers=%v directory=%s",
		path, cfg.Environment, cfg.BrokerNames(), cfg.Directory.Source)
	return cfg, nil
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}
