package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coachpo/multibroker/internal/infra/persistence/migrations"
)

const defaultMigrateTimeout = 30 * time.Second

type migrateOptions struct {
	dsn     string
	dir     string
	timeout time.Duration
	quiet   bool
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the account directory schema",
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "database", "", "PostgreSQL DSN (defaults to database.dsn from config)")
	cmd.PersistentFlags().StringVar(&opts.dir, "path", "", "Directory containing SQL migrations (defaults to the embedded set)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultMigrateTimeout, "Maximum time to wait for database connectivity")
	cmd.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress informational logs")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel, dsn, logger, err := opts.prepare(cmd.Context(), root)
				if err != nil {
					return err
				}
				defer cancel()
				return migrations.Apply(ctx, dsn, opts.dir, logger)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the given number of migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := parseSteps(args)
				if err != nil {
					return err
				}
				ctx, cancel, dsn, logger, err := opts.prepare(cmd.Context(), root)
				if err != nil {
					return err
				}
				defer cancel()
				return migrations.Rollback(ctx, dsn, opts.dir, steps, logger)
			},
		},
	)
	return cmd
}

func (o *migrateOptions) prepare(parent context.Context, root *rootOptions) (context.Context, context.CancelFunc, string, *log.Logger, error) {
	var logger *log.Logger
	if !o.quiet {
		logger = log.New(os.Stdout, "router-migrate ", log.LstdFlags)
	}
	dsn := strings.TrimSpace(o.dsn)
	if dsn == "" {
		cfgLogger := logger
		if cfgLogger == nil {
			cfgLogger = log.New(io.Discard, "", 0)
		}
		cfg, err := loadConfig(parent, root, cfgLogger)
		if err != nil {
			return nil, nil, "", nil, err
		}
		dsn = cfg.Database.DSN
	}
	if dsn == "" {
		return nil, nil, "", nil, errors.New("--database flag is required")
	}
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	return ctx, cancel, dsn, logger, nil
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid down steps %q: %w", args[0], err)
	}
	return n, nil
}
