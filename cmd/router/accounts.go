package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachpo/multibroker/internal/domain/schema"
	"github.com/coachpo/multibroker/internal/infra/directory/file"
	"github.com/coachpo/multibroker/internal/infra/persistence/postgres"
)

func newAccountsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the account directory",
	}
	var from string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Copy file-based clients and groups into PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			cfg, err := loadConfig(ctx, root, logger)
			if err != nil {
				return err
			}
			src := from
			if src == "" {
				src = cfg.Directory.Path
			}
			mem, err := file.Load(src, logger)
			if err != nil {
				return err
			}
			pool, err := connectDatabase(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			accounts, groups := mem.Snapshot()
			n, err := copyDirectory(ctx, postgres.New(pool).Accounts(), accounts, groups)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d accounts and %d groups\n", n, len(groups))
			return nil
		},
	}
	importCmd.Flags().StringVar(&from, "from", "", "Directory root to read (defaults to directory.path)")
	cmd.AddCommand(importCmd)
	return cmd
}

type directoryWriter interface {
	SaveAccount(ctx context.Context, record schema.AccountRecord) error
	SaveGroup(ctx context.Context, group schema.Group) error
}

func copyDirectory(ctx context.Context, store directoryWriter, accounts []schema.AccountRecord, groups []schema.Group) (int, error) {
	for _, account := range accounts {
		if err := store.SaveAccount(ctx, account); err != nil {
			return 0, fmt.Errorf("save account %s: %w", account.ID, err)
		}
	}
	for _, group := range groups {
		if err := store.SaveGroup(ctx, group); err != nil {
			return 0, fmt.Errorf("save group %s: %w", group.ID, err)
		}
	}
	return len(accounts), nil
}
