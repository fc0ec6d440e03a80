package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coachpo/multibroker/internal/infra/config"
	"github.com/coachpo/multibroker/internal/infra/symbols"
)

func newSymbolsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Maintain the local symbol master",
	}

	var url string
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Download the symbol master CSV and replace the local copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSymbolStore(cmd.Context(), root, func(ctx context.Context, cfg config.AppConfig, store *symbols.Store) error {
				opts := symbols.RefreshOptions{URL: cfg.Symbols.SourceURL, MaxRetries: cfg.Symbols.MaxRetries}
				if url != "" {
					opts.URL = url
				}
				if cfg.Symbols.RefreshTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, cfg.Symbols.RefreshTimeout)
					defer cancel()
				}
				n, err := store.Refresh(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d symbols\n", n)
				return nil
			})
		},
	}
	refresh.Flags().StringVar(&url, "url", "", "Override the configured source URL")

	importCmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Replace the local symbol master from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSymbolStore(cmd.Context(), root, func(ctx context.Context, _ config.AppConfig, store *symbols.Store) error {
				n, err := store.ImportFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d symbols\n", n)
				return nil
			})
		},
	}

	var exchange string
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the local symbol master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSymbolStore(cmd.Context(), root, func(ctx context.Context, _ config.AppConfig, store *symbols.Store) error {
				matches, err := store.Search(ctx, args[0], exchange)
				if err != nil {
					return err
				}
				for _, m := range matches {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.ID, m.Text)
				}
				return nil
			})
		},
	}
	search.Flags().StringVar(&exchange, "exchange", "", "Restrict results to one exchange")

	cmd.AddCommand(refresh, importCmd, search)
	return cmd
}

func withSymbolStore(ctx context.Context, root *rootOptions, fn func(context.Context, config.AppConfig, *symbols.Store) error) error {
	logger := newLogger()
	cfg, err := loadConfig(ctx, root, logger)
	if err != nil {
		return err
	}
	store, err := symbols.Open(cfg.Symbols.Path, symbols.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, cfg, store)
}
