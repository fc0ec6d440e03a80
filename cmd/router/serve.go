package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout              = 30 * time.Second
	controlServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout     = 10 * time.Second
	runtimeShutdownTimeout       = 5 * time.Second
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), root)
		},
	}
}

func serve(parent context.Context, root *rootOptions) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	logger := newLogger()

	cfg, err := loadConfig(ctx, root, logger)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { ensureSymbols(ctx, rt) })
	lifecycle.Go(func() { warmSessions(ctx, rt) })

	apiServer := rt.apiServer()
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("control API listening on %s", apiServer.Addr)

	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		runtime:    rt,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
	return nil
}

func ensureSymbols(ctx context.Context, rt *runtime) {
	if rt.cfg.Symbols.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.Symbols.RefreshTimeout)
		defer cancel()
	}
	if err := rt.symbols.EnsureLoaded(ctx, rt.refreshOptions()); err != nil {
		rt.logger.Printf("symbol master not loaded; lot sizes default to 1: %v", err)
	}
}

func warmSessions(ctx context.Context, rt *runtime) {
	if err := rt.service.Warm(ctx, rt.cfg.Dispatch.WarmWorkers); err != nil {
		rt.logger.Printf("session warm-up: %v", err)
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("control server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	runtime    *runtime
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", controlServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.runtime != nil {
		shutdownStep("closing runtime", runtimeShutdownTimeout, cfg.runtime.close)
	}
}
