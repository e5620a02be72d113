package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/b3vet/swiftbase/internal/auth"
	"github.com/b3vet/swiftbase/internal/config"
	"github.com/b3vet/swiftbase/internal/engine"
	"github.com/b3vet/swiftbase/internal/logger"
	"github.com/b3vet/swiftbase/internal/realtime"
	"github.com/b3vet/swiftbase/internal/server"
	"github.com/b3vet/swiftbase/internal/store"
)

func serveCmd() *cobra.Command {
	var (
		addr   string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the swiftbase server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if dbPath != "" {
				cfg.Store.Path = dbPath
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file path (overrides config)")
	return cmd
}

func run(cfg config.Config) error {
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	registry := realtime.NewRegistry()
	dispatcher, err := realtime.NewDispatcher(registry, cfg.Realtime.DispatchWorkers, log)
	if err != nil {
		return err
	}
	hub := realtime.NewHub(registry, log)
	eng := engine.New(st, dispatcher, log)

	var validator auth.Validator
	if cfg.Auth.Secret != "" {
		validator = auth.NewHMACValidator([]byte(cfg.Auth.Secret))
	} else {
		log.Warn("no auth secret configured, requests are admitted unauthenticated")
	}

	srv := server.New(cfg.Server, st, eng, hub, validator, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("shutdown incomplete", "error", err)
	}
	dispatcher.Close()
	registry.Close()
	log.Info("server stopped")
	return nil
}
