package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hersh/duotris/internal/config"
	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/relay"
)

var rootCmd = &cobra.Command{
	Use:   "duotris-relay",
	Short: "Signaling and fallback relay for duotris matches",
	RunE:  runRelay,
}

var (
	flagConfig string
	flagAddr   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "YAML config file")
	flags.StringVar(&flagAddr, "addr", "", "listen address (overrides relay.addr)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Relay.Addr = flagAddr
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(cfg.Relay, log)
	srv := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("relay listening", zap.String("addr", cfg.Relay.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("relay stopped")
	return err
}
