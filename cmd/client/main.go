package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hersh/duotris/internal/config"
	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/netclient"
	"github.com/hersh/duotris/internal/session"
	"github.com/hersh/duotris/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "duotris",
	Short: "Play a best-of-N duotris match against another player",
	RunE:  runClient,
}

var (
	flagConfig  string
	flagRelay   string
	flagName    string
	flagRating  int
	flagBestOf  int
	flagCodec   string
	flagLogFile string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "YAML config file")
	flags.StringVar(&flagRelay, "relay", "", "relay websocket URL (overrides net.relayUrl)")
	flags.StringVar(&flagName, "name", "", "player name (defaults to OS username)")
	flags.IntVar(&flagRating, "rating", 0, "matchmaking rating")
	flags.IntVar(&flagBestOf, "best-of", 0, "games in the series")
	flags.StringVar(&flagCodec, "codec", "", "peer frame codec: json or msgpack")
	flags.StringVar(&flagLogFile, "log-file", "", "write logs here; logging is off otherwise")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flagRelay != "" {
		cfg.Net.RelayURL = flagRelay
	}
	if flagCodec != "" {
		cfg.Net.Codec = flagCodec
	}
	if flagLogFile != "" {
		cfg.Log.File = flagLogFile
	}
	if flags.Changed("rating") {
		cfg.Match.Rating = flagRating
	}
	if flags.Changed("best-of") {
		cfg.Match.BestOf = flagBestOf
	}
	switch {
	case flagName != "":
		cfg.Match.Name = flagName
	case os.Getenv("DUOTRIS_NAME") == "":
		if u, err := user.Current(); err == nil && u.Username != "" {
			cfg.Match.Name = u.Username
		}
	}
	cfg.Normalize()
	return cfg, nil
}

// newLogger logs to the configured file only; the terminal belongs to the TUI.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Log.File == "" {
		return zap.NewNop(), nil
	}
	return logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development, File: cfg.Log.File})
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := netclient.Dial(ctx, cfg.Net.RelayURL, log)
	if err != nil {
		return fmt.Errorf("connect to relay at %s: %w", cfg.Net.RelayURL, err)
	}
	defer client.Close()

	sess, err := session.New(session.Options{
		Config:  cfg,
		Relay:   client,
		NewPeer: session.PionPeers(cfg.Net.ICEServers),
		Logger:  log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return quiet(client.Run(ctx, sess.HandleRelay)) })
	g.Go(func() error {
		defer cancel()
		return quiet(sess.Run(ctx))
	})
	g.Go(func() error {
		defer cancel()
		p := tea.NewProgram(tui.NewModel(sess), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// quiet drops the error every component returns on shutdown.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
