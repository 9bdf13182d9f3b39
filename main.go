package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/hersh/duotris/internal/config"
	"github.com/hersh/duotris/internal/session"
	"github.com/hersh/duotris/internal/tui"
)

// This is the standalone practice entry point.
// For matches, use:
//   Relay:  go run ./cmd/relay
//   Client: go run ./cmd/client --relay ws://localhost:8080/ws --name YourName

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	// nil relay = offline practice
	sess, err := session.New(session.Options{Config: cfg})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sess.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		p := tea.NewProgram(tui.NewModel(sess), tea.WithAltScreen())
		_, err := p.Run()
		return err
	})
	return g.Wait()
}
