package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/event"
	"github.com/syncline/syncline/internal/journal"
	"github.com/syncline/syncline/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	URL        string
	Database   string // optional - session journal path
	CatalogDir string // optional - defaults to the built-in catalog
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live sync session",
		Long: `Connect to a sync server and run the engine until interrupted.

The engine receives server frames over a websocket, classifies each one
against the (headless) user context, and logs every delivery. With --db,
all inputs and decisions are journaled for later trace and replay.

Examples:
  syncline run --url ws://localhost:8080/sync
  syncline run --url ws://localhost:8080/sync --db ./session.db --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "sync server websocket URL (required)")
	_ = cmd.MarkFlagRequired("url")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal inputs and decisions to this SQLite file")
	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "CUE catalog directory (defaults to built-in)")

	return cmd
}

// snapshotProxy breaks the construction cycle between the engine and
// the transport client: the engine needs the client as its snapshot
// requester, and the client needs the engine as its frame sink.
type snapshotProxy struct {
	client *transport.Client
}

func (p *snapshotProxy) RequestSnapshots() {
	if p.client != nil {
		p.client.RequestSnapshots()
	}
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cat, err := loadCatalogDir(opts.CatalogDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	engOpts := []engine.Option{}
	proxy := &snapshotProxy{}
	engOpts = append(engOpts, engine.WithSnapshotRequester(proxy))

	if opts.Database != "" {
		slog.Info("opening session journal", "path", opts.Database)
		j, err := journal.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()

		// A resumed journal must not reuse sequence numbers.
		last, err := j.LastSeq(cmd.Context())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		engOpts = append(engOpts,
			engine.WithRecorder(j),
			engine.WithClock(engine.NewClockAt(last)),
		)
	}

	eng := engine.New(cat, engOpts...)
	defer eng.Stop()
	eng.SetFallbackConsumer(func(ev event.CanonicalEvent, st engine.Strategy) {
		slog.Info("applied",
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
			"op", ev.Op,
			"strategy", st,
			"seq", ev.Seq,
		)
	})

	client := transport.NewClient(opts.URL, eng)
	proxy.client = client

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- client.Run(ctx) }()

	// The first exit wins; cancellation stops the other loop.
	err = <-errCh
	cancel()
	<-errCh

	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "session ended with error", err)
	}
	return nil
}
