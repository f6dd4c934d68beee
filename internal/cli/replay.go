package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncline/syncline/internal/catalog"
	"github.com/syncline/syncline/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database   string
	CatalogDir string // optional - defaults to the built-in catalog
}

// ReplaySummary holds the replay command's JSON output.
type ReplaySummary struct {
	Inputs        int      `json:"inputs"`
	Decisions     int      `json:"decisions"`
	Deterministic bool     `json:"deterministic"`
	Divergences   []string `json:"divergences,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a session journal and verify determinism",
		Long: `Replay a journaled session and verify the engine is deterministic.

Feeds the journal's input stream (frames, hooks, conflict resolutions)
to a fresh engine and compares the decisions it makes against the
journaled decision stream, position by position.

A divergence means the engine or the catalog changed behavior since the
session was recorded.

Exit codes:
  0 - Replay reproduced the journaled decisions exactly
  1 - Divergences detected
  2 - Command error (journal not found, etc.)

Examples:
  syncline replay --db ./session.db
  syncline replay --db ./session.db --catalog ./catalog --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to session journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.CatalogDir, "catalog", "", "CUE catalog directory (defaults to built-in)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cat, err := loadCatalogDir(opts.CatalogDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	result, err := journal.Replay(ctx, j, cat)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	summary := ReplaySummary{
		Inputs:        result.Inputs,
		Decisions:     len(result.Expected),
		Deterministic: result.Deterministic(),
	}
	for _, d := range result.Divergences {
		summary.Divergences = append(summary.Divergences, d.String())
	}

	if formatter.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
		if !summary.Deterministic {
			return NewExitError(ExitFailure, "replay diverged from journal")
		}
		return nil
	}

	if summary.Deterministic {
		fmt.Fprintf(formatter.Writer, "✓ Deterministic (%d inputs, %d decisions)\n",
			summary.Inputs, summary.Decisions)
		return nil
	}

	fmt.Fprintf(formatter.Writer, "✗ Replay diverged (%d inputs, %d journaled decisions)\n",
		summary.Inputs, summary.Decisions)
	for _, div := range summary.Divergences {
		fmt.Fprintf(formatter.Writer, "  %s\n", div)
	}
	return NewExitError(ExitFailure, "replay diverged from journal")
}

// loadCatalogDir returns the built-in catalog when dir is empty.
func loadCatalogDir(dir string) (*catalog.Catalog, error) {
	if dir == "" {
		return catalog.Default(), nil
	}
	return catalog.CompileDir(dir)
}
