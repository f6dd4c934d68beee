package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncline/syncline/internal/engine"
	"github.com/syncline/syncline/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Entity   string // optional - filter decisions to one entity type
}

// TraceStats holds summary statistics for a journaled session.
type TraceStats struct {
	Inputs      int `json:"inputs"`
	Frames      int `json:"frames"`
	Hooks       int `json:"hooks"`
	Resolutions int `json:"resolutions"`
	Decisions   int `json:"decisions"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Inputs    []journal.Input   `json:"inputs"`
	Decisions []engine.Decision `json:"decisions"`
	Stats     TraceStats        `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Dump a session journal's inputs and decisions",
		Long: `Dump the timeline of a journaled session.

Shows every input (server frames, UI hooks, conflict resolutions) in
sequence order, followed by the strategy decision stream, and summary
statistics. An event deferred and later flushed appears twice in the
decision stream, once per phase.

Examples:
  syncline trace --db ./session.db
  syncline trace --db ./session.db --entity tracker
  syncline trace --db ./session.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to session journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "filter decisions to one entity type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
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

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	inputs, err := j.ReadInputs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read inputs", err)
	}
	decisions, err := j.ReadDecisions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read decisions", err)
	}

	if opts.Entity != "" {
		var filtered []engine.Decision
		for _, d := range decisions {
			if d.EntityType == opts.Entity {
				filtered = append(filtered, d)
			}
		}
		decisions = filtered
	}

	result := TraceResult{
		Inputs:    inputs,
		Decisions: decisions,
		Stats:     traceStats(inputs, decisions),
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "Inputs:")
	for _, in := range result.Inputs {
		fmt.Fprintf(formatter.Writer, "  %4d  %s\n", in.Seq, formatInput(in))
	}

	fmt.Fprintln(formatter.Writer, "\nDecisions:")
	for _, d := range result.Decisions {
		line := fmt.Sprintf("  %4d  %s/%s %s -> %s (%s)",
			d.Seq, d.EntityType, d.EntityID, d.Op, d.Strategy, d.Phase)
		if d.Outcome != "" {
			line += fmt.Sprintf(" outcome=%s", d.Outcome)
		}
		fmt.Fprintln(formatter.Writer, line)
	}

	s := result.Stats
	fmt.Fprintf(formatter.Writer, "\n%d inputs (%d frames, %d hooks, %d resolutions), %d decisions\n",
		s.Inputs, s.Frames, s.Hooks, s.Resolutions, s.Decisions)
	return nil
}

func formatInput(in journal.Input) string {
	switch in.Kind {
	case journal.InputFrame:
		return fmt.Sprintf("frame %s", in.Frame.Type)
	case journal.InputHook:
		if len(in.Detail) > 0 {
			return fmt.Sprintf("hook %s %v", in.HookKind, in.Detail)
		}
		return fmt.Sprintf("hook %s", in.HookKind)
	case journal.InputResolution:
		return fmt.Sprintf("resolution %s -> %s", in.ConflictID, in.Outcome)
	default:
		return string(in.Kind)
	}
}

func traceStats(inputs []journal.Input, decisions []engine.Decision) TraceStats {
	stats := TraceStats{Inputs: len(inputs), Decisions: len(decisions)}
	for _, in := range inputs {
		switch in.Kind {
		case journal.InputFrame:
			stats.Frames++
		case journal.InputHook:
			stats.Hooks++
		case journal.InputResolution:
			stats.Resolutions++
		}
	}
	return stats
}
