package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/satisfy/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Rule     string // optional - filter to one rule id
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Rule     string        `json:"rule,omitempty"`
	Timeline []store.Entry `json:"timeline"`
	Stats    TraceStats    `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Registrations int `json:"registrations"`
	Disposals     int `json:"disposals"`
	Satisfactions int `json:"satisfactions"`
	// Live registrations have not been disposed.
	Live int `json:"live"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal timeline",
		Long: `Show what happened to rules, in the order the engine delivered it.

Every registration, disposal (with its reason) and satisfaction written
by "satisfy run --db" is listed by sequence number.

Examples:
  satisfy trace --db ./satisfy.db
  satisfy trace --db ./satisfy.db --rule survey-after-keyin
  satisfy trace --db ./satisfy.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "filter to one rule id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Open would create an empty journal; a missing file is a usage error.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	timeline, err := st.ReadTimeline(ctx, opts.Rule)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{
		Rule:     opts.Rule,
		Timeline: timeline,
		Stats:    computeTraceStats(timeline),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result)
}

func computeTraceStats(timeline []store.Entry) TraceStats {
	var stats TraceStats
	for _, e := range timeline {
		switch e.Kind {
		case store.EntryRegistered:
			stats.Registrations++
		case store.EntryDisposed:
			stats.Disposals++
		case store.EntrySatisfied:
			stats.Satisfactions++
		}
	}
	stats.Live = stats.Registrations - stats.Disposals
	return stats
}

func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{Status: "ok", Data: result})
}

func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	out := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		if result.Rule != "" {
			fmt.Fprintf(out, "No journal entries for rule: %s\n", result.Rule)
		} else {
			fmt.Fprintln(out, "Journal is empty")
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tKIND\tRULE\tGEN\tAT\tREASON")
	for _, e := range result.Timeline {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			e.Seq, e.Kind, e.RuleID, e.Generation,
			time.UnixMilli(e.At).UTC().Format(time.RFC3339Nano), e.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := result.Stats
	fmt.Fprintf(out, "\n%d registration(s), %d disposal(s), %d satisfaction(s), %d live\n",
		s.Registrations, s.Disposals, s.Satisfactions, s.Live)
	return nil
}
