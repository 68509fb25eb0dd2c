package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/satisfy/internal/engine"
	"github.com/roach88/satisfy/internal/ir"
	"github.com/roach88/satisfy/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database      string
	FactsFile     string
	MetricsAddr   string
	ReferenceFact string
	Strict        bool
	UntilAll      bool
	Timeout       time.Duration

	// IDGenerator overrides registration ids (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rules-dir|rules.json>",
		Short: "Run rules and report satisfactions",
		Long: `Register rules with the engine and print each rule as it is satisfied.

Rules come from a directory of CUE files or a file written by
"satisfy compile --output". Facts are read from a YAML file; send
SIGHUP to re-read it and re-evaluate fact conditions.

Example:
  satisfy run --facts facts.yaml ./rules
  satisfy run --db ./satisfy.db --metrics-addr :9090 ./rules
  satisfy run --until-all --timeout 1m rules.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (optional)")
	cmd.Flags().StringVar(&opts.FactsFile, "facts", "", "path to YAML facts file")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.ReferenceFact, "reference-fact", engine.DefaultReferenceFact, "fact delay conditions measure from by default")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "reject rules with unknown condition types")
	cmd.Flags().BoolVar(&opts.UntilAll, "until-all", false, "exit once every rule has been satisfied")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop after this long (0 = no limit)")

	return cmd
}

func runEngine(opts *RunOptions, source string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.NewLogger(cmd.ErrOrStderr())

	rules, err := loadRuleSource(source)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err)
	}
	logger.Info("rules loaded", "source", source, "rules", len(rules))

	initial, err := LoadFacts(opts.FactsFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err)
	}
	facts := engine.NewFacts(initial)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithDelayReferenceFact(opts.ReferenceFact),
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Strict {
		engineOpts = append(engineOpts, engine.WithStrictConditionTypes())
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("opening journal: %w", err))
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithJournal(st))
	}

	eng := engine.New(facts, engineOpts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.MetricsAddr != "" {
		stop, err := serveMetrics(opts.MetricsAddr, reg, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidFlag, err)
		}
		defer stop()
	}

	printer := &satisfactionPrinter{formatter: formatter, pending: make(map[string]bool, len(rules))}
	for _, r := range rules {
		printer.pending[ir.NormalizeID(r.ID)] = true
	}
	unsubscribe := eng.OnRuleSatisfied(func(s engine.Satisfaction) {
		if printer.print(s) && opts.UntilAll {
			logger.Info("every rule satisfied")
			cancel()
		}
	})
	defer unsubscribe()

	if err := eng.SetRules(rules); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err)
	}

	// SIGINT/SIGTERM stop; SIGHUP re-reads facts.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					reloadFacts(opts.FactsFile, facts, eng, logger)
					continue
				}
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	formatter.VerboseLog("Engine started with %d rule(s). Press Ctrl-C to stop.", len(rules))

	runErr := eng.Run(ctx)

	// Close disposes the remaining rules; flush so the journal records it.
	eng.Close()
	eng.Flush(context.Background())

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	if opts.UntilAll && printer.remaining() > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d rule(s) not satisfied", printer.remaining()))
	}
	return nil
}

// loadRuleSource loads rules from a CUE directory or a compiled JSON file.
func loadRuleSource(source string) ([]ir.Rule, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("rules not found: %w", err)
	}
	if !info.IsDir() && filepath.Ext(source) == ".json" {
		return readRulesFile(source)
	}

	loadResult, loadErrors := LoadRules(source, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	return loadResult.Rules, nil
}

func reloadFacts(path string, facts *engine.Facts, eng *engine.Engine, logger *slog.Logger) {
	if path == "" {
		return
	}
	values, err := LoadFacts(path)
	if err != nil {
		logger.Error("reloading facts failed", "path", path, "error", err)
		return
	}
	facts.Merge(values)
	eng.RefreshFacts()
	logger.Info("facts reloaded", "path", path, "facts", len(values))
}

// serveMetrics starts the /metrics endpoint and returns a function that
// shuts it down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// satisfactionPrinter writes one line per satisfaction and tracks which
// rules are still outstanding.
type satisfactionPrinter struct {
	mu        sync.Mutex
	formatter *OutputFormatter
	pending   map[string]bool
}

// satisfactionLine is the JSON form of a printed satisfaction.
type satisfactionLine struct {
	Rule           string    `json:"rule"`
	RegistrationID string    `json:"registration_id"`
	SatisfiedAt    time.Time `json:"satisfied_at"`
	Payload        ir.Object `json:"payload,omitempty"`
}

// print reports s and returns true once no rule is outstanding.
func (p *satisfactionPrinter) print(s engine.Satisfaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.pending, s.Rule.ID)

	if p.formatter.Format == "json" {
		_ = json.NewEncoder(p.formatter.Writer).Encode(satisfactionLine{
			Rule:           s.Rule.ID,
			RegistrationID: s.RegistrationID,
			SatisfiedAt:    s.SatisfiedAt.UTC(),
			Payload:        s.Rule.Payload,
		})
	} else {
		fmt.Fprintf(p.formatter.Writer, "✓ %s satisfied at %s\n", s.Rule.ID, s.SatisfiedAt.UTC().Format(time.RFC3339))
	}

	return len(p.pending) == 0
}

func (p *satisfactionPrinter) remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
