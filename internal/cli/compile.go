package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/satisfy/internal/compiler"
	"github.com/roach88/satisfy/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the compiled rule set, as written by --output and
// read back by run.
type CompilationResult struct {
	SchemaVersion string         `json:"schema_version"`
	Rules         []CompiledRule `json:"rules"`
}

// CompiledRule pairs a rule with its content hash.
type CompiledRule struct {
	Rule ir.Rule `json:"rule"`
	Hash string  `json:"hash"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile CUE rules to canonical JSON",
		Long: `Compile CUE rule definitions to the JSON rule format.

Each rule is written with its content hash, the same hash the engine uses
to decide whether a re-registered rule has changed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadRules(rulesDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result, err := buildCompilationResult(loadResult.Rules)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error())
	}
	for _, cr := range result.Rules {
		formatter.VerboseLog("Compiled rule: %s (%s)", cr.Rule.ID, cr.Hash)
	}

	if opts.Output != "" {
		if err := writeRulesFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func buildCompilationResult(rules []ir.Rule) (*CompilationResult, error) {
	result := &CompilationResult{
		SchemaVersion: ir.SchemaVersion,
		Rules:         make([]CompiledRule, 0, len(rules)),
	}
	for _, rule := range rules {
		hash, err := ir.RuleHash(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		result.Rules = append(result.Rules, CompiledRule{Rule: rule, Hash: hash})
	}
	return result, nil
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d rule(s)\n\n", len(result.Rules))

	for _, cr := range result.Rules {
		fmt.Fprintf(formatter.Writer, "  %s: %d condition(s) %s\n",
			cr.Rule.ID, len(cr.Rule.Conditions), conditionTypes(cr.Rule))
	}
	fmt.Fprintln(formatter.Writer)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote rules to %s\n", outputFile)
	}

	return nil
}

func conditionTypes(rule ir.Rule) []string {
	types := make([]string, len(rule.Conditions))
	for i, c := range rule.Conditions {
		types[i] = c.Type
	}
	return types
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeRulesFile writes the compilation result as indented JSON.
// Canonical JSON without indentation is used only for hashing.
func writeRulesFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}

// readRulesFile reads a file written by compile --output. Hashes are
// checked so a hand-edited file is caught before it reaches the engine.
func readRulesFile(filename string) ([]ir.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var result CompilationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if result.SchemaVersion != ir.SchemaVersion {
		return nil, fmt.Errorf("rules file schema version %q, want %q", result.SchemaVersion, ir.SchemaVersion)
	}

	rules := make([]ir.Rule, 0, len(result.Rules))
	for _, cr := range result.Rules {
		hash, err := ir.RuleHash(cr.Rule)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", cr.Rule.ID, err)
		}
		if cr.Hash != "" && cr.Hash != hash {
			return nil, fmt.Errorf("rule %q: hash mismatch (file %s, computed %s)", cr.Rule.ID, cr.Hash, hash)
		}
		rules = append(rules, cr.Rule)
	}
	return rules, nil
}
