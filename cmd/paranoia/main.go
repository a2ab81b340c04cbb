// Package main implements the CLI driver for paranoia.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/715d/paranoia/pkg/paranoia"
)

// Config holds all command-line configuration options.
type Config struct {
	Verbose   bool     // enables detailed output
	JSON      bool     // enables JSON output format
	Symbol    string   // the marker symbol to look for
	BuildTags []string // build tags to use during package loading
	Dir       string   // directory to load packages from
	Tests     bool     // also scan test binaries
}

const (
	exitMarkerMissing = 1
	exitError         = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(exitCode(err))
}

func newRootCommand() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "paranoia",
		Short: "Check whether marker calls survived dead code elimination",
		Long: `paranoia reports whether calls to marker.Mark survived the Go linker's
dead code elimination.

- check inspects built binaries for the marker symbol
- scan predicts the outcome from source using rapid type analysis`,
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("paranoia version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	// Define flags.
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&cfg.Symbol, "symbol", paranoia.Symbol, "Fully qualified marker symbol")

	rootCmd.AddCommand(newCheckCommand(), newScanCommand())
	return rootCmd
}

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if cfg.Symbol == "" {
		return errWithCode(errors.New("--symbol must not be empty"), exitError)
	}
	return nil
}

// exitCode maps an error returned by a command to the process exit status.
// Errors that carry no code are reported as exitError.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cErr codedError
	if errors.As(err, &cErr) {
		return cErr.code
	}
	return exitError
}

// errWithCode attaches an exit status to err. A nil err yields a silent
// failure carrying only the status.
func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error {
	return e.err
}
