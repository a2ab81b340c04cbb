package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/715d/paranoia/internal/symtab"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <binary>...",
		Short: "Report whether built binaries contain the marker symbol",
		Example: `  paranoia check ./bin/app             # Check one binary
  paranoia check --json bin/*          # JSON report for several binaries`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCheck,
	}
}

// BinaryResult is the check outcome for a single binary.
type BinaryResult struct {
	Path    string        `json:"path"`
	Format  symtab.Format `json:"format,omitempty"`
	Present bool          `json:"present"`
	Source  symtab.Source `json:"source,omitempty"`
	Addr    uint64        `json:"addr,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	slog.Info("checking binaries", "binaries", args, "symbol", cfg.Symbol)

	results, err := checkBinaries(cmd.Context(), args, cfg.Symbol)
	if err != nil {
		// Still report the binaries that could be read.
		slog.Warn("some binaries could not be checked", "error", err)
	}

	if werr := writeCheckResults(cmd, results); werr != nil {
		return errWithCode(fmt.Errorf("format results: %w", werr), exitError)
	}
	if err != nil {
		return errWithCode(err, exitError)
	}

	for _, r := range results {
		if !r.Present {
			return errWithCode(nil, exitMarkerMissing)
		}
	}
	return nil
}

// checkBinaries opens every binary concurrently and looks up symbol. Results
// are returned in argument order; failures are joined into the error.
func checkBinaries(ctx context.Context, paths []string, symbol string) ([]BinaryResult, error) {
	results := make([]BinaryResult, len(paths))
	errs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[idx] = BinaryResult{Path: path}

			start := time.Now()
			img, err := symtab.OpenImage(path)
			if err != nil {
				results[idx].Error = err.Error()
				errs[idx] = err
				return nil
			}
			results[idx].Format = img.Format
			if loc, ok := img.Lookup(symbol); ok {
				results[idx].Present = true
				results[idx].Source = loc.Source
				results[idx].Addr = loc.Addr
			}
			slog.Debug("checked binary", "path", path, "present", results[idx].Present, "dur", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}

type jCheckOutput struct {
	Symbol    string         `json:"symbol"`
	Binaries  []BinaryResult `json:"binaries"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
}

func writeCheckResults(cmd *cobra.Command, results []BinaryResult) error {
	out := cmd.OutOrStdout()
	if cfg.JSON {
		data, err := json.MarshalIndent(jCheckOutput{
			Symbol:    cfg.Symbol,
			Binaries:  results,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling json output: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	_, err := fmt.Fprint(out, formatCheckText(results))
	return err
}

func formatCheckText(results []BinaryResult) string {
	var output strings.Builder
	for _, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(&output, "%s: error: %s\n", r.Path, r.Error)
		case r.Present:
			fmt.Fprintf(&output, "%s: present (%s)\n", r.Path, r.Source)
		default:
			fmt.Fprintf(&output, "%s: eliminated\n", r.Path)
		}
	}
	return output.String()
}
