package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/paranoia/internal/scan"
)

func newScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [packages...]",
		Short: "Predict from source whether the marker survives linking",
		Long: `scan builds the SSA form of the given main packages and runs rapid type
analysis from main, init and directive-rooted functions. Every reference to
the marker is reported with whether its enclosing function is reachable.`,
		Example: `  paranoia scan ./cmd/app                       # Scan one program
  paranoia scan --build-tags=integration ./...   # Scan with build tags
  paranoia scan --json ./cmd/...                 # JSON report`,
		RunE: runScan,
	}
	cmd.Flags().StringSliceVar(&cfg.BuildTags, "build-tags", nil, "Build tags to use during package loading")
	cmd.Flags().StringVar(&cfg.Dir, "dir", "", "Directory to load packages from")
	cmd.Flags().BoolVar(&cfg.Tests, "tests", false, "Include test variants of packages")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	slog.Info("loading packages", "patterns", args, "build_tags", cfg.BuildTags)

	pkgs, err := scan.LoadPackages(cmd.Context(), scan.LoaderOptions{
		Packages:  args,
		BuildTags: cfg.BuildTags,
		Dir:       cfg.Dir,
		Tests:     cfg.Tests,
	})
	if err != nil {
		return errWithCode(fmt.Errorf("loading packages: %w", err), exitError)
	}
	slog.Info("loaded packages", "count", len(pkgs))

	report, err := scan.NewScanner(scan.ScannerOptions{Symbol: cfg.Symbol}).Scan(pkgs)
	if err != nil {
		return errWithCode(fmt.Errorf("scanning packages: %w", err), exitError)
	}

	if err := writeScanReport(cmd, report); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	if !report.Retained {
		return errWithCode(nil, exitMarkerMissing)
	}
	return nil
}

type jScanOutput struct {
	*scan.Report
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func writeScanReport(cmd *cobra.Command, report *scan.Report) error {
	out := cmd.OutOrStdout()
	if cfg.JSON {
		data, err := json.MarshalIndent(jScanOutput{
			Report:    report,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling json output: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	_, err := fmt.Fprint(out, formatScanText(report, cfg.Dir))
	return err
}

func formatScanText(report *scan.Report, baseDir string) string {
	var output strings.Builder
	for _, w := range report.Warnings {
		fmt.Fprintf(&output, "warning: %s\n", w)
	}

	if len(report.CallSites) == 0 {
		fmt.Fprintf(&output, "no references to %s\n", report.Symbol)
	}
	for _, site := range report.CallSites {
		pos := site.Position
		if baseDir != "" {
			if rel, err := filepath.Rel(baseDir, pos.Filename); err == nil {
				pos.Filename = rel
			}
		}

		state := "retained"
		switch {
		case !site.Reachable:
			state = "unreachable"
		case !site.Live:
			state = "constant-false branch"
		}
		fmt.Fprintf(&output, "%s: %s in %s: %s", pos, site.Kind, site.Caller, state)
		if site.Directive != "" {
			fmt.Fprintf(&output, " (//%s)", site.Directive)
		}
		output.WriteByte('\n')
	}

	verdict := "eliminated"
	if report.Retained {
		verdict = "retained"
	}
	fmt.Fprintf(&output, "%s: %s\n", report.Symbol, verdict)
	return output.String()
}
