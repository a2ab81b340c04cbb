// Package harness builds scenario programs under several build configurations
// and checks the marker verdict each binary reports about itself.
package harness

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/paranoia/internal/scan"
	"github.com/715d/paranoia/internal/symtab"
	"github.com/715d/paranoia/pkg/paranoia"
)

// BuildConfiguration represents a single build configuration to test.
type BuildConfiguration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// BuildTags are the build tags to use when building.
	BuildTags []string `yaml:"build_tags"`

	// GCFlags is passed to go build as -gcflags.
	GCFlags string `yaml:"gcflags,omitempty"`

	// LDFlags is passed to go build as -ldflags.
	LDFlags string `yaml:"ldflags,omitempty"`

	// Trimpath builds with -trimpath.
	Trimpath bool `yaml:"trimpath,omitempty"`

	// BuildMode is passed to go build as -buildmode.
	BuildMode string `yaml:"buildmode,omitempty"`

	// GOOS and GOARCH restrict the configuration to the listed platforms.
	// Empty lists match every platform.
	GOOS   []string `yaml:"goos,omitempty"`
	GOARCH []string `yaml:"goarch,omitempty"`

	// EnableCGo indicates whether CGo should be enabled.
	EnableCGo bool `yaml:"enable_cgo"`

	// ExpectPresent is the verdict the binary must report. When unset, any
	// verdict is accepted but every way of obtaining it must still agree.
	ExpectPresent *bool `yaml:"expect_present"`
}

// TestCase represents a single scenario.
type TestCase struct {
	// Dir is the directory containing the scenario, relative to testdata.
	Dir string `yaml:"-"`

	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`

	// BuildConfigurations defines the build configurations to test.
	BuildConfigurations []BuildConfiguration `yaml:"build_configurations"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// scanner predicts the verdict from source.
	scanner *scan.Scanner

	// root is the testdata directory.
	root string

	// moduleRoot is the directory go build runs in.
	moduleRoot string
}

// NewHarness creates a new test harness for the testdata directory root,
// which must sit at the top of the module.
func NewHarness(root string) *TestHarness {
	return &TestHarness{
		scanner:    scan.NewScanner(scan.ScannerOptions{}),
		root:       root,
		moduleRoot: filepath.Dir(root),
	}
}

// ConfigurationResult represents the result of running a single build configuration.
type ConfigurationResult struct {
	// Configuration is the build configuration that was run.
	Configuration BuildConfiguration

	// Verdict is what the binary reported about itself.
	Verdict Verdict

	// OnDisk is whether the marker was found by reading the binary from
	// outside the process.
	OnDisk bool

	// Predicted is the static scan's prediction, if one was made.
	Predicted *bool

	// Success indicates if this configuration passed.
	Success bool

	// Skipped indicates the configuration could not run here.
	Skipped bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each build configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Skipped indicates if every configuration was skipped.
	Skipped bool

	// Message provides a summary of the result.
	Message string
}

// Run executes a test case with all its build configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.BuildConfigurations, "test case has no build configurations")

	var results []ConfigurationResult
	allSuccess, allSkipped := true, true

	for _, cfg := range tc.BuildConfigurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Skipped {
			allSkipped = false
		}
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	// Create overall result message.
	var resultMsg string
	switch {
	case allSkipped:
		resultMsg = results[0].Message
	case allSuccess:
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.BuildConfigurations))
	default:
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.BuildConfigurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Skipped:              allSkipped,
		Message:              resultMsg,
	}
}

// runConfiguration builds and runs the scenario for a single build configuration.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg BuildConfiguration) *ConfigurationResult {
	t.Helper()
	if reason := cfg.skipReason(); reason != "" {
		return &ConfigurationResult{
			Configuration: cfg,
			Success:       true,
			Skipped:       true,
			Message:       reason,
		}
	}

	buildCfg := &BuildConfig{
		ModuleRoot: h.moduleRoot,
		Package:    "./" + filepath.ToSlash(filepath.Join(filepath.Base(h.root), tc.Dir)),
		Output:     filepath.Join(t.TempDir(), "scenario"),
		BuildTags:  cfg.BuildTags,
		GCFlags:    cfg.GCFlags,
		LDFlags:    cfg.LDFlags,
		Trimpath:   cfg.Trimpath,
		BuildMode:  cfg.BuildMode,
		EnableCGo:  cfg.EnableCGo,
	}
	bin := BuildBinary(t, buildCfg)

	result := &ConfigurationResult{
		Configuration: cfg,
		Verdict:       RunBinary(t, bin),
	}

	img, err := symtab.OpenImage(bin)
	require.NoError(t, err)
	_, result.OnDisk = img.Lookup(paranoia.Symbol)

	// Compiler flags do not change the source-level prediction, so it is
	// only checked where the verdict is pinned down.
	if cfg.ExpectPresent != nil {
		pkgs, err := scan.LoadPackages(t.Context(), scan.LoaderOptions{
			Packages:  []string{buildCfg.Package},
			BuildTags: cfg.BuildTags,
			Dir:       h.moduleRoot,
			Env:       buildCfg.Environ(),
		})
		require.NoError(t, err)
		report, err := h.scanner.Scan(pkgs)
		require.NoError(t, err)
		result.Predicted = &report.Retained
	}

	validateConfigurationResult(result)
	return result
}

// validateConfigurationResult compares the observed verdicts with each
// other and with the expectation.
func validateConfigurationResult(result *ConfigurationResult) {
	cfg := result.Configuration
	var details []string

	if result.Verdict.Present != result.OnDisk {
		details = append(details, fmt.Sprintf(
			"in-process verdict %t disagrees with on-disk lookup %t",
			result.Verdict.Present, result.OnDisk))
	}

	if cfg.ExpectPresent != nil && result.Verdict.Present != *cfg.ExpectPresent {
		details = append(details, fmt.Sprintf(
			"expected present=%t, binary reported %t (source %q)",
			*cfg.ExpectPresent, result.Verdict.Present, result.Verdict.Source))
	}

	if cfg.ExpectPresent != nil && result.Predicted != nil && *result.Predicted != *cfg.ExpectPresent {
		details = append(details, fmt.Sprintf(
			"static scan predicted retained=%t, expected %t",
			*result.Predicted, *cfg.ExpectPresent))
	}

	result.Details = details
	result.Success = len(details) == 0
	if result.Success {
		result.Message = fmt.Sprintf("present=%t", result.Verdict.Present)
	} else {
		result.Message = fmt.Sprintf("Test failed: %d mismatches", len(details))
	}
}
