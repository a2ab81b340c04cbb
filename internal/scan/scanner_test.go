package scan

import (
	"go/token"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"

	"github.com/715d/paranoia/pkg/paranoia"
)

func moduleRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

func scanTestdata(t *testing.T, dir string, tags ...string) *Report {
	t.Helper()
	if testing.Short() {
		t.Skip("loads packages with the go command")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go command not available")
	}

	pkgs, err := LoadPackages(t.Context(), LoaderOptions{
		Packages:  []string{"./testdata/" + dir},
		BuildTags: tags,
		Dir:       moduleRoot(t),
	})
	require.NoError(t, err)

	report, err := NewScanner(ScannerOptions{}).Scan(pkgs)
	require.NoError(t, err)
	require.Equal(t, paranoia.Symbol, report.Symbol)
	return report
}

func TestNewScanner_DefaultSymbol(t *testing.T) {
	require.Equal(t, paranoia.Symbol, NewScanner(ScannerOptions{}).opts.Symbol)
	require.Equal(t, "x.Y", NewScanner(ScannerOptions{Symbol: "x.Y"}).opts.Symbol)
}

func TestScanner_InvalidInput(t *testing.T) {
	tests := []struct {
		name          string
		pkgs          []*packages.Package
		errorContains string
	}{
		{name: "empty", pkgs: nil, errorContains: "no packages"},
		{name: "nil_package", pkgs: []*packages.Package{nil}, errorContains: "no valid packages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScanner(ScannerOptions{}).Scan(tt.pkgs)
			require.ErrorContains(t, err, tt.errorContains)
		})
	}
}

func TestScanner_Scan(t *testing.T) {
	tests := []struct {
		dir          string
		tags         []string
		wantRetained bool
		wantSites    []CallSite
	}{
		{
			dir:          "const-true",
			wantRetained: true,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/const-true.main", Kind: KindCall, Reachable: true, Live: true},
			},
		},
		{
			dir:          "const-false",
			wantRetained: false,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/const-false.main", Kind: KindCall, Reachable: true, Live: false},
			},
		},
		{
			dir:          "runtime-condition",
			wantRetained: true,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/runtime-condition.main", Kind: KindCall, Reachable: true, Live: true},
			},
		},
		{
			dir:          "unreferenced-helper",
			wantRetained: false,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/unreferenced-helper.neverCalled", Kind: KindCall, Reachable: false, Live: true},
			},
		},
		{
			dir:          "const-false-helper",
			wantRetained: false,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/const-false-helper.emit", Kind: KindCall, Reachable: false, Live: true},
			},
		},
		{
			dir:          "interface-call",
			wantRetained: true,
			wantSites: []CallSite{
				{Caller: "(github.com/715d/paranoia/testdata/interface-call.markerEmitter).emit", Kind: KindCall, Reachable: true, Live: true},
			},
		},
		{
			dir:          "build-tag-feature",
			wantRetained: false,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/build-tag-feature.main", Kind: KindCall, Reachable: true, Live: false},
			},
		},
		{
			dir:          "build-tag-feature",
			tags:         []string{"paranoia_feature"},
			wantRetained: true,
			wantSites: []CallSite{
				{Caller: "github.com/715d/paranoia/testdata/build-tag-feature.main", Kind: KindCall, Reachable: true, Live: true},
			},
		},
	}

	for _, tt := range tests {
		name := tt.dir
		if len(tt.tags) > 0 {
			name += "+tags"
		}
		t.Run(name, func(t *testing.T) {
			report := scanTestdata(t, tt.dir, tt.tags...)
			require.Equal(t, tt.wantRetained, report.Retained)
			require.Empty(t, report.Warnings, "marker declaration is well-formed")
			require.Contains(t, report.Roots, "github.com/715d/paranoia/testdata/"+tt.dir+".main")

			// Positions depend on the checkout location.
			got := make([]CallSite, len(report.CallSites))
			for i, site := range report.CallSites {
				require.Equal(t, "main.go", filepath.Base(site.Position.Filename))
				site.Position = token.Position{}
				got[i] = site
			}
			require.Equal(t, tt.wantSites, got)
		})
	}
}

func TestDedupeSites(t *testing.T) {
	pos := token.Position{Filename: "main.go", Line: 10, Column: 3}
	sites := []CallSite{
		{Caller: "p.f", Position: token.Position{Filename: "main.go", Line: 20}, Kind: KindCall},
		{Caller: "p.f", Position: pos, Kind: KindCall, Reachable: false, Live: true},
		{Caller: "p.f", Position: pos, Kind: KindCall, Reachable: true, Live: true},
	}

	got := dedupeSites(sites)
	require.Len(t, got, 2)
	require.Equal(t, 10, got[0].Position.Line)
	require.True(t, got[0].Retained(), "a copy of the site reachable from a test variant counts")
	require.Equal(t, 20, got[1].Position.Line)
}

func TestDedupeSites_NoRetainedCopy(t *testing.T) {
	pos := token.Position{Filename: "main.go", Line: 10, Column: 3}
	sites := []CallSite{
		{Caller: "p.f", Position: pos, Kind: KindCall, Reachable: true, Live: false},
		{Caller: "p.f", Position: pos, Kind: KindCall, Reachable: false, Live: true},
	}

	got := dedupeSites(sites)
	require.Len(t, got, 1)
	require.False(t, got[0].Retained(), "no single copy is both reachable and live")
	require.True(t, got[0].Reachable)
	require.False(t, got[0].Live)
}

func TestReachability_SkipsConstantFalseCalls(t *testing.T) {
	report := scanTestdata(t, "const-false-helper")
	require.NotContains(t, report.Roots, "github.com/715d/paranoia/testdata/const-false-helper.emit")
	require.Len(t, report.CallSites, 1)
	require.False(t, report.CallSites[0].Reachable, "emit is only called from a constant-false branch")
}
