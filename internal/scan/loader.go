// Package scan predicts, from source, whether the marker call survives the
// linker's dead code elimination.
package scan

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/tools/go/packages"
)

// defaultLoadMode loads full syntax and type information for every package
// in the import graph, which SSA construction needs to build function bodies.
const defaultLoadMode = packages.NeedDeps |
	packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo

// LoaderOptions configures package loading behavior.
type LoaderOptions struct {
	// Packages are the package patterns to load.
	Packages []string

	// BuildTags are build tags to apply during loading.
	BuildTags []string

	// Dir is the directory to load packages from.
	// If empty, uses the current working directory.
	Dir string

	// Env is the environment to use for loading.
	// If nil, uses os.Environ().
	Env []string

	// Tests also loads test variants and the generated test main packages,
	// so test binaries are scanned as entry points.
	Tests bool
}

// LoadPackages loads Go packages for scanning.
func LoadPackages(ctx context.Context, opts LoaderOptions) ([]*packages.Package, error) {
	// Default to current directory patterns.
	patterns := opts.Packages
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	cfg := &packages.Config{
		Context: ctx,
		Mode:    defaultLoadMode,
		Tests:   opts.Tests,
		Env:     opts.Env,
		Dir:     opts.Dir,
	}

	if len(opts.BuildTags) > 0 {
		cfg.BuildFlags = append(cfg.BuildFlags, "-tags", strings.Join(opts.BuildTags, ","))
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}

	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching patterns: %v", patterns)
	}

	// Check for errors anywhere in the import graph.
	var errorMessages []string
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("package %s: %v", pkg.PkgPath, err))
		}
	})

	if len(errorMessages) > 0 {
		return nil, fmt.Errorf("package errors:\n%s", strings.Join(errorMessages, "\n"))
	}

	return pkgs, nil
}
