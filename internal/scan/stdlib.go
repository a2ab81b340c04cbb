package scan

import (
	"log/slog"
	"sync"

	"golang.org/x/tools/go/packages"
)

var getStdLibSet = sync.OnceValue(func() map[string]struct{} {
	pkgs, _ := packages.Load(&packages.Config{Mode: packages.NeedName}, "std")
	m := make(map[string]struct{}, len(pkgs)+1)
	for _, p := range pkgs {
		m[p.PkgPath] = struct{}{}
	}
	m["unsafe"] = struct{}{} // not in `go list std`
	slog.Debug("loaded std lib packages", "num", len(m))
	return m
})

// isUserPackage tells the scan whether to look at p's directives and
// assembly. Standard library packages never call the marker.
func isUserPackage(p *packages.Package) bool {
	_, std := getStdLibSet()[p.PkgPath]
	return !std
}
