package symtab

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Modules lists the images mapped into the current process: the main
// executable first, then shared objects in the order they appear in
// /proc/self/maps.
func Modules() ([]string, error) {
	exe, err := executable()
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	f, err := os.Open("/proc/self/maps")
	if err != nil {
		slog.Debug("procfs unavailable, using executable only", "error", err)
		return []string{exe}, nil
	}
	defer f.Close()

	paths, err := parseMaps(f)
	if err != nil {
		return nil, fmt.Errorf("parsing /proc/self/maps: %w", err)
	}
	return withExecutable(exe, paths), nil
}
