package symtab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// parseMaps extracts the paths of executable file-backed mappings from a
// /proc/<pid>/maps listing, in first-seen order and without duplicates.
func parseMaps(r io.Reader) ([]string, error) {
	var paths []string
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// address perms offset dev inode pathname
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		perms, path := fields[1], strings.Join(fields[5:], " ")
		if !strings.Contains(perms, "x") || !strings.HasPrefix(path, "/") {
			continue
		}
		if strings.HasSuffix(path, " (deleted)") {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading maps: %w", err)
	}
	return paths, nil
}

// withExecutable puts the main executable first, removing any later copy of it.
func withExecutable(exe string, paths []string) []string {
	out := make([]string, 0, len(paths)+1)
	out = append(out, exe)
	for _, p := range paths {
		if p != exe {
			out = append(out, p)
		}
	}
	return out
}

func executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return exe, nil
}
