package scan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/tools/go/packages"
)

// asmCall is a CALL or JMP in a Go assembly file to a named symbol.
type asmCall struct {
	// Caller is the name of the enclosing TEXT symbol, without package.
	Caller string
	// Target is the fully qualified callee, e.g. "example.com/pkg.Func".
	Target string
	File   string
	Line   int
}

var (
	// TEXT ·functionName(SB)
	textPattern = regexp.MustCompile(`^\s*TEXT\s+·([a-zA-Z_][a-zA-Z0-9_]*)(?:<[^>]*>)?\(SB\)`)

	// CALL ·f(SB), JMP ·f(SB) or with a package qualifier written as
	// example∕com∕pkg·f(SB).
	callPattern = regexp.MustCompile(`\b(?:CALL|JMP|B|BL)\s+([^\s·(]*)·([a-zA-Z_][a-zA-Z0-9_]*)(?:<[^>]*>)?\(SB\)`)
)

// scanAssembly scans the package's assembly files for calls.
// pkg.OtherFiles is already filtered by the build configuration used when
// loading.
func scanAssembly(pkg *packages.Package) ([]asmCall, error) {
	if pkg == nil {
		return nil, nil
	}

	var calls []asmCall
	for _, file := range pkg.OtherFiles {
		if !strings.HasSuffix(file, ".s") {
			continue
		}
		fileCalls, err := scanAssemblyFile(file, pkg.PkgPath)
		if err != nil {
			return calls, fmt.Errorf("scan assembly file: %s: %w", file, err)
		}
		calls = append(calls, fileCalls...)
	}
	return calls, nil
}

func scanAssemblyFile(filename, pkgPath string) ([]asmCall, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return scanAssemblyReader(file, filename, pkgPath)
}

func scanAssemblyReader(r io.Reader, filename, pkgPath string) ([]asmCall, error) {
	var (
		calls  []asmCall
		caller string
		line   int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line++
		text := scanner.Text()

		// Drop trailing comments; skip comments and empty lines.
		if i := strings.Index(text, "//"); i >= 0 {
			text = text[:i]
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		if matches := textPattern.FindStringSubmatch(text); matches != nil {
			caller = matches[1]
			continue
		}

		if matches := callPattern.FindStringSubmatch(text); matches != nil {
			target := pkgPath
			if matches[1] != "" {
				target = strings.ReplaceAll(matches[1], "∕", "/")
			}
			calls = append(calls, asmCall{
				Caller: caller,
				Target: target + "." + matches[2],
				File:   filename,
				Line:   line,
			})
		}
	}

	return calls, scanner.Err()
}
