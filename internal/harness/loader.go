package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"
)

// BuildConfig configures a go build invocation.
type BuildConfig struct {
	// ModuleRoot is the directory go build runs in.
	ModuleRoot string

	// Package is the package to build, relative to ModuleRoot.
	Package string

	// Output is the path of the binary to write.
	Output string

	BuildTags []string
	GCFlags   string
	LDFlags   string
	Trimpath  bool
	BuildMode string

	// EnableCGo enables CGo support.
	EnableCGo bool
}

// Args returns the go command arguments.
func (c *BuildConfig) Args() []string {
	args := []string{"build", "-o", c.Output}
	if c.BuildMode != "" {
		args = append(args, "-buildmode="+c.BuildMode)
	}
	if len(c.BuildTags) > 0 {
		args = append(args, "-tags", strings.Join(c.BuildTags, ","))
	}
	if c.GCFlags != "" {
		args = append(args, "-gcflags="+c.GCFlags)
	}
	if c.LDFlags != "" {
		args = append(args, "-ldflags="+c.LDFlags)
	}
	if c.Trimpath {
		args = append(args, "-trimpath")
	}
	return append(args, c.Package)
}

// Environ returns the build environment.
func (c *BuildConfig) Environ() []string {
	cgoEnabled := "0"
	if c.EnableCGo {
		cgoEnabled = "1"
	}
	return updateEnv(os.Environ(), "CGO_ENABLED", cgoEnabled)
}

// BuildBinary builds the configured package and returns the binary path.
func BuildBinary(t *testing.T, cfg *BuildConfig) string {
	t.Helper()

	cmd := exec.CommandContext(t.Context(), "go", cfg.Args()...)
	cmd.Dir = cfg.ModuleRoot
	cmd.Env = cfg.Environ()

	t.Logf("Building %q: %s", cfg.Package, cmd.String())
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "%s\n%s", cmd.String(), out)
	return cfg.Output
}

// Verdict is the JSON line printed by every scenario binary.
type Verdict struct {
	Present bool   `json:"present"`
	Source  string `json:"source,omitempty"`
	Image   string `json:"image,omitempty"`
}

// RunBinary runs a scenario binary and decodes its verdict.
func RunBinary(t *testing.T, bin string) Verdict {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(t.Context(), bin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Run(), "running %s: %s", bin, stderr.String())

	var v Verdict
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &v), "decoding verdict %q", stdout.String())
	return v
}

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	relPath, err := filepath.Rel(root, dir)
	if err != nil {
		tc.Dir = filepath.Base(dir)
	} else {
		tc.Dir = relPath
	}
	return tc
}

// skipReason says why the configuration cannot run on this machine, or
// returns "" if it can.
func (c BuildConfiguration) skipReason() string {
	if len(c.GOOS) > 0 && !slices.Contains(c.GOOS, runtime.GOOS) {
		return fmt.Sprintf("not run on GOOS=%s", runtime.GOOS)
	}
	if len(c.GOARCH) > 0 && !slices.Contains(c.GOARCH, runtime.GOARCH) {
		return fmt.Sprintf("not run on GOARCH=%s", runtime.GOARCH)
	}
	if c.EnableCGo && !haveCCompiler() {
		return "no C compiler available"
	}
	return ""
}

// haveCCompiler reports whether go env names a C compiler found on PATH.
func haveCCompiler() bool {
	out, err := exec.Command("go", "env", "CC").Output()
	if err != nil {
		return false
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return false
	}
	_, err = exec.LookPath(fields[0])
	return err == nil
}

// updateEnv updates or adds an environment variable
func updateEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

// String renders the configuration for logs.
func (c BuildConfiguration) String() string {
	parts := []string{c.Name}
	if len(c.BuildTags) > 0 {
		parts = append(parts, "tags="+strings.Join(c.BuildTags, ","))
	}
	if c.GCFlags != "" {
		parts = append(parts, "gcflags="+c.GCFlags)
	}
	if c.LDFlags != "" {
		parts = append(parts, "ldflags="+c.LDFlags)
	}
	if c.BuildMode != "" {
		parts = append(parts, "buildmode="+c.BuildMode)
	}
	if c.EnableCGo {
		parts = append(parts, "cgo")
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, " "))
}
