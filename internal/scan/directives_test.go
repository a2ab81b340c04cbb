package scan

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		comment string
		want    DirectiveType
	}{
		{comment: "//go:noinline", want: DirectiveNoinline},
		{comment: "//go:linkname local remote.name", want: DirectiveLinkname},
		{comment: "//export ParanoiaProbe", want: DirectiveCGoExport},
		{comment: "// go:noinline", want: DirectiveNone},
		{comment: "//go:noinlinex", want: DirectiveNone},
		{comment: "//go:nosplit", want: DirectiveNone},
		{comment: "//exported helper", want: DirectiveNone},
		{comment: "/* go:noinline */", want: DirectiveNone},
	}

	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			require.Equal(t, tt.want, parseDirective(tt.comment))
		})
	}
}

func TestFuncDirectives(t *testing.T) {
	const src = `package p

// Mark is a marker.
//
//go:noinline
func Mark() {}

//export Probe
//go:noinline
func Probe() {}

func plain() {}
`
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "p.go", src, parser.ParseComments)
	require.NoError(t, err)

	got := make(map[string][]DirectiveType)
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok {
			got[fd.Name.Name] = FuncDirectives(fd)
		}
	}

	require.Equal(t, []DirectiveType{DirectiveNoinline}, got["Mark"])
	require.Equal(t, []DirectiveType{DirectiveCGoExport, DirectiveNoinline}, got["Probe"])
	require.Empty(t, got["plain"])

	require.Equal(t, DirectiveCGoExport, rootDirective(got["Probe"]))
	require.Equal(t, DirectiveNone, rootDirective(got["Mark"]))
}

func TestMarkerWarnings(t *testing.T) {
	require.Empty(t, markerWarnings([]DirectiveType{DirectiveNoinline}))
	require.Len(t, markerWarnings(nil), 1)
	require.Len(t, markerWarnings([]DirectiveType{DirectiveLinkname}), 2)
}
