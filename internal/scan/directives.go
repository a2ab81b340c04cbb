package scan

import (
	"go/ast"
	"strings"
)

// DirectiveType represents the compiler directives that affect whether a
// function's symbol is kept.
type DirectiveType int

const (
	DirectiveNone DirectiveType = iota
	DirectiveNoinline
	DirectiveLinkname
	DirectiveCGoExport
)

func (d DirectiveType) String() string {
	switch d {
	case DirectiveNoinline:
		return "go:noinline"
	case DirectiveLinkname:
		return "go:linkname"
	case DirectiveCGoExport:
		return "export"
	default:
		return ""
	}
}

// IsRoot reports whether the directive makes the linker keep the function
// regardless of calls from Go code.
func (d DirectiveType) IsRoot() bool {
	return d == DirectiveLinkname || d == DirectiveCGoExport
}

// compilerDirectives maps directive strings to their types.
var compilerDirectives = map[string]DirectiveType{
	"go:noinline": DirectiveNoinline,
	"go:linkname": DirectiveLinkname,
}

// FuncDirectives returns every recognized directive in a function's doc
// comment, in source order.
func FuncDirectives(fn *ast.FuncDecl) []DirectiveType {
	if fn == nil || fn.Doc == nil {
		return nil
	}

	var found []DirectiveType
	for _, comment := range fn.Doc.List {
		if d := parseDirective(comment.Text); d != DirectiveNone {
			found = append(found, d)
		}
	}
	return found
}

// parseDirective parses a single comment line.
func parseDirective(comment string) DirectiveType {
	// Directives never have a space after the slashes.
	if !strings.HasPrefix(comment, "//") || strings.HasPrefix(comment, "// ") {
		return DirectiveNone
	}
	text := strings.TrimPrefix(comment, "//")

	// CGo export has format "//export FuncName" (note: no colon after //)
	if strings.HasPrefix(text, "export ") {
		return DirectiveCGoExport
	}

	for directive, directiveType := range compilerDirectives {
		if after, ok := strings.CutPrefix(text, directive); ok {
			// Ensure it's exactly the directive or followed by space/args.
			if after == "" || strings.HasPrefix(after, " ") {
				return directiveType
			}
		}
	}
	return DirectiveNone
}
