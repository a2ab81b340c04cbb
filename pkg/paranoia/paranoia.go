// Package paranoia reports whether the call to marker.Mark survived the
// linker's dead code elimination in the running binary.
//
// The answer is a hint. A false result is authoritative: the marker symbol is
// not present in any image loaded into the process, so every call to it was
// eliminated. A true result only means the symbol was retained, which happens
// whenever any reachable code references it, whether or not that code runs.
//
//	if false {
//		marker.Mark()
//	}
//	fmt.Println(paranoia.MarkerExists()) // false
//
// Package marker and this package must not import each other.
package paranoia

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/715d/paranoia/internal/symtab"
)

// Symbol is the linker name of marker.Mark.
const Symbol = "github.com/715d/paranoia/pkg/marker.Mark"

// Location describes where a symbol was resolved.
type Location = symtab.Location

// Resolver reports whether a symbol is present.
type Resolver interface {
	Resolve(name string) bool
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(name string) bool

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) bool {
	return f(name)
}

// Option configures a Checker.
type Option func(*Checker)

// WithSymbol checks for name instead of Symbol.
func WithSymbol(name string) Option {
	return func(c *Checker) {
		c.symbol = name
	}
}

// WithResolver replaces the process symbol table lookup.
func WithResolver(r Resolver) Option {
	return func(c *Checker) {
		c.resolver = r
	}
}

// Checker answers whether one symbol is present. The answer is computed on
// the first call to Exists and cached for the life of the Checker.
type Checker struct {
	symbol   string
	resolver Resolver
	exists   func() bool
}

// NewChecker creates a Checker for Symbol, or for the name given by WithSymbol.
// It panics if the name is empty or contains a NUL byte.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		symbol:   Symbol,
		resolver: processResolver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.symbol == "" || strings.IndexByte(c.symbol, 0) >= 0 {
		panic(fmt.Sprintf("paranoia: invalid symbol name %q", c.symbol))
	}

	c.exists = sync.OnceValue(func() bool {
		ok := c.resolver.Resolve(c.symbol)
		slog.Debug("resolved symbol", "symbol", c.symbol, "exists", ok)
		return ok
	})
	return c
}

// Symbol returns the name being checked.
func (c *Checker) Symbol() string {
	return c.symbol
}

// Exists reports whether the symbol is present. Concurrent first callers wait
// for a single resolution; later calls return the cached result.
func (c *Checker) Exists() bool {
	return c.exists()
}

// process is shared by every Checker using the default resolver so that each
// image is indexed once per process.
var process = symtab.NewTable()

type processResolver struct{}

func (processResolver) Resolve(name string) bool {
	_, ok := process.Lookup(name)
	return ok
}

var defaultChecker = sync.OnceValue(func() *Checker {
	return NewChecker()
})

// MarkerExists reports whether marker.Mark is present in the running binary.
func MarkerExists() bool {
	return defaultChecker().Exists()
}

// Lookup resolves name against the images loaded into the process. Unlike
// MarkerExists the result is not cached.
func Lookup(name string) (Location, bool) {
	return process.Lookup(name)
}
