// Package marker provides the call target whose survival through the linker's
// dead code elimination is reported by package paranoia.
//
// Generated code calls Mark from a path whose reachability is in question:
//
//	if featureEnabled {
//		marker.Mark()
//	}
//
// Nothing in this package references Mark, so the linker drops it from the
// final binary unless some reachable code calls it.
package marker

import "sync/atomic"

// sink is read by Mark and never written.
var sink uint32

// Mark does nothing observable. Its linker symbol is
// "github.com/715d/paranoia/pkg/marker.Mark".
//
//go:noinline
func Mark() {
	atomic.LoadUint32(&sink)
}
