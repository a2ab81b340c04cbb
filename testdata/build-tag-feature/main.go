// Generated code emits the marker call under a feature constant that is
// selected by build tags.
package main

import (
	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

func main() {
	if featureEnabled {
		marker.Mark()
	}
	verdict.Print()
}
