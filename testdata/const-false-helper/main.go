// The only call to emit sits behind a constant that generated code set to
// false, so neither emit nor the marker call inside it is linked.
package main

import (
	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

const enabled = false

func emit() {
	marker.Mark()
}

func main() {
	if enabled {
		emit()
	}
	verdict.Print()
}
