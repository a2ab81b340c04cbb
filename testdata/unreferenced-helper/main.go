// The marker is called only from a function nothing calls.
package main

import (
	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

func neverCalled() {
	marker.Mark()
}

func main() {
	verdict.Print()
}
