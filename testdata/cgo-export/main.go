// The marker is called only from a function exported to C.
package main

import "C"

import (
	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

//export ParanoiaProbe
func ParanoiaProbe() {
	marker.Mark()
}

func main() {
	verdict.Print()
}
