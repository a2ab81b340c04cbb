// The marker call sits behind a constant-false condition.
package main

import (
	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

func main() {
	if false {
		marker.Mark()
	}
	verdict.Print()
}
