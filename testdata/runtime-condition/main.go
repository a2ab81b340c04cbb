// The marker call depends on a condition only known at run time and never
// taken by the harness.
package main

import (
	"os"

	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

func main() {
	if os.Getenv("PARANOIA_TRIGGER") == "on" {
		marker.Mark()
	}
	verdict.Print()
}
