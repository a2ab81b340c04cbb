// Package verdict prints the marker verdict of the running scenario binary.
package verdict

import (
	"encoding/json"
	"os"

	"github.com/715d/paranoia/pkg/paranoia"
)

// Verdict is read back by the scenario harness.
type Verdict struct {
	Present bool   `json:"present"`
	Source  string `json:"source,omitempty"`
	Image   string `json:"image,omitempty"`
}

// Print writes the verdict as JSON to stdout.
func Print() {
	v := Verdict{Present: paranoia.MarkerExists()}
	if loc, ok := paranoia.Lookup(paranoia.Symbol); ok {
		v.Source = string(loc.Source)
		v.Image = loc.Image
	}
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		os.Exit(3)
	}
}
