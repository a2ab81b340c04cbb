// The marker is called from a method reached only through an interface.
package main

import (
	"github.com/715d/paranoia/pkg/marker"
	"github.com/715d/paranoia/testdata/internal/verdict"
)

type emitter interface {
	emit()
}

type markerEmitter struct{}

func (markerEmitter) emit() {
	marker.Mark()
}

var emitters = []emitter{markerEmitter{}}

func main() {
	for _, e := range emitters {
		e.emit()
	}
	verdict.Print()
}
