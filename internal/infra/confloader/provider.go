package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

var errNoBytes = errors.New("confloader: map source has no byte form")

// mapSource feeds an in-memory map to koanf. Keys may be nested maps,
// dotted paths ("persistence.format") or a mix of both.
type mapSource struct {
	data map[string]any
}

func newMapSource(data map[string]any) mapSource {
	return mapSource{data: data}
}

func (m mapSource) ReadBytes() ([]byte, error) {
	return nil, errNoBytes
}

func (m mapSource) Read() (map[string]any, error) {
	cp := maps.Copy(m.data)
	return maps.Unflatten(cp, "."), nil
}
