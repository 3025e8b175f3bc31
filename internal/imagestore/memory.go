package imagestore

import (
	"context"
	"fmt"
)

// Memory is an in-process Source used by workflow tests in place of a
// real range-readable object store.
type Memory struct {
	objects map[string][]byte
}

// NewMemory returns a Memory store seeded with the given URI->bytes map.
func NewMemory(objects map[string][]byte) *Memory {
	return &Memory{objects: objects}
}

func (m *Memory) ReadRange(_ context.Context, uri string, offset, length int64) ([]byte, error) {
	data, ok := m.objects[uri]
	if !ok {
		return nil, fmt.Errorf("imagestore: no object %s", uri)
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return data[offset:end], nil
}

func (m *Memory) Size(_ context.Context, uri string) (int64, error) {
	data, ok := m.objects[uri]
	if !ok {
		return 0, fmt.Errorf("imagestore: no object %s", uri)
	}
	return int64(len(data)), nil
}
