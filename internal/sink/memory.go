package sink

import (
	"context"
	"sync"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Memory is an in-process Sink used by region/image workflow tests in
// place of a real S3/Kinesis destination.
type Memory struct {
	mu       sync.Mutex
	Jobs     map[string][]*model.Feature
	Batches  [][]*model.Feature
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{Jobs: make(map[string][]*model.Feature)}
}

func (m *Memory) WriteJobDocument(_ context.Context, jobID string, features []*model.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs[jobID] = append(m.Jobs[jobID], features...)
	return nil
}

func (m *Memory) WriteFeatureBatch(_ context.Context, jobID string, features []*model.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, features)
	m.Jobs[jobID] = append(m.Jobs[jobID], features...)
	return nil
}
