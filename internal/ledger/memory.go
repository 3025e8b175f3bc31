package ledger

import (
	"context"
	"sync"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Memory is an in-process Ledger backed by a mutex-guarded map. It
// implements the same CAS contract as Postgres and is used by the
// region/image workflow tests so they don't need a real database —
// spec §1 treats the ledger's storage backend as swappable behind the
// Ledger interface.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]model.JobRecord
	regions map[string]model.RegionRecord
}

// NewMemory returns an empty in-memory Ledger.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]model.JobRecord),
		regions: make(map[string]model.RegionRecord),
	}
}

func (m *Memory) CreateJobIfAbsent(_ context.Context, record model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[record.JobID]; ok {
		return ErrAlreadyExists
	}
	record.Version = 1
	m.jobs[record.JobID] = record
	return nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return model.JobRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) UpdateJobIf(_ context.Context, jobID string, predicate JobPredicate, mutation JobMutation) (model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[jobID]
	if !ok {
		return model.JobRecord{}, ErrNotFound
	}
	if !predicate(current) {
		return model.JobRecord{}, ErrPredicateFailed
	}
	next := mutation(current)
	next.Version = current.Version + 1
	m.jobs[jobID] = next
	return next, nil
}

func regionKey(jobID, regionID string) string { return jobID + "/" + regionID }

func (m *Memory) CreateRegionIfAbsent(_ context.Context, record model.RegionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := regionKey(record.JobID, record.RegionID)
	if _, ok := m.regions[key]; ok {
		return ErrAlreadyExists
	}
	record.Version = 1
	m.regions[key] = record
	return nil
}

func (m *Memory) GetRegion(_ context.Context, jobID, regionID string) (model.RegionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.regions[regionKey(jobID, regionID)]
	if !ok {
		return model.RegionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) UpdateRegionIf(_ context.Context, jobID, regionID string, predicate RegionPredicate, mutation RegionMutation) (model.RegionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := regionKey(jobID, regionID)
	current, ok := m.regions[key]
	if !ok {
		return model.RegionRecord{}, ErrNotFound
	}
	if !predicate(current) {
		return model.RegionRecord{}, ErrPredicateFailed
	}
	next := mutation(current)
	next.Version = current.Version + 1
	m.regions[key] = next
	return next, nil
}
