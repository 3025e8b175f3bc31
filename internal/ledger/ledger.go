// Package ledger implements the durable, conditionally-updated job
// and region records from spec §4.H: create_if_absent, get, and
// update_if with a server-side predicate, used to enforce exactly-one
// completion per image and atomic region counter increments.
package ledger

import (
	"context"
	"errors"

	"github.com/mumuon/geovision-runner/internal/model"
)

// ErrAlreadyExists is returned by CreateIfAbsent when a record with
// the given key is already present — the caller treats this as the
// idempotent "skip, someone already started this" case (spec §4.G
// step 2, §4.F step 1).
var ErrAlreadyExists = errors.New("ledger: record already exists")

// ErrNotFound is returned by Get and by UpdateIf when no record
// exists for the given key.
var ErrNotFound = errors.New("ledger: record not found")

// ErrPredicateFailed is returned by UpdateIf when the record exists
// but failed the caller's predicate — someone else already performed
// the conditional transition (lost the race, not an error to surface
// to the user).
var ErrPredicateFailed = errors.New("ledger: predicate failed")

// JobPredicate inspects the current JobRecord and reports whether the
// caller's mutation should be applied.
type JobPredicate func(current model.JobRecord) bool

// JobMutation returns the new record to persist, given the current
// one. Only called when the predicate passed.
type JobMutation func(current model.JobRecord) model.JobRecord

// RegionPredicate and RegionMutation are the region-record analogs.
type RegionPredicate func(current model.RegionRecord) bool
type RegionMutation func(current model.RegionRecord) model.RegionRecord

// Ledger is the conditional-write KV store spec §4.H names. All
// mutating operations are evaluated server-side (optimistic
// concurrency) so two workers racing on the same key never both
// succeed.
type Ledger interface {
	CreateJobIfAbsent(ctx context.Context, record model.JobRecord) error
	GetJob(ctx context.Context, jobID string) (model.JobRecord, error)
	UpdateJobIf(ctx context.Context, jobID string, predicate JobPredicate, mutation JobMutation) (model.JobRecord, error)

	CreateRegionIfAbsent(ctx context.Context, record model.RegionRecord) error
	GetRegion(ctx context.Context, jobID, regionID string) (model.RegionRecord, error)
	UpdateRegionIf(ctx context.Context, jobID, regionID string, predicate RegionPredicate, mutation RegionMutation) (model.RegionRecord, error)
}
