package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Postgres implements Ledger on top of database/sql + lib/pq, reusing
// the teacher's conditional-UPDATE-then-check-RowsAffected idiom
// (database.go's UpdateJobStatus/CompleteJob) as the CAS primitive:
// UpdateIf issues `UPDATE ... WHERE version = $old` and treats
// RowsAffected()==0 as a lost race (ErrPredicateFailed), not an error.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the connection pool tuned the way the teacher's
// NewDatabase does (25 max open, 5 max idle, 5 minute max lifetime)
// and verifies connectivity with a bounded PingContext.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Schema matches the jobs/regions DDL this ledger expects; callers
// run it once at deployment time via their own migration tooling —
// kept here as documentation of the expected shape.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id         TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	region_count   INTEGER NOT NULL DEFAULT 0,
	region_success INTEGER NOT NULL DEFAULT 0,
	region_error   INTEGER NOT NULL DEFAULT 0,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ,
	request_json   JSONB NOT NULL,
	features_json  JSONB NOT NULL DEFAULT '[]',
	version        BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS regions (
	job_id         TEXT NOT NULL,
	region_id      TEXT NOT NULL,
	status         TEXT NOT NULL,
	worker_id      TEXT NOT NULL DEFAULT '',
	attempt_count  INTEGER NOT NULL DEFAULT 0,
	feature_count  INTEGER NOT NULL DEFAULT 0,
	version        BIGINT NOT NULL DEFAULT 1,
	PRIMARY KEY (job_id, region_id)
);
`

func (p *Postgres) CreateJobIfAbsent(ctx context.Context, record model.JobRecord) error {
	requestJSON, err := json.Marshal(record.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	featuresJSON, err := json.Marshal(record.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, status, region_count, region_success, region_error, start_time, request_json, features_json, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		ON CONFLICT (job_id) DO NOTHING`,
		record.JobID, record.Status, record.RegionCount, record.RegionSuccess, record.RegionError, record.StartTime, requestJSON, featuresJSON)
	if err != nil {
		return fmt.Errorf("create job %s: %w", record.JobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create job %s: rows affected: %w", record.JobID, err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, jobID string) (model.JobRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT job_id, status, region_count, region_success, region_error, start_time, end_time, request_json, features_json, version
		FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func (p *Postgres) UpdateJobIf(ctx context.Context, jobID string, predicate JobPredicate, mutation JobMutation) (model.JobRecord, error) {
	current, err := p.GetJob(ctx, jobID)
	if err != nil {
		return model.JobRecord{}, err
	}
	if !predicate(current) {
		return model.JobRecord{}, ErrPredicateFailed
	}
	next := mutation(current)
	next.Version = current.Version + 1

	requestJSON, err := json.Marshal(next.Request)
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("marshal request: %w", err)
	}
	featuresJSON, err := json.Marshal(next.Features)
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("marshal features: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET status=$1, region_count=$2, region_success=$3, region_error=$4,
			end_time=$5, request_json=$6, features_json=$7, version=$8
		WHERE job_id=$9 AND version=$10`,
		next.Status, next.RegionCount, next.RegionSuccess, next.RegionError,
		nullableTime(next.EndTime), requestJSON, featuresJSON, next.Version, jobID, current.Version)
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("update job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("update job %s: rows affected: %w", jobID, err)
	}
	if affected == 0 {
		// lost the race between our GetJob and this UPDATE.
		return model.JobRecord{}, ErrPredicateFailed
	}
	return next, nil
}

func (p *Postgres) CreateRegionIfAbsent(ctx context.Context, record model.RegionRecord) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO regions (job_id, region_id, status, worker_id, attempt_count, feature_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (job_id, region_id) DO NOTHING`,
		record.JobID, record.RegionID, record.Status, record.WorkerID, record.AttemptCount, record.FeatureCount)
	if err != nil {
		return fmt.Errorf("create region %s/%s: %w", record.JobID, record.RegionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create region %s/%s: rows affected: %w", record.JobID, record.RegionID, err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *Postgres) GetRegion(ctx context.Context, jobID, regionID string) (model.RegionRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT job_id, region_id, status, worker_id, attempt_count, feature_count, version
		FROM regions WHERE job_id = $1 AND region_id = $2`, jobID, regionID)
	return scanRegion(row)
}

func (p *Postgres) UpdateRegionIf(ctx context.Context, jobID, regionID string, predicate RegionPredicate, mutation RegionMutation) (model.RegionRecord, error) {
	current, err := p.GetRegion(ctx, jobID, regionID)
	if err != nil {
		return model.RegionRecord{}, err
	}
	if !predicate(current) {
		return model.RegionRecord{}, ErrPredicateFailed
	}
	next := mutation(current)
	next.Version = current.Version + 1

	res, err := p.db.ExecContext(ctx, `
		UPDATE regions SET status=$1, worker_id=$2, attempt_count=$3, feature_count=$4, version=$5
		WHERE job_id=$6 AND region_id=$7 AND version=$8`,
		next.Status, next.WorkerID, next.AttemptCount, next.FeatureCount, next.Version,
		jobID, regionID, current.Version)
	if err != nil {
		return model.RegionRecord{}, fmt.Errorf("update region %s/%s: %w", jobID, regionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.RegionRecord{}, fmt.Errorf("update region %s/%s: rows affected: %w", jobID, regionID, err)
	}
	if affected == 0 {
		return model.RegionRecord{}, ErrPredicateFailed
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (model.JobRecord, error) {
	var (
		rec          model.JobRecord
		endTime      sql.NullTime
		requestJSON  []byte
		featuresJSON []byte
	)
	err := row.Scan(&rec.JobID, &rec.Status, &rec.RegionCount, &rec.RegionSuccess, &rec.RegionError,
		&rec.StartTime, &endTime, &requestJSON, &featuresJSON, &rec.Version)
	if err == sql.ErrNoRows {
		return model.JobRecord{}, ErrNotFound
	}
	if err != nil {
		return model.JobRecord{}, fmt.Errorf("scan job: %w", err)
	}
	if endTime.Valid {
		rec.EndTime = endTime.Time
	}
	if err := json.Unmarshal(requestJSON, &rec.Request); err != nil {
		return model.JobRecord{}, fmt.Errorf("unmarshal request: %w", err)
	}
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &rec.Features); err != nil {
			return model.JobRecord{}, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return rec, nil
}

func scanRegion(row rowScanner) (model.RegionRecord, error) {
	var rec model.RegionRecord
	err := row.Scan(&rec.JobID, &rec.RegionID, &rec.Status, &rec.WorkerID, &rec.AttemptCount, &rec.FeatureCount, &rec.Version)
	if err == sql.ErrNoRows {
		return model.RegionRecord{}, ErrNotFound
	}
	if err != nil {
		return model.RegionRecord{}, fmt.Errorf("scan region: %w", err)
	}
	return rec, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
