package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FailureReason describes one job (or the source itself) that could not be imported
type FailureReason struct {
	JobRef string `json:"jobRef"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// FailureReasons is an ordered list stored as a JSONB array
type FailureReasons []FailureReason

// Value implements driver.Valuer
func (f FailureReasons) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner
func (f *FailureReasons) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*f = FailureReasons{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported failure reasons type %T", src)
	}
	return json.Unmarshal(data, f)
}

// ImportRun is the ledger entry for one source fetch attempt
type ImportRun struct {
	ID               string         `db:"id" json:"id"`
	SourceURL        string         `db:"source_url" json:"sourceUrl"`
	SourceName       string         `db:"source_name" json:"sourceName"`
	StartedAt        time.Time      `db:"started_at" json:"startedAt"`
	TotalFetched     *int           `db:"total_fetched" json:"totalFetched,omitempty"`
	TotalImported    int            `db:"total_imported" json:"totalImported"`
	NewCount         int            `db:"new_count" json:"newCount"`
	UpdatedCount     int            `db:"updated_count" json:"updatedCount"`
	FailedCount      int            `db:"failed_count" json:"failedCount"`
	FailureReasons   FailureReasons `db:"failure_reasons" json:"failureReasons"`
	Status           RunStatus      `db:"status" json:"status"`
	ProcessingTimeMs *int64         `db:"processing_time_ms" json:"processingTimeMs,omitempty"`
	FinishedAt       *time.Time     `db:"finished_at" json:"finishedAt,omitempty"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
}

// runTransitions lists every allowed (from -> to) status pair
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:    {RunStatusProcessing, RunStatusCompleted, RunStatusFailed},
	RunStatusProcessing: {RunStatusCompleted, RunStatusFailed},
	// COMPLETED and FAILED are terminal
}

// CanTransition reports whether a run may move from one status to another
func CanTransition(from, to RunStatus) bool {
	for _, s := range runTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further changes
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Processed is the number of fetched jobs accounted for so far
func (r *ImportRun) Processed() int {
	return r.NewCount + r.UpdatedCount + r.FailedCount
}

// Fetched returns total fetched, zero when unset
func (r *ImportRun) Fetched() int {
	if r.TotalFetched == nil {
		return 0
	}
	return *r.TotalFetched
}

// ReadyToComplete reports whether every fetched job has been accounted for
func (r *ImportRun) ReadyToComplete() bool {
	return r.Status == RunStatusProcessing && r.Fetched() > 0 && r.Processed() >= r.Fetched()
}

// SetFetched records the fetched count once. A zero count closes the run immediately.
func (r *ImportRun) SetFetched(count int, now time.Time) error {
	if r.TotalFetched != nil {
		if *r.TotalFetched == count {
			return nil
		}
		return fmt.Errorf("%w: have %d, got %d", ErrFetchedConflict, *r.TotalFetched, count)
	}
	if r.Status != RunStatusPending {
		return ErrRunTerminal
	}

	total := count
	r.TotalFetched = &total
	r.Status = RunStatusProcessing
	if count == 0 {
		r.Status = RunStatusCompleted
		r.FinishedAt = &now
	}
	r.UpdatedAt = now
	return nil
}

// Apply adds a batch outcome to the run counters
func (r *ImportRun) Apply(outcome BatchOutcome, now time.Time) error {
	if r.Status != RunStatusProcessing {
		return ErrRunTerminal
	}
	if r.TotalFetched != nil && r.Processed()+outcome.Total() > *r.TotalFetched {
		return ErrOutcomeOverflow
	}

	r.NewCount += outcome.NewCount
	r.UpdatedCount += outcome.UpdatedCount
	r.FailedCount += outcome.FailedCount
	r.TotalImported += outcome.NewCount + outcome.UpdatedCount
	r.FailureReasons = append(r.FailureReasons, outcome.FailureReasons...)
	r.UpdatedAt = now
	return nil
}

// Complete moves a PROCESSING run to COMPLETED. It reports whether this call made the transition.
func (r *ImportRun) Complete(now time.Time) bool {
	if r.Status != RunStatusProcessing {
		return false
	}
	r.Status = RunStatusCompleted
	r.FinishedAt = &now
	r.UpdatedAt = now
	return true
}

// Fail moves a non-terminal run to FAILED and records the reason
func (r *ImportRun) Fail(reason FailureReason, now time.Time) error {
	if !CanTransition(r.Status, RunStatusFailed) {
		return ErrRunTerminal
	}
	r.Status = RunStatusFailed
	r.FailureReasons = append(r.FailureReasons, reason)
	r.FinishedAt = &now
	r.UpdatedAt = now
	return nil
}

// Clone returns a deep copy safe to hand out of a store
func (r *ImportRun) Clone() *ImportRun {
	c := *r
	if r.TotalFetched != nil {
		v := *r.TotalFetched
		c.TotalFetched = &v
	}
	if r.ProcessingTimeMs != nil {
		v := *r.ProcessingTimeMs
		c.ProcessingTimeMs = &v
	}
	if r.FinishedAt != nil {
		v := *r.FinishedAt
		c.FinishedAt = &v
	}
	c.FailureReasons = append(FailureReasons{}, r.FailureReasons...)
	return &c
}

// RunFilter narrows import run listings
type RunFilter struct {
	Source   string
	Status   RunStatus
	PageSize int
	Cursor   *RunCursor
}

// RunCursor is the keyset position for run pagination
type RunCursor struct {
	StartedAt time.Time
	RunID     string
}

// RunStats aggregates counters across all runs
type RunStats struct {
	TotalRuns     int `db:"total_runs" json:"totalRuns"`
	TotalFetched  int `db:"total_fetched" json:"totalFetched"`
	TotalImported int `db:"total_imported" json:"totalImported"`
	TotalNew      int `db:"total_new" json:"totalNew"`
	TotalUpdated  int `db:"total_updated" json:"totalUpdated"`
	TotalFailed   int `db:"total_failed" json:"totalFailed"`
}
