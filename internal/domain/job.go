package domain

import (
	"encoding/json"
	"time"
)

// CanonicalJob is the source-agnostic job representation produced by the feed normalizer
type CanonicalJob struct {
	ExternalID  string          `json:"externalId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Company     string          `json:"company"`
	Location    string          `json:"location"`
	Category    string          `json:"category"`
	JobType     string          `json:"jobType"`
	Salary      string          `json:"salary"`
	URL         string          `json:"url"`
	PublishedAt time.Time       `json:"publishedAt"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Validate checks the fields a job needs before it can be persisted
func (j *CanonicalJob) Validate() error {
	if j.ExternalID == "" {
		return &ValidationError{Field: "externalId", Reason: ReasonMissingExternalID}
	}
	if j.Title == "" {
		return &ValidationError{Field: "title", Reason: ReasonMissingTitle}
	}
	return nil
}

// Ref returns the identifier used in failure reasons
func (j *CanonicalJob) Ref() string {
	if j.ExternalID == "" {
		return UnknownJobRef
	}
	return j.ExternalID
}

// JobRecord is a persisted job, unique by (ExternalID, Source)
type JobRecord struct {
	ID          int64           `db:"id" json:"id"`
	ExternalID  string          `db:"external_id" json:"externalId"`
	Source      string          `db:"source" json:"source"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Company     string          `db:"company" json:"company"`
	Location    string          `db:"location" json:"location"`
	Category    string          `db:"category" json:"category"`
	JobType     string          `db:"job_type" json:"jobType"`
	Salary      string          `db:"salary" json:"salary"`
	URL         string          `db:"url" json:"url"`
	PublishedAt time.Time       `db:"published_at" json:"publishedAt"`
	Raw         json.RawMessage `db:"raw" json:"raw,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// NewJobRecord builds the full replacement document for an upsert
func NewJobRecord(job CanonicalJob, source string) *JobRecord {
	publishedAt := job.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	raw := job.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(job)
	}

	return &JobRecord{
		ExternalID:  job.ExternalID,
		Source:      source,
		Title:       job.Title,
		Description: job.Description,
		Company:     job.Company,
		Location:    job.Location,
		Category:    job.Category,
		JobType:     job.JobType,
		Salary:      job.Salary,
		URL:         job.URL,
		PublishedAt: publishedAt,
		Raw:         raw,
	}
}

// UpsertResult reports whether an upsert inserted or updated a record
type UpsertResult struct {
	Inserted    bool
	InsertKnown bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsNew classifies the upsert. Stores that report the insert flag directly are trusted;
// otherwise a record whose creation and last update coincide was inserted by this call.
func (r UpsertResult) IsNew() bool {
	if r.InsertKnown {
		return r.Inserted
	}
	return r.CreatedAt.Equal(r.UpdatedAt)
}

// JobFilter narrows job listings
type JobFilter struct {
	Source   string
	Category string
	Search   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position for job pagination
type JobCursor struct {
	UpdatedAt time.Time
	ID        int64
}

// JobStats summarizes the persisted job set
type JobStats struct {
	TotalJobs     int `db:"total_jobs" json:"totalJobs"`
	UniqueSources int `db:"unique_sources" json:"uniqueSources"`
	Categories    int `db:"categories" json:"categories"`
}
