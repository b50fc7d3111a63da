package domain

import "time"

// RunStatus is the lifecycle state of an import run
type RunStatus string

// Import run status constants
const (
	RunStatusPending    RunStatus = "PENDING"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Pipeline defaults
const (
	DefaultBatchSize         = 100
	DefaultFetchIntervalHint = time.Hour
	UnknownJobRef            = "unknown"
	SourceJobRef             = "source"
)

// Failure reasons recorded on import runs
const (
	ReasonMissingExternalID = "Missing externalId"
	ReasonMissingTitle      = "Missing title"
	ReasonJobRejected       = "Job rejected by storage"
	ReasonSourceFetch       = "Source fetch failed"
	ReasonDispatch          = "Batch dispatch failed"
	ReasonRetriesExhausted  = "Batch retries exhausted"
	ReasonRunAccounting     = "Run accounting failed"
)
