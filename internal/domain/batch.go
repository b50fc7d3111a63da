package domain

// BatchWorkItem is the queue payload for one batch of normalized jobs
type BatchWorkItem struct {
	Jobs       []CanonicalJob `json:"jobs"`
	SourceKey  string         `json:"sourceKey"`
	RunID      string         `json:"runId"`
	BatchIndex int            `json:"batchIndex"`
	BatchCount int            `json:"batchCount"`
}

// BatchOutcome summarizes the result of processing one batch
type BatchOutcome struct {
	NewCount       int             `json:"newCount"`
	UpdatedCount   int             `json:"updatedCount"`
	FailedCount    int             `json:"failedCount"`
	FailureReasons []FailureReason `json:"failureReasons"`
}

// Total is the number of jobs the outcome accounts for
func (o BatchOutcome) Total() int {
	return o.NewCount + o.UpdatedCount + o.FailedCount
}

// AddFailure records one failed job
func (o *BatchOutcome) AddFailure(ref, reason, detail string) {
	o.FailedCount++
	o.FailureReasons = append(o.FailureReasons, FailureReason{
		JobRef: ref,
		Reason: reason,
		Detail: detail,
	})
}

// BatchMessage is a decoded delivery handed to the worker pool
type BatchMessage struct {
	MessageID   string
	Item        BatchWorkItem
	Attempt     int
	Redelivered bool
}
