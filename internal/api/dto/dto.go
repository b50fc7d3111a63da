package dto

import (
	"time"

	"github.com/cuongbtq/feed-importer/internal/domain"
)

type CreateSourceRequest struct {
	URL         string `json:"url" binding:"required,url"`
	DisplayName string `json:"displayName"`
	Active      *bool  `json:"active"`
}

type UpdateSourceRequest struct {
	DisplayName *string `json:"displayName"`
	Active      *bool   `json:"active"`
}

type SourceDTO struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	DisplayName       string `json:"displayName"`
	Active            bool   `json:"active"`
	LastFetchedAt     string `json:"lastFetchedAt,omitempty"`
	FetchIntervalHint string `json:"fetchIntervalHint"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

type ListSourcesResponse struct {
	Sources []SourceDTO `json:"sources"`
}

type ListRunsRequest struct {
	Source   string `form:"source"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type RunDTO struct {
	ID               string                 `json:"id"`
	SourceURL        string                 `json:"sourceUrl"`
	SourceName       string                 `json:"sourceName"`
	Status           string                 `json:"status"`
	StartedAt        string                 `json:"startedAt"`
	FinishedAt       string                 `json:"finishedAt,omitempty"`
	TotalFetched     *int                   `json:"totalFetched"`
	TotalImported    int                    `json:"totalImported"`
	NewCount         int                    `json:"newCount"`
	UpdatedCount     int                    `json:"updatedCount"`
	FailedCount      int                    `json:"failedCount"`
	FailureReasons   []domain.FailureReason `json:"failureReasons"`
	ProcessingTimeMs *int64                 `json:"processingTimeMs"`
}

type ListJobsRequest struct {
	Source   string `form:"source"`
	Category string `form:"category"`
	Search   string `form:"search"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type JobDTO struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"externalId"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	JobType     string `json:"jobType"`
	Salary      string `json:"salary"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type SweepResponse struct {
	Started bool `json:"started"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewSourceDTO(src *domain.Source) SourceDTO {
	return SourceDTO{
		ID:                src.ID,
		URL:               src.URL,
		DisplayName:       src.DisplayName,
		Active:            src.Active,
		LastFetchedAt:     formatOptional(src.LastFetchedAt),
		FetchIntervalHint: src.FetchIntervalHint.String(),
		CreatedAt:         src.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         src.UpdatedAt.Format(time.RFC3339),
	}
}

func NewRunDTO(run *domain.ImportRun) RunDTO {
	reasons := run.FailureReasons
	if reasons == nil {
		reasons = domain.FailureReasons{}
	}

	return RunDTO{
		ID:               run.ID,
		SourceURL:        run.SourceURL,
		SourceName:       run.SourceName,
		Status:           string(run.Status),
		StartedAt:        run.StartedAt.Format(time.RFC3339),
		FinishedAt:       formatOptional(run.FinishedAt),
		TotalFetched:     run.TotalFetched,
		TotalImported:    run.TotalImported,
		NewCount:         run.NewCount,
		UpdatedCount:     run.UpdatedCount,
		FailedCount:      run.FailedCount,
		FailureReasons:   reasons,
		ProcessingTimeMs: run.ProcessingTimeMs,
	}
}

func NewJobDTO(job *domain.JobRecord) JobDTO {
	return JobDTO{
		ID:          job.ID,
		ExternalID:  job.ExternalID,
		Source:      job.Source,
		Title:       job.Title,
		Description: job.Description,
		Company:     job.Company,
		Location:    job.Location,
		Category:    job.Category,
		JobType:     job.JobType,
		Salary:      job.Salary,
		URL:         job.URL,
		PublishedAt: job.PublishedAt.Format(time.RFC3339),
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
