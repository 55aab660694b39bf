package dtos

import (
	"time"

	"github.com/justsurfingit/career-tracker/internal/models"
)

type JobCreationRequest struct {
	Company  string `json:"company"`
	Position string `json:"position"`

	// Optional Fields
	Status            *string    `json:"status"` // Defaults to "Applied" if absent
	SalaryExpectation *float64   `json:"salaryExpectation"`
	DateApplied       *time.Time `json:"dateApplied"` // Defaults to now
}

// ToJob converts the request into an unsaved, unnormalized job.
func (r *JobCreationRequest) ToJob() models.Job {
	job := models.Job{
		Company:           r.Company,
		Position:          r.Position,
		Status:            models.StatusApplied,
		SalaryExpectation: r.SalaryExpectation,
	}
	// An explicit "" stays invalid rather than falling back to Applied.
	if r.Status != nil {
		job.Status = models.Status(*r.Status)
	}
	if r.DateApplied != nil {
		job.DateApplied = *r.DateApplied
	}
	return job
}

// JobUpdateRequest is a partial update; nil fields are left unchanged.
// dateApplied is deliberately absent: the application date never changes.
type JobUpdateRequest struct {
	Company           *string  `json:"company"`
	Position          *string  `json:"position"`
	Status            *string  `json:"status"`
	SalaryExpectation *float64 `json:"salaryExpectation"`
}

type JobExtractionRequest struct {
	RawHTML string `json:"raw_html"`
	URL     string `json:"url"`
}

// ExtractedJob holds the form fields an LLM could recover from a posting.
type ExtractedJob struct {
	Company           string   `json:"company"`
	Position          string   `json:"position"`
	SalaryExpectation *float64 `json:"salaryExpectation,omitempty"`
}
