package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Job is a single tracked job application.
type Job struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	Company  string `gorm:"not null" json:"company" validate:"required"`
	Position string `gorm:"not null" json:"position" validate:"required"`
	// The check constraint keeps the enum closed even for writes that bypass Validate.
	Status            Status    `gorm:"type:varchar(16);not null;check:chk_jobs_status,status IN ('Applied','Interviewing','Rejected','Offer')" json:"status" validate:"job_status"`
	SalaryExpectation *float64  `json:"salaryExpectation,omitempty"`
	DateApplied       time.Time `gorm:"not null" json:"dateApplied"`
}

// BeforeCreate assigns the id. Ids are never reassigned.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	return nil
}

// Normalize applies creation defaults: trimmed company and now as the
// application date. Status is left alone so an empty one fails validation.
func (j *Job) Normalize(now time.Time) {
	j.Company = strings.TrimSpace(j.Company)
	if j.DateApplied.IsZero() {
		j.DateApplied = now
	}
}

// Salary returns the salary expectation, 0 when absent.
func (j Job) Salary() float64 {
	if j.SalaryExpectation == nil {
		return 0
	}
	return *j.SalaryExpectation
}

// MailboxState is the Gmail sync bookmark.
type MailboxState struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Email         string    `gorm:"uniqueIndex;not null" json:"email"`
	LastHistoryID uint64    `json:"last_history_id"`
}

// ProcessedEmail records a Gmail message id that has already been handled.
type ProcessedEmail struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
}
