package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/justsurfingit/career-tracker/internal/apperr"
	"github.com/justsurfingit/career-tracker/internal/dtos"
	"github.com/justsurfingit/career-tracker/internal/models"
)

// JobService is the persistence gateway for job records. Every method maps
// to a single store call apart from Update, which reads before it writes.
type JobService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewJobService(db *gorm.DB) *JobService {
	return &JobService{
		DB:  db,
		Now: time.Now,
	}
}

// List returns every job in store order.
func (s *JobService) List(ctx context.Context) ([]models.Job, error) {
	jobs := make([]models.Job, 0)
	if err := s.DB.WithContext(ctx).Find(&jobs).Error; err != nil {
		return nil, apperr.Internal("list jobs", err)
	}
	return jobs, nil
}

// Create validates and persists a new job. id and dateApplied are assigned here.
func (s *JobService) Create(ctx context.Context, req *dtos.JobCreationRequest) (*models.Job, error) {
	job := req.ToJob()
	job.Normalize(s.Now())
	if err := job.Validate(); err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, apperr.Internal("create job", err)
	}
	return &job, nil
}

// Update applies the non-nil fields of req over the stored job and writes
// only those columns. Concurrent updates are last-write-wins per column.
func (s *JobService) Update(ctx context.Context, id string, req *dtos.JobUpdateRequest) (*models.Job, error) {
	if !validID(id) {
		return nil, apperr.NotFound()
	}

	var job models.Job
	err := s.DB.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound()
	}
	if err != nil {
		return nil, apperr.Internal("find job", err)
	}

	changes := make(map[string]interface{})
	if req.Company != nil {
		job.Company = strings.TrimSpace(*req.Company)
		changes["company"] = job.Company
	}
	if req.Position != nil {
		job.Position = *req.Position
		changes["position"] = job.Position
	}
	if req.Status != nil {
		job.Status = models.Status(*req.Status)
		changes["status"] = job.Status
	}
	if req.SalaryExpectation != nil {
		job.SalaryExpectation = req.SalaryExpectation
		changes["salary_expectation"] = *req.SalaryExpectation
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return &job, nil
	}

	res := s.DB.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return nil, apperr.Internal("update job", res.Error)
	}
	// Deleted between the read and the write.
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound()
	}
	return &job, nil
}

// Delete permanently removes a job.
func (s *JobService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return apperr.NotFound()
	}

	res := s.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{})
	if res.Error != nil {
		return apperr.Internal("delete job", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound()
	}
	return nil
}

// Ids are UUIDs in canonical 36-character form; uuid.Parse also accepts
// urn and braced forms, which the uuid column type rejects.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
