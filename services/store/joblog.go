package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pananq/stock-analysis-app/models"
)

// JobRunFilter narrows ListJobRuns results.
type JobRunFilter struct {
	JobType string
	Status  string
	Limit   int
	Offset  int
}

// CreateJobRun inserts a running JobRun row and returns it.
func (s *Store) CreateJobRun(ctx context.Context, jobType, jobName string) (*models.JobRun, error) {
	run := &models.JobRun{
		JobType:   jobType,
		JobName:   jobName,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create job run %s: %w", jobType, err)
	}
	return run, nil
}

// CompleteJobRun writes a JobRun's terminal status. Duration is derived from
// the stored start time.
func (s *Store) CompleteJobRun(ctx context.Context, id uint, status, message, errMsg string) error {
	var run models.JobRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return fmt.Errorf("load job run %d: %w", id, err)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": now,
		"duration":     now.Sub(run.StartedAt).Seconds(),
		"message":      message,
		"error":        errMsg,
	}
	if err := s.db.WithContext(ctx).Model(&run).Updates(updates).Error; err != nil {
		return fmt.Errorf("complete job run %d: %w", id, err)
	}
	return nil
}

// GetJobRun loads one JobRun by id.
func (s *Store) GetJobRun(ctx context.Context, id uint) (*models.JobRun, error) {
	var run models.JobRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("load job run %d: %w", id, err)
	}
	return &run, nil
}

// ListJobRuns returns job history most-recent-first plus the total count for
// pagination.
func (s *Store) ListJobRuns(ctx context.Context, filter JobRunFilter) ([]models.JobRun, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.JobRun{})
	if filter.JobType != "" {
		q = q.Where("job_type = ?", filter.JobType)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count job runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var runs []models.JobRun
	err := q.Order("started_at DESC").Limit(limit).Offset(filter.Offset).Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list job runs: %w", err)
	}
	return runs, total, nil
}

// DeleteJobRun removes a JobRun and all its details in one transaction.
func (s *Store) DeleteJobRun(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_run_id = ?", id).Delete(&models.TaskDetail{}).Error; err != nil {
			return fmt.Errorf("delete details of job run %d: %w", id, err)
		}
		if err := tx.Delete(&models.JobRun{}, id).Error; err != nil {
			return fmt.Errorf("delete job run %d: %w", id, err)
		}
		return nil
	})
}

// AddTaskDetail appends one per-symbol outcome to a JobRun. The payload is
// serialized as the detail's JSON body.
func (s *Store) AddTaskDetail(ctx context.Context, jobRunID uint, taskType, code, name, detailType string, payload interface{}) error {
	detail := models.TaskDetail{
		JobRunID:   jobRunID,
		TaskType:   taskType,
		StockCode:  code,
		StockName:  name,
		DetailType: detailType,
	}
	if payload != nil {
		if err := detail.SetPayload(payload); err != nil {
			return fmt.Errorf("encode detail payload: %w", err)
		}
	}
	if err := s.db.WithContext(ctx).Create(&detail).Error; err != nil {
		return fmt.Errorf("add task detail for job run %d: %w", jobRunID, err)
	}
	return nil
}

// GetJobRunDetails returns a JobRun's per-symbol outcomes in insertion order.
func (s *Store) GetJobRunDetails(ctx context.Context, jobRunID uint, limit, offset int) ([]models.TaskDetail, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var details []models.TaskDetail
	err := s.db.WithContext(ctx).
		Where("job_run_id = ?", jobRunID).
		Order("id").
		Limit(limit).Offset(offset).
		Find(&details).Error
	if err != nil {
		return nil, fmt.Errorf("list details of job run %d: %w", jobRunID, err)
	}
	return details, nil
}

// FailRunningJobRuns marks every JobRun still in running state as failed.
// Called once at startup: a running row at that point belongs to a process
// that died before writing its terminal status.
func (s *Store) FailRunningJobRuns(ctx context.Context, reason string) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.JobRun{}).
		Where("status = ?", models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.JobStatusError,
			"completed_at": now,
			"error":        reason,
			"message":      "terminated",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail running job runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeJobRunsBefore deletes job history older than the cutoff, details
// included.
func (s *Store) PurgeJobRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.JobRun{}).
			Where("started_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("find old job runs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("job_run_id IN ?", ids).Delete(&models.TaskDetail{}).Error; err != nil {
			return fmt.Errorf("delete old details: %w", err)
		}
		res := tx.Delete(&models.JobRun{}, ids)
		if res.Error != nil {
			return fmt.Errorf("delete old job runs: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// ListStrategies returns strategies, optionally only enabled ones.
func (s *Store) ListStrategies(ctx context.Context, enabledOnly bool) ([]models.Strategy, error) {
	q := s.db.WithContext(ctx).Model(&models.Strategy{})
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var strategies []models.Strategy
	if err := q.Order("id").Find(&strategies).Error; err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	return strategies, nil
}

// GetStrategy loads one strategy by id.
func (s *Store) GetStrategy(ctx context.Context, id uint) (*models.Strategy, error) {
	var strategy models.Strategy
	if err := s.db.WithContext(ctx).First(&strategy, id).Error; err != nil {
		return nil, fmt.Errorf("load strategy %d: %w", id, err)
	}
	return &strategy, nil
}

// TouchStrategyExecuted records that a strategy just ran.
func (s *Store) TouchStrategyExecuted(ctx context.Context, id uint) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.Strategy{}).
		Where("id = ?", id).
		Update("last_executed_at", now).Error
	if err != nil {
		return fmt.Errorf("touch strategy %d: %w", id, err)
	}
	return nil
}
