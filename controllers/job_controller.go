package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pananq/stock-analysis-app/scheduler"
	"github.com/pananq/stock-analysis-app/services/store"
)

// JobController exposes persistent job history and manual job triggers.
type JobController struct {
	store *store.Store
	sched *scheduler.Scheduler
}

// NewJobController creates a JobController.
func NewJobController(st *store.Store, sched *scheduler.Scheduler) *JobController {
	return &JobController{store: st, sched: sched}
}

// ListJobRuns returns job history most-recent-first.
// GET /api/v1/jobs/runs?job_type=data_update&status=error&limit=100&offset=0
func (jc *JobController) ListJobRuns(c *gin.Context) {
	filter := store.JobRunFilter{
		JobType: c.Query("job_type"),
		Status:  c.Query("status"),
		Limit:   intQuery(c, "limit", 0),
		Offset:  intQuery(c, "offset", 0),
	}
	runs, total, err := jc.store.ListJobRuns(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": total})
}

// GetJobRun returns one job run.
// GET /api/v1/jobs/runs/:id
func (jc *JobController) GetJobRun(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	run, err := jc.store.GetJobRun(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "job run not found")
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetJobRunDetails returns a job run's per-symbol outcomes.
// GET /api/v1/jobs/runs/:id/details?limit=1000&offset=0
func (jc *JobController) GetJobRunDetails(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	details, err := jc.store.GetJobRunDetails(c.Request.Context(), id,
		intQuery(c, "limit", 0), intQuery(c, "offset", 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"details": details, "count": len(details)})
}

// DeleteJobRun removes a job run and all its details.
// DELETE /api/v1/jobs/runs/:id
func (jc *JobController) DeleteJobRun(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := jc.store.DeleteJobRun(c.Request.Context(), id); err != nil {
		respondStoreError(c, err, "job run not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// RunJob triggers one job type immediately.
// POST /api/v1/jobs/:type/run
func (jc *JobController) RunJob(c *gin.Context) {
	taskID, err := jc.sched.RunJobNow(c.Param("type"))
	if err != nil {
		if errors.Is(err, scheduler.ErrJobActive) {
			c.JSON(http.StatusConflict, gin.H{"error": "a previous run of this job is still active"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func respondStoreError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
