package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pananq/stock-analysis-app/scheduler"
	"github.com/pananq/stock-analysis-app/services/taskfeed"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

// TaskController exposes the in-memory task registry and manual triggers.
type TaskController struct {
	manager *tasks.Manager
	sched   *scheduler.Scheduler
	feed    *taskfeed.Hub
}

// NewTaskController creates a TaskController.
func NewTaskController(manager *tasks.Manager, sched *scheduler.Scheduler, feed *taskfeed.Hub) *TaskController {
	return &TaskController{manager: manager, sched: sched, feed: feed}
}

type importRequest struct {
	StartDate string `json:"start_date"` // YYYY-MM-DD, optional
	EndDate   string `json:"end_date"`   // YYYY-MM-DD, optional
}

// StartImport triggers a full history import.
// POST /api/v1/tasks/import
func (tc *TaskController) StartImport(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var from, to time.Time
	var err error
	if req.StartDate != "" {
		if from, err = time.Parse("2006-01-02", req.StartDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, expected YYYY-MM-DD"})
			return
		}
	}
	if req.EndDate != "" {
		if to, err = time.Parse("2006-01-02", req.EndDate); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date, expected YYYY-MM-DD"})
			return
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date before start_date"})
		return
	}

	taskID, err := tc.sched.RunFullImport(from, to)
	if err != nil {
		respondTriggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// StartUpdate triggers the incremental daily update.
// POST /api/v1/tasks/update
func (tc *TaskController) StartUpdate(c *gin.Context) {
	taskID, err := tc.sched.RunDataUpdate()
	if err != nil {
		respondTriggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// StartStrategyScan triggers a scan of all enabled strategies.
// POST /api/v1/tasks/strategy-scan
func (tc *TaskController) StartStrategyScan(c *gin.Context) {
	taskID, err := tc.sched.RunStrategyScan()
	if err != nil {
		respondTriggerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// ListTasks returns task snapshots most-recent-first.
// GET /api/v1/tasks?status=running&limit=50
func (tc *TaskController) ListTasks(c *gin.Context) {
	status := tasks.Status(c.Query("status"))
	limit := intQuery(c, "limit", 50)
	snaps := tc.manager.List(status, limit)
	c.JSON(http.StatusOK, gin.H{"tasks": snaps, "count": len(snaps)})
}

// GetTask returns one task snapshot.
// GET /api/v1/tasks/:id
func (tc *TaskController) GetTask(c *gin.Context) {
	snap, err := tc.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelTask requests cooperative cancellation of a task.
// POST /api/v1/tasks/:id/cancel
func (tc *TaskController) CancelTask(c *gin.Context) {
	err := tc.manager.Cancel(c.Param("id"))
	if errors.Is(err, tasks.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
}

// TaskFeed upgrades the connection to the websocket task update stream.
// GET /api/v1/tasks/ws
func (tc *TaskController) TaskFeed(c *gin.Context) {
	tc.feed.HandleWebSocket(c.Writer, c.Request)
}

func respondTriggerError(c *gin.Context, err error) {
	if errors.Is(err, scheduler.ErrJobActive) {
		c.JSON(http.StatusConflict, gin.H{"error": "a previous run of this job is still active"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
