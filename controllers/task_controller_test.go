package controllers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pananq/stock-analysis-app/controllers"
	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/routes"
	"github.com/pananq/stock-analysis-app/scheduler"
	"github.com/pananq/stock-analysis-app/services/store"
	"github.com/pananq/stock-analysis-app/services/taskfeed"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

func newTestRouter(t *testing.T) (*gin.Engine, *tasks.Manager, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.MigrateMarketModels(db))
	require.NoError(t, models.MigrateJobModels(db))

	st := store.New(db)
	manager := tasks.NewManager()
	feed := taskfeed.NewHub()
	sched := scheduler.New(manager, st, nil, nil, scheduler.Config{})

	router := gin.New()
	routes.SetupRoutes(router,
		controllers.NewTaskController(manager, sched, feed),
		controllers.NewJobController(st, sched),
		controllers.NewStockController(st),
	)
	return router, manager, st
}

func jsonBody(s string) *strings.Reader { return strings.NewReader(s) }

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGetUnknownTaskReturns404(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/api/v1/tasks/no-such-id")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelUnknownTaskReturns404(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doRequest(router, http.MethodPost, "/api/v1/tasks/no-such-id/cancel")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAndGetTask(t *testing.T) {
	router, manager, _ := newTestRouter(t)

	id := manager.Submit(tasks.KindHealthCheck, func(ctx context.Context, progress tasks.ProgressFunc) error {
		progress(100, "done")
		return nil
	})
	manager.Wait()

	w := doRequest(router, http.MethodGet, "/api/v1/tasks")
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Count int `json:"count"`
		Tasks []tasks.Snapshot
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Equal(t, 1, listResp.Count)

	w = doRequest(router, http.MethodGet, "/api/v1/tasks/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	var snap tasks.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, tasks.StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
}

func TestCancelRunningTask(t *testing.T) {
	router, manager, _ := newTestRouter(t)
	started := make(chan struct{})

	id := manager.Submit(tasks.KindFullImport, func(ctx context.Context, progress tasks.ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	w := doRequest(router, http.MethodPost, "/api/v1/tasks/"+id+"/cancel")
	assert.Equal(t, http.StatusOK, w.Code)
	manager.Wait()

	snap, err := manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCancelled, snap.Status)
}

func TestStartImportRejectsBadDates(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/import",
		jsonBody(`{"start_date":"01/02/2024"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/tasks/import",
		jsonBody(`{"start_date":"2024-02-01","end_date":"2024-01-01"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHealthCheckJobEndpoint(t *testing.T) {
	router, manager, st := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/health_check/run")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	manager.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs, _, err := st.ListJobRuns(context.Background(), store.JobRunFilter{JobType: models.JobTypeHealthCheck})
		require.NoError(t, err)
		if len(runs) == 1 && runs[0].Status == models.JobStatusSuccess {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("health check job run never recorded as success")
}

func TestRunUnknownJobTypeReturns400(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doRequest(router, http.MethodPost, "/api/v1/jobs/defrag/run")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListStocksEndpoint(t *testing.T) {
	router, _, st := newTestRouter(t)
	require.NoError(t, st.DB().Create(&models.Stock{Code: "600000", Name: "Test Corp", Status: "normal"}).Error)

	w := doRequest(router, http.MethodGet, "/api/v1/stocks")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int            `json:"count"`
		Stocks []models.Stock `json:"stocks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "600000", resp.Stocks[0].Code)
}
