// Package scheduler ties the cron schedule, the task manager and persistent
// job history together. Every job execution, scheduled or manually triggered,
// runs as a background task bracketed by a JobRun row.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/services/marketdata"
	"github.com/pananq/stock-analysis-app/services/store"
	"github.com/pananq/stock-analysis-app/services/strategy"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

// ErrJobActive is returned when a job is triggered while its previous run has
// not reached a terminal state. The new run is skipped, not queued.
var ErrJobActive = errors.New("job already running")

// Config carries the schedule and retention knobs.
type Config struct {
	StockSyncAt      string        // "HH:MM", daily symbol list refresh
	DataUpdateAt     string        // "HH:MM", daily incremental import
	StrategyRunAt    string        // "HH:MM", daily strategy scan
	HealthCheckEvery time.Duration // interval between health probes
	UpdateDays       int           // fallback window for symbols without data
	JobLogRetention  time.Duration // how long JobRun history is kept
	TaskRetention    time.Duration // how long finished in-memory tasks are kept
}

// Scheduler owns the cron loop and the mapping from job names to their
// currently running task.
type Scheduler struct {
	cron       *gocron.Scheduler
	manager    *tasks.Manager
	store      *store.Store
	imports    *marketdata.ImportService
	strategies *strategy.Service
	cfg        Config

	mu       sync.Mutex
	inflight map[string]string // job name -> task id of the latest run
}

// New creates a scheduler. Call Start to register the cron jobs and begin.
func New(manager *tasks.Manager, st *store.Store, imports *marketdata.ImportService, strategies *strategy.Service, cfg Config) *Scheduler {
	if cfg.StockSyncAt == "" {
		cfg.StockSyncAt = "08:30"
	}
	if cfg.DataUpdateAt == "" {
		cfg.DataUpdateAt = "17:30"
	}
	if cfg.StrategyRunAt == "" {
		cfg.StrategyRunAt = "18:30"
	}
	if cfg.HealthCheckEvery <= 0 {
		cfg.HealthCheckEvery = 5 * time.Minute
	}
	if cfg.JobLogRetention <= 0 {
		cfg.JobLogRetention = 30 * 24 * time.Hour
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = 24 * time.Hour
	}
	return &Scheduler{
		cron:       gocron.NewScheduler(time.Local),
		manager:    manager,
		store:      st,
		imports:    imports,
		strategies: strategies,
		cfg:        cfg,
		inflight:   make(map[string]string),
	}
}

// Start marks orphaned job runs from a previous process as failed, registers
// the cron schedule and starts it in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	n, err := s.store.FailRunningJobRuns(ctx, "process restarted while job was running")
	if err != nil {
		return fmt.Errorf("clean up orphaned job runs: %w", err)
	}
	if n > 0 {
		log.Printf("marked %d orphaned job runs as failed", n)
	}

	if _, err := s.cron.Every(1).Day().At(s.cfg.StockSyncAt).Do(s.scheduledStockSync); err != nil {
		return fmt.Errorf("register stock sync job: %w", err)
	}
	if _, err := s.cron.Every(1).Day().At(s.cfg.DataUpdateAt).Do(s.scheduledDataUpdate); err != nil {
		return fmt.Errorf("register data update job: %w", err)
	}
	if _, err := s.cron.Every(1).Day().At(s.cfg.StrategyRunAt).Do(s.scheduledStrategyRun); err != nil {
		return fmt.Errorf("register strategy run job: %w", err)
	}
	if _, err := s.cron.Every(s.cfg.HealthCheckEvery).Do(s.scheduledHealthCheck); err != nil {
		return fmt.Errorf("register health check job: %w", err)
	}
	if _, err := s.cron.Every(1).Day().At("03:00").Do(s.maintenance); err != nil {
		return fmt.Errorf("register maintenance job: %w", err)
	}

	s.cron.StartAsync()
	log.Printf("scheduler started: sync %s, update %s, strategy %s, health every %s",
		s.cfg.StockSyncAt, s.cfg.DataUpdateAt, s.cfg.StrategyRunAt, s.cfg.HealthCheckEvery)
	return nil
}

// Stop halts the cron loop. Running tasks keep going; main waits for them
// through the task manager.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("scheduler stopped")
}

func (s *Scheduler) scheduledStockSync() {
	if _, err := s.RunStockSync(); err != nil && !errors.Is(err, ErrJobActive) {
		log.Printf("scheduled stock sync failed to start: %v", err)
	}
}

func (s *Scheduler) scheduledDataUpdate() {
	if _, err := s.RunDataUpdate(); err != nil && !errors.Is(err, ErrJobActive) {
		log.Printf("scheduled data update failed to start: %v", err)
	}
}

func (s *Scheduler) scheduledStrategyRun() {
	if _, err := s.RunStrategyScan(); err != nil && !errors.Is(err, ErrJobActive) {
		log.Printf("scheduled strategy run failed to start: %v", err)
	}
}

func (s *Scheduler) scheduledHealthCheck() {
	if _, err := s.RunHealthCheck(); err != nil && !errors.Is(err, ErrJobActive) {
		log.Printf("scheduled health check failed to start: %v", err)
	}
}

// maintenance prunes old job history and finished in-memory tasks.
func (s *Scheduler) maintenance() {
	ctx := context.Background()
	deleted, err := s.store.PurgeJobRunsBefore(ctx, time.Now().Add(-s.cfg.JobLogRetention))
	if err != nil {
		log.Printf("purge job history failed: %v", err)
	} else if deleted > 0 {
		log.Printf("purged %d old job runs", deleted)
	}
	s.manager.CleanupFinished(s.cfg.TaskRetention)
}

// RunFullImport triggers a full history import over [from, to]. Zero bounds
// select the default window. Manual trigger only, never scheduled.
func (s *Scheduler) RunFullImport(from, to time.Time) (string, error) {
	return s.runJob(models.JobTypeDataImport, "full_data_import", tasks.KindFullImport,
		func(rec *runRecorder) tasks.WorkFunc {
			return s.imports.FullImport(from, to, rec)
		})
}

// RunDataUpdate triggers the incremental daily update.
func (s *Scheduler) RunDataUpdate() (string, error) {
	return s.runJob(models.JobTypeDataUpdate, "daily_data_update", tasks.KindIncrementalUpdate,
		func(rec *runRecorder) tasks.WorkFunc {
			return s.imports.IncrementalUpdate(s.cfg.UpdateDays, rec)
		})
}

// RunStrategyScan triggers a scan of all enabled strategies.
func (s *Scheduler) RunStrategyScan() (string, error) {
	return s.runJob(models.JobTypeStrategyRun, "daily_strategy_run", tasks.KindStrategyScan,
		func(rec *runRecorder) tasks.WorkFunc {
			return s.strategies.RunAll(rec)
		})
}

// RunStockSync triggers a symbol list refresh.
func (s *Scheduler) RunStockSync() (string, error) {
	return s.runJob(models.JobTypeStockListSync, "stock_list_sync", tasks.KindStockSync,
		func(*runRecorder) tasks.WorkFunc {
			return s.imports.SyncSymbolList()
		})
}

// RunHealthCheck triggers a database connectivity probe.
func (s *Scheduler) RunHealthCheck() (string, error) {
	return s.runJob(models.JobTypeHealthCheck, "health_check", tasks.KindHealthCheck,
		func(*runRecorder) tasks.WorkFunc {
			return func(ctx context.Context, progress tasks.ProgressFunc) error {
				if err := s.store.Ping(ctx); err != nil {
					return fmt.Errorf("database ping: %w", err)
				}
				progress(100, "database ok")
				return nil
			}
		})
}

// RunJobNow triggers one job type by name. Used by the manual trigger API.
func (s *Scheduler) RunJobNow(jobType string) (string, error) {
	switch jobType {
	case models.JobTypeDataImport:
		return s.RunFullImport(time.Time{}, time.Time{})
	case models.JobTypeDataUpdate:
		return s.RunDataUpdate()
	case models.JobTypeStrategyRun:
		return s.RunStrategyScan()
	case models.JobTypeStockListSync:
		return s.RunStockSync()
	case models.JobTypeHealthCheck:
		return s.RunHealthCheck()
	default:
		return "", fmt.Errorf("unknown job type %q", jobType)
	}
}

// runJob is the single path every job execution takes: dedup against the
// previous run of the same name, open a JobRun row, submit the task, write
// the terminal status when it finishes.
func (s *Scheduler) runJob(jobType, jobName string, kind tasks.Kind, build func(*runRecorder) tasks.WorkFunc) (string, error) {
	// Check and reserve in one critical section so concurrent triggers of the
	// same job name cannot both pass the check. An empty id marks a
	// reservation whose task has not been submitted yet.
	s.mu.Lock()
	if prev, ok := s.inflight[jobName]; ok {
		if prev == "" {
			s.mu.Unlock()
			log.Printf("job %s skipped: previous run is starting", jobName)
			return "", ErrJobActive
		}
		if snap, err := s.manager.Get(prev); err == nil && !snap.Status.Terminal() {
			s.mu.Unlock()
			log.Printf("job %s skipped: previous run %s still %s", jobName, prev, snap.Status)
			return "", ErrJobActive
		}
	}
	s.inflight[jobName] = ""
	s.mu.Unlock()

	run, err := s.store.CreateJobRun(context.Background(), jobType, jobName)
	if err != nil {
		s.mu.Lock()
		delete(s.inflight, jobName)
		s.mu.Unlock()
		return "", fmt.Errorf("record job start: %w", err)
	}

	work := build(&runRecorder{store: s.store, jobRunID: run.ID})
	wrapped := func(ctx context.Context, progress tasks.ProgressFunc) (err error) {
		var lastMsg string
		// The terminal JobRun write must happen even when the body panics;
		// the panic is re-raised so the task itself is still recorded failed.
		defer func() {
			if r := recover(); r != nil {
				s.finishJobRun(run.ID, jobName, lastMsg, fmt.Errorf("panic: %v", r))
				panic(r)
			}
			s.finishJobRun(run.ID, jobName, lastMsg, err)
		}()
		err = work(ctx, func(pct float64, msg string) {
			if msg != "" {
				lastMsg = msg
			}
			progress(pct, msg)
		})
		return err
	}

	id := s.manager.Submit(kind, wrapped)
	s.mu.Lock()
	s.inflight[jobName] = id
	s.mu.Unlock()

	log.Printf("job %s started as task %s (job run %d)", jobName, id, run.ID)
	return id, nil
}

func (s *Scheduler) finishJobRun(runID uint, jobName, message string, err error) {
	status := models.JobStatusSuccess
	errMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = models.JobStatusError
		errMsg = "cancelled"
	default:
		status = models.JobStatusError
		errMsg = err.Error()
	}
	if cerr := s.store.CompleteJobRun(context.Background(), runID, status, message, errMsg); cerr != nil {
		log.Printf("record terminal status of job run %d (%s): %v", runID, jobName, cerr)
	}
}

// TaskForJob returns the task id of the latest run of the given job name,
// if any.
func (s *Scheduler) TaskForJob(jobName string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.inflight[jobName]
	return id, ok
}

// runRecorder binds per-symbol detail records to one JobRun. Recording
// failures are logged, never fatal to the batch.
type runRecorder struct {
	store    *store.Store
	jobRunID uint
}

func (r *runRecorder) Record(ctx context.Context, taskType, code, name, detailType string, payload interface{}) {
	if err := r.store.AddTaskDetail(ctx, r.jobRunID, taskType, code, name, detailType, payload); err != nil {
		log.Printf("record %s detail for %s (job run %d): %v", detailType, code, r.jobRunID, err)
	}
}
