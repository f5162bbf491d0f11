package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JobRun status values. A row is written once with StatusRunning when a job
// starts and updated exactly once with a terminal status when it finishes.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusError   = "error"
)

// Job types recorded in job history.
const (
	JobTypeDataImport    = "data_import"
	JobTypeDataUpdate    = "data_update"
	JobTypeStrategyRun   = "strategy_execution"
	JobTypeHealthCheck   = "health_check"
	JobTypeStockListSync = "stock_list_sync"
)

// TaskDetail detail types.
const (
	DetailImportSuccess = "import_success"
	DetailImportFailed  = "import_failed"
	DetailStrategyMatch = "strategy_match"
)

// JobRun is one persisted execution of a scheduled or manually triggered job.
// It lives independently of the in-memory task registry so job history
// survives a process restart.
type JobRun struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	JobType     string     `gorm:"size:50;index;not null" json:"job_type"`
	JobName     string     `gorm:"size:200;not null" json:"job_name"`
	Status      string     `gorm:"size:20;index;not null" json:"status"`
	StartedAt   time.Time  `gorm:"index;not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Duration    float64    `json:"duration"` // seconds
	Message     string     `gorm:"type:text" json:"message"`
	Error       string     `gorm:"type:text" json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskDetail is one per-symbol outcome recorded during a JobRun, e.g. an
// import success/failure or a strategy match. Rows are deleted together with
// their JobRun.
type TaskDetail struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	JobRunID   uint      `gorm:"index;not null" json:"job_run_id"`
	TaskType   string    `gorm:"size:50" json:"task_type"`
	StockCode  string    `gorm:"size:20;index" json:"stock_code"`
	StockName  string    `gorm:"size:100" json:"stock_name"`
	DetailType string    `gorm:"size:50;index" json:"detail_type"`
	DetailData string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImportSuccessDetail is the payload stored for an import_success detail.
type ImportSuccessDetail struct {
	Records   int    `json:"records"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ImportFailedDetail is the payload stored for an import_failed detail.
type ImportFailedDetail struct {
	Error string `json:"error"`
}

// StrategyMatchDetail is the payload stored for a strategy_match detail.
type StrategyMatchDetail struct {
	TriggerDate     string            `json:"trigger_date"`
	TriggerPct      decimal.Decimal   `json:"trigger_pct_change"`
	ObservationDays int               `json:"observation_days"`
	MAPeriod        int               `json:"ma_period"`
	Observation     ObservationDetail `json:"observation_result"`
}

// ObservationDetail summarizes the post-trigger confirmation window.
type ObservationDetail struct {
	DaysChecked int              `json:"days_checked"`
	DaysAboveMA int              `json:"days_above_ma"`
	Days        []ObservationDay `json:"details"`
}

// ObservationDay is one day inside the observation window.
type ObservationDay struct {
	Date    string          `json:"date"`
	Close   decimal.Decimal `json:"close"`
	MA      decimal.Decimal `json:"ma"`
	AboveMA bool            `json:"above_ma"`
}

// SetPayload serializes a typed detail payload into DetailData.
func (d *TaskDetail) SetPayload(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	d.DetailData = string(data)
	return nil
}

// Payload deserializes DetailData into the given typed payload.
func (d *TaskDetail) Payload(out interface{}) error {
	return json.Unmarshal([]byte(d.DetailData), out)
}

// MarshalJSON inlines the decoded payload as detail_data so API consumers
// never see double-encoded JSON.
func (d TaskDetail) MarshalJSON() ([]byte, error) {
	type alias TaskDetail
	var payload json.RawMessage
	if d.DetailData != "" {
		payload = json.RawMessage(d.DetailData)
	}
	return json.Marshal(struct {
		alias
		DetailData json.RawMessage `json:"detail_data,omitempty"`
	}{alias(d), payload})
}

// MigrateJobModels runs database migrations for job history models
func MigrateJobModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&JobRun{},
		&TaskDetail{},
	)
}
