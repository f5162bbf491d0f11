package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock represents a tradable symbol tracked by the system.
//
// EarliestDataDate/LatestDataDate are derived fields: they always mirror
// MIN/MAX(trade_date) over the symbol's DailyBar rows, or are both NULL when
// no rows exist. They are only written inside the same transaction as the
// bar writes themselves.
type Stock struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	Code             string          `gorm:"uniqueIndex;not null" json:"code"`
	Name             string          `json:"name"`
	Exchange         string          `json:"exchange"` // SH, SZ, BJ
	Industry         string          `json:"industry"`
	MarketCap        decimal.Decimal `gorm:"type:decimal(20,2)" json:"market_cap"`
	Status           string          `json:"status"` // normal, delisted, suspended
	EarliestDataDate *time.Time      `json:"earliest_data_date"`
	LatestDataDate   *time.Time      `json:"latest_data_date"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DailyBar represents one day of historical market data for a symbol.
// All numeric fields coming from external providers are normalized to
// decimal at the ingestion boundary.
type DailyBar struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Code         string          `gorm:"uniqueIndex:idx_bar_code_date;not null" json:"code"`
	TradeDate    time.Time       `gorm:"uniqueIndex:idx_bar_code_date;not null" json:"trade_date"`
	Open         decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High         decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low          decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Close        decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	Volume       int64           `json:"volume"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	PctChange    decimal.Decimal `gorm:"type:decimal(10,4)" json:"pct_change"`
	TurnoverRate decimal.Decimal `gorm:"type:decimal(10,4)" json:"turnover_rate"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Strategy stores a user-defined pattern matching configuration.
// The trigger is a single-day rise of at least RiseThreshold percent; the
// observation phase requires the close to stay above the MAPeriod moving
// average on each of the following ObservationDays trading days.
type Strategy struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Name            string          `gorm:"uniqueIndex;not null" json:"name"`
	Description     string          `json:"description"`
	RiseThreshold   decimal.Decimal `gorm:"type:decimal(10,4)" json:"rise_threshold"`
	ObservationDays int             `json:"observation_days"`
	MAPeriod        int             `json:"ma_period"`
	LookbackDays    int             `json:"lookback_days"` // scan window length, default 30
	Enabled         bool            `gorm:"default:true" json:"enabled"`
	LastExecutedAt  *time.Time      `json:"last_executed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MigrateMarketModels runs database migrations for market data models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&DailyBar{},
		&Strategy{},
	)
}
