// Package config loads environment configuration and initializes the
// database connection.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds all runtime configuration.
type Config struct {
	Port        string
	Environment string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	DataAPIBaseURL string

	// Rate limiter tuning for the external data provider.
	FetchMinDelay   time.Duration
	FetchMaxDelay   time.Duration
	FetchMaxRetries int
	FetchRate       float64

	// Daily schedule, local time.
	StockSyncAt   string
	DataUpdateAt  string
	StrategyRunAt string

	HealthCheckEvery time.Duration
	UpdateDays       int
	JobLogRetention  time.Duration
	TaskRetention    time.Duration
	MaxTasks         int
}

// LoadConfig reads configuration from the environment, with .env as an
// optional overlay for local development.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "stock_analysis"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		DataAPIBaseURL: getEnv("DATA_API_BASE_URL", ""),

		FetchMinDelay:   getEnvDuration("FETCH_MIN_DELAY", 100*time.Millisecond),
		FetchMaxDelay:   getEnvDuration("FETCH_MAX_DELAY", 500*time.Millisecond),
		FetchMaxRetries: getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchRate:       getEnvFloat("FETCH_RATE", 10),

		StockSyncAt:   getEnv("STOCK_SYNC_AT", "08:30"),
		DataUpdateAt:  getEnv("DATA_UPDATE_AT", "17:30"),
		StrategyRunAt: getEnv("STRATEGY_RUN_AT", "18:30"),

		HealthCheckEvery: getEnvDuration("HEALTH_CHECK_EVERY", 5*time.Minute),
		UpdateDays:       getEnvInt("UPDATE_DAYS", 5),
		JobLogRetention:  getEnvDuration("JOB_LOG_RETENTION", 30*24*time.Hour),
		TaskRetention:    getEnvDuration("TASK_RETENTION", 24*time.Hour),
		MaxTasks:         getEnvInt("MAX_TASKS", 200),
	}
}

// InitDB opens the postgres connection and configures the pool.
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	logLevel := logger.Warn
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	return db, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("invalid %s=%q, using %g", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
