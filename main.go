package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pananq/stock-analysis-app/config"
	"github.com/pananq/stock-analysis-app/controllers"
	"github.com/pananq/stock-analysis-app/models"
	"github.com/pananq/stock-analysis-app/routes"
	"github.com/pananq/stock-analysis-app/scheduler"
	"github.com/pananq/stock-analysis-app/services/datafetcher"
	"github.com/pananq/stock-analysis-app/services/marketdata"
	"github.com/pananq/stock-analysis-app/services/ratelimit"
	"github.com/pananq/stock-analysis-app/services/store"
	"github.com/pananq/stock-analysis-app/services/strategy"
	"github.com/pananq/stock-analysis-app/services/taskfeed"
	"github.com/pananq/stock-analysis-app/services/tasks"
)

// app holds everything initialized in the background once the database is up.
// Guarded by mu so the readiness endpoint and shutdown can observe it safely.
type app struct {
	mu      sync.RWMutex
	ready   bool
	db      *gorm.DB
	store   *store.Store
	manager *tasks.Manager
	sched   *scheduler.Scheduler
	feed    *taskfeed.Hub
}

func main() {
	log.Println("==============================================")
	log.Println("  Stock Analysis API - Starting...")
	log.Println("==============================================")

	cfg := config.LoadConfig()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	a := &app{}

	// Health endpoints first so orchestrators see the service as up while the
	// database initializes in the background.
	setupHealthEndpoints(router, a)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	go initializeApp(a, cfg, router)

	gracefulShutdown(server, a)
}

// initializeApp connects the database, runs migrations, wires all services
// and registers the API routes.
func initializeApp(a *app, cfg *config.Config, router *gin.Engine) {
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Printf("ERROR: Database connection failed: %v", err)
		log.Println("Service will continue in limited mode (health check only)")
		return
	}

	log.Println("Running database migrations...")
	if err := models.MigrateMarketModels(db); err != nil {
		log.Printf("ERROR: Market model migration failed: %v", err)
		return
	}
	if err := models.MigrateJobModels(db); err != nil {
		log.Printf("ERROR: Job model migration failed: %v", err)
		return
	}
	log.Println("Database migrations completed")

	st := store.New(db)

	feed := taskfeed.NewHub()
	go feed.Run()

	manager := tasks.NewManager(
		tasks.WithMaxTasks(cfg.MaxTasks),
		tasks.WithUpdateHook(feed.Publish),
	)

	limiter := ratelimit.New(ratelimit.Config{
		MinDelay:   cfg.FetchMinDelay,
		MaxDelay:   cfg.FetchMaxDelay,
		MaxRetries: cfg.FetchMaxRetries,
		Rate:       cfg.FetchRate,
	})
	fetcher := datafetcher.NewDataFetcher(cfg.DataAPIBaseURL)
	imports := marketdata.NewImportService(st, fetcher, limiter)
	strategies := strategy.NewService(strategy.NewEngine(st), st)

	sched := scheduler.New(manager, st, imports, strategies, scheduler.Config{
		StockSyncAt:      cfg.StockSyncAt,
		DataUpdateAt:     cfg.DataUpdateAt,
		StrategyRunAt:    cfg.StrategyRunAt,
		HealthCheckEvery: cfg.HealthCheckEvery,
		UpdateDays:       cfg.UpdateDays,
		JobLogRetention:  cfg.JobLogRetention,
		TaskRetention:    cfg.TaskRetention,
	})
	if err := sched.Start(context.Background()); err != nil {
		log.Printf("ERROR: Scheduler start failed: %v", err)
		return
	}

	routes.SetupRoutes(router,
		controllers.NewTaskController(manager, sched, feed),
		controllers.NewJobController(st, sched),
		controllers.NewStockController(st),
	)

	a.mu.Lock()
	a.db = db
	a.store = st
	a.manager = manager
	a.sched = sched
	a.feed = feed
	a.ready = true
	a.mu.Unlock()

	log.Println("Application fully initialized with database")
}

func setupHealthEndpoints(router *gin.Engine, a *app) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Stock Analysis API",
			"version": "1.0.0",
		})
	})

	// Liveness probe, always OK while the process runs.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness probe, requires a reachable database.
	router.GET("/ready", func(c *gin.Context) {
		a.mu.RLock()
		ready, st := a.ready, a.store
		a.mu.RUnlock()

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

func gracefulShutdown(server *http.Server, a *app) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	a.mu.RLock()
	sched, manager, feed, db := a.sched, a.manager, a.feed, a.db
	a.mu.RUnlock()

	// Stop launching new work first, then wait for running tasks so no job
	// run is left without a terminal status.
	if sched != nil {
		sched.Stop()
	}
	if manager != nil {
		done := make(chan struct{})
		go func() {
			manager.Wait()
			close(done)
		}()
		select {
		case <-done:
			log.Println("All background tasks finished")
		case <-time.After(30 * time.Second):
			log.Println("Timed out waiting for background tasks")
		}
	}
	if feed != nil {
		feed.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
