// Package routes wires HTTP endpoints to their controllers.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/pananq/stock-analysis-app/controllers"
)

// SetupRoutes registers all API routes on the engine.
func SetupRoutes(r *gin.Engine, tc *controllers.TaskController, jc *controllers.JobController, sc *controllers.StockController) {
	api := r.Group("/api/v1")
	{
		tasks := api.Group("/tasks")
		{
			tasks.GET("", tc.ListTasks)
			tasks.GET("/ws", tc.TaskFeed)
			tasks.GET("/:id", tc.GetTask)
			tasks.POST("/:id/cancel", tc.CancelTask)
			tasks.POST("/import", tc.StartImport)
			tasks.POST("/update", tc.StartUpdate)
			tasks.POST("/strategy-scan", tc.StartStrategyScan)
		}

		jobs := api.Group("/jobs")
		{
			jobs.GET("/runs", jc.ListJobRuns)
			jobs.GET("/runs/:id", jc.GetJobRun)
			jobs.GET("/runs/:id/details", jc.GetJobRunDetails)
			jobs.DELETE("/runs/:id", jc.DeleteJobRun)
			jobs.POST("/:type/run", jc.RunJob)
		}

		stocks := api.Group("/stocks")
		{
			stocks.GET("", sc.ListStocks)
			stocks.GET("/:code/bars", sc.GetBars)
			stocks.GET("/:code/date-range", sc.GetDateRange)
		}

		api.GET("/strategies", sc.ListStrategies)
	}
}
