package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pananq/stock-analysis-app/services/store"
)

// StockController exposes stored market data.
type StockController struct {
	store *store.Store
}

// NewStockController creates a StockController.
func NewStockController(st *store.Store) *StockController {
	return &StockController{store: st}
}

// ListStocks returns all tracked symbols with their data date ranges.
// GET /api/v1/stocks
func (sc *StockController) ListStocks(c *gin.Context) {
	stocks, err := sc.store.ListSymbols(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stocks": stocks, "count": len(stocks)})
}

// GetBars returns one symbol's daily bars, oldest first.
// GET /api/v1/stocks/:code/bars?start=2024-01-01&end=2024-12-31
func (sc *StockController) GetBars(c *gin.Context) {
	code := c.Param("code")

	var from, to time.Time
	var err error
	if raw := c.Query("start"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start, expected YYYY-MM-DD"})
			return
		}
	}
	if raw := c.Query("end"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end, expected YYYY-MM-DD"})
			return
		}
	}

	bars, err := sc.store.QueryBars(c.Request.Context(), code, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "bars": bars, "count": len(bars)})
}

// GetDateRange returns a symbol's stored data date range.
// GET /api/v1/stocks/:code/date-range
func (sc *StockController) GetDateRange(c *gin.Context) {
	code := c.Param("code")
	earliest, latest, err := sc.store.GetDateRange(c.Request.Context(), code)
	if err != nil {
		respondStoreError(c, err, "stock not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":     code,
		"earliest": earliest,
		"latest":   latest,
	})
}

// ListStrategies returns strategy configurations.
// GET /api/v1/strategies?enabled=true
func (sc *StockController) ListStrategies(c *gin.Context) {
	strategies, err := sc.store.ListStrategies(c.Request.Context(), c.Query("enabled") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies, "count": len(strategies)})
}
