// Package api serves the carbon-ledger HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/exchange"
	"github.com/celerix-dev/carbon-ledger/internal/observability"
	"github.com/celerix-dev/carbon-ledger/internal/records"
	"github.com/celerix-dev/carbon-ledger/pkg/schema"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// Generator runs one recommendation generation.
type Generator interface {
	Generate(ctx context.Context) (*exchange.Report, error)
}

type Handler struct {
	Ledger    *records.Ledger
	Generator Generator
	Logger    *zap.Logger
	// Tip picks a quick tip; nil means a random one.
	Tip func() string
}

// NewRouter registers every route on a new gin engine.
func NewRouter(h *Handler) *gin.Engine {
	if h.Logger == nil {
		h.Logger = zap.L()
	}
	if h.Tip == nil {
		h.Tip = RandomTip
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Logger), cors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/recommendations/generate", h.GenerateRecommendations)
		apiGroup.GET("/tips/random", h.QuickTip)

		registerCollection(apiGroup, "/users", h.Ledger.Users, h.Logger)
		registerCollection(apiGroup, "/activities", h.Ledger.Activities, h.Logger)
		registerCollection(apiGroup, "/emission-factors", h.Ledger.EmissionFactors, h.Logger)
		registerCollection(apiGroup, "/emissions", h.Ledger.Emissions, h.Logger)
		registerCollection(apiGroup, "/recommendations", h.Ledger.Recommendations, h.Logger)
		registerCollection(apiGroup, "/vehicles", h.Ledger.Vehicles, h.Logger)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
	})
	return r
}

// GenerateRecommendations runs the exchange. Failure details are logged; the
// caller only learns that generation failed.
func (h *Handler) GenerateRecommendations(c *gin.Context) {
	report, err := h.Generator.Generate(c.Request.Context())
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		var xerr *exchange.Error
		if errors.As(err, &xerr) {
			fields = append(fields, zap.String("kind", string(xerr.Kind)), zap.String("state", string(xerr.State)))
		}
		if report != nil {
			fields = append(fields, zap.Int("saved", len(report.Saved)), zap.Int("failed", len(report.Failed)))
		}
		h.Logger.Error("Error generating recommendations", fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate recommendations"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) QuickTip(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tip": h.Tip()})
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		observability.RecordHTTPRequest(c.Request.Method, c.FullPath(), status)
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// writeError maps store and schema errors onto HTTP statuses.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, sdk.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	case errors.Is(err, schema.ErrInvalidRecord),
		errors.Is(err, sdk.ErrInvalidField),
		errors.Is(err, sdk.ErrInvalidCollection),
		errors.Is(err, sdk.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("store request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
