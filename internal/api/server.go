package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var ErrNoExportManager = errors.New("export manager is required")
var ErrNoRecordQuery = errors.New("record query is required")
var ErrNoLibrary = errors.New("media library is required")

type Server struct {
	router *gin.Engine

	httpSrv *http.Server
}

type ServerOptions struct {
	Manager exportManager
	Records recordQuery
	Library libraryCounter
	Logger  *zap.Logger
	Addr    string

	// MetricsHandler serves GET /metrics. Defaults to the prometheus
	// default registry.
	MetricsHandler http.Handler
}

func NewServer(opts *ServerOptions) (*Server, error) {
	if opts.Manager == nil {
		return nil, ErrNoExportManager
	}
	if opts.Records == nil {
		return nil, ErrNoRecordQuery
	}
	if opts.Library == nil {
		return nil, ErrNoLibrary
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}

	router := gin.New()
	router.Use(
		RecoveryMiddleware(opts.Logger),
		RequestIDMiddleware(),
		LoggingMiddleware(opts.Logger),
	)

	h := NewHandler(opts.Manager, opts.Records, opts.Library, opts.Logger)
	setupRouter(router, h, opts.MetricsHandler)

	return &Server{
		router: router,
		httpSrv: &http.Server{
			Addr:    opts.Addr,
			Handler: router,
		}}, nil
}

func setupRouter(router *gin.Engine, h *handler, metricsHandler http.Handler) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/exports/months", h.enqueueMonth)
		v1.POST("/exports/years", h.enqueueYear)

		v1.GET("/records", h.listRecords)
		v1.GET("/records/:id", h.getRecord)
		v1.GET("/months/:year/:month/summary", h.monthSummary)

		v1.GET("/queue", h.queueStatus)
		v1.POST("/queue/pause", h.pauseQueue)
		v1.POST("/queue/resume", h.resumeQueue)
		v1.POST("/queue/clear", h.clearPending)
		v1.POST("/queue/cancel", h.cancelQueue)

		v1.PUT("/destination", h.setDestination)
	}
}

func (s *Server) Run() error {
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
