// Package httpapi exposes the engine over HTTP so external workers can
// signal suspended executions and operators can inspect wait states and run
// continuation jobs.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/gin-gonic/gin"
)

// Engine is the subset of *asynctask.Engine served by the API.
type Engine interface {
	Deliver(ctx context.Context, signal asynctask.Signal) error
	Execution(id string) (*asynctask.Execution, bool)
	Executions() []*asynctask.Execution
	WaitingExecutions(olderThan time.Duration) []*asynctask.ExecutionSummary
	PendingJobs() []*asynctask.Job
	ExecuteJob(ctx context.Context, jobID string) error
}

var _ Engine = (*asynctask.Engine)(nil)

// NewRouter returns a gin router serving the engine.
//
//	POST /executions/:id/signal   deliver a signal
//	GET  /executions/:id          inspect an execution
//	GET  /executions              list executions (?waiting_for=5m for stuck waits)
//	GET  /jobs                    list pending continuation jobs
//	POST /jobs/:id/execute        run a continuation job
func NewRouter(engine Engine, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	router := gin.New()
	router.Use(Recovery(logger), RequestLogger(logger))

	h := &handler{engine: engine, logger: logger}
	router.GET("/health", h.health)

	executions := router.Group("/executions")
	{
		executions.GET("", h.listExecutions)
		executions.GET("/:id", h.getExecution)
		executions.POST("/:id/signal", h.signal)
	}
	jobs := router.Group("/jobs")
	{
		jobs.GET("", h.listJobs)
		jobs.POST("/:id/execute", h.executeJob)
	}
	return router
}
