package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

// SignalRequest is the body of POST /executions/:id/signal. Every field is
// optional.
type SignalRequest struct {
	Name      string         `json:"name"`
	Step      string         `json:"step"`
	WaitToken string         `json:"wait_token"`
	Payload   map[string]any `json:"payload"`
}

// ExecutionResponse describes one execution.
type ExecutionResponse struct {
	*asynctask.ExecutionSummary
	Variables map[string]any   `json:"variables"`
	Jobs      []*asynctask.Job `json:"jobs,omitempty"`
}

// ListResponse wraps a list of items.
type ListResponse[T any] struct {
	Total int `json:"total"`
	Items []T `json:"items"`
}

// JobResponse is the body of a successful POST /jobs/:id/execute.
type JobResponse struct {
	JobID     string             `json:"job_id"`
	Execution *ExecutionResponse `json:"execution,omitempty"`
}

type handler struct {
	engine Engine
	logger *slog.Logger
}

func newExecutionResponse(exec *asynctask.Execution) *ExecutionResponse {
	return &ExecutionResponse{
		ExecutionSummary: exec.Summary(),
		Variables:        exec.Variables(),
		Jobs:             exec.Jobs(),
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /executions
func (h *handler) listExecutions(c *gin.Context) {
	var summaries []*asynctask.ExecutionSummary
	if raw := c.Query("waiting_for"); raw != "" {
		olderThan, err := time.ParseDuration(raw)
		if err != nil || olderThan < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid waiting_for %q", raw)})
			return
		}
		summaries = h.engine.WaitingExecutions(olderThan)
	} else {
		for _, exec := range h.engine.Executions() {
			summaries = append(summaries, exec.Summary())
		}
	}
	if summaries == nil {
		summaries = []*asynctask.ExecutionSummary{}
	}
	c.JSON(http.StatusOK, ListResponse[*asynctask.ExecutionSummary]{Total: len(summaries), Items: summaries})
}

// GET /executions/:id
func (h *handler) getExecution(c *gin.Context) {
	exec, ok := h.engine.Execution(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "execution not found"})
		return
	}
	c.JSON(http.StatusOK, newExecutionResponse(exec))
}

// POST /executions/:id/signal
func (h *handler) signal(c *gin.Context) {
	id := c.Param("id")
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid signal: %v", err)})
		return
	}
	exec, ok := h.engine.Execution(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "execution not found"})
		return
	}
	err := h.engine.Deliver(c.Request.Context(), asynctask.Signal{
		ExecutionID: id,
		Name:        req.Name,
		Step:        req.Step,
		WaitToken:   req.WaitToken,
		Payload:     req.Payload,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, asynctask.ErrDeliveryFailure) {
			status = http.StatusConflict
		}
		h.writeError(c, status, err)
		return
	}
	c.JSON(http.StatusOK, newExecutionResponse(exec))
}

// GET /jobs
func (h *handler) listJobs(c *gin.Context) {
	jobs := h.engine.PendingJobs()
	if jobs == nil {
		jobs = []*asynctask.Job{}
	}
	c.JSON(http.StatusOK, ListResponse[*asynctask.Job]{Total: len(jobs), Items: jobs})
}

// POST /jobs/:id/execute
func (h *handler) executeJob(c *gin.Context) {
	jobID := c.Param("id")
	var executionID string
	for _, job := range h.engine.PendingJobs() {
		if job.ID == jobID {
			executionID = job.ExecutionID
			break
		}
	}
	if err := h.engine.ExecuteJob(c.Request.Context(), jobID); err != nil {
		var status int
		switch {
		case errors.Is(err, asynctask.ErrJobNotFound):
			status = http.StatusNotFound
		case errors.Is(err, asynctask.ErrJobParked):
			status = http.StatusConflict
		case errors.Is(err, asynctask.ErrDispatchRejected):
			status = http.StatusServiceUnavailable
		case errors.Is(err, asynctask.ErrUnsupportedContinuation), errors.Is(err, asynctask.ErrEntryFailure):
			status = http.StatusUnprocessableEntity
		default:
			status = http.StatusInternalServerError
		}
		h.writeError(c, status, err)
		return
	}
	resp := JobResponse{JobID: jobID}
	if exec, ok := h.engine.Execution(executionID); ok {
		resp.Execution = newExecutionResponse(exec)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) writeError(c *gin.Context, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var asyncErr *asynctask.Error
	if errors.As(err, &asyncErr) {
		resp.Type = asyncErr.Type
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, resp)
}
