package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/retry"
)

// ExecutionIDHeader carries the execution ID on outbound service calls, so a
// backend can correlate or signal back on its own.
const ExecutionIDHeader = "X-Execution-Id"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// HTTPServiceOptions configures an HTTPService. The "url", "method" and
// "headers" step parameters override URL, Method and Headers per step.
type HTTPServiceOptions struct {
	URL     string
	Method  string // defaults to POST
	Headers map[string]string
	Timeout time.Duration // defaults to 30s
	Client  *http.Client
}

// HTTPService sends the request payload as JSON and returns the decoded
// response body as the completion payload. Unsuccessful statuses are
// reported as retry.StatusError, so server errors and throttling are
// retried by the dispatched work.
type HTTPService struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

var _ asynctask.Service = (*HTTPService)(nil)

// NewHTTPService returns an HTTP backed service.
func NewHTTPService(opts HTTPServiceOptions) *HTTPService {
	if opts.Method == "" {
		opts.Method = http.MethodPost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPService{
		url:     opts.URL,
		method:  strings.ToUpper(opts.Method),
		headers: opts.Headers,
		client:  opts.Client,
	}
}

func (s *HTTPService) Call(ctx context.Context, request *asynctask.ServiceRequest) (map[string]any, error) {
	url, err := stringParam(request.Parameters, "url", s.url)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if url == "" {
		return nil, retry.Permanent(fmt.Errorf("no url configured for step %q", request.StepName))
	}
	method, err := stringParam(request.Parameters, "method", s.method)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	body, err := json.Marshal(request.Payload)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(ExecutionIDHeader, request.ExecutionID)
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}
	if headers, ok := request.Parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}

	logger := asynctask.LoggerFromContext(ctx)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	logger.Debug("service responded", "method", req.Method, "url", url, "status", resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &retry.StatusError{StatusCode: resp.StatusCode, Body: text}
	}
	return decodeResponse(respBody, resp.Header.Get("Content-Type"))
}

// decodeResponse turns a response body into a completion payload. A JSON
// object is used as is; anything else is wrapped under "response".
func decodeResponse(body []byte, contentType string) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if !strings.Contains(contentType, "json") {
		return map[string]any{"response": string(body)}, nil
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if object, ok := decoded.(map[string]any); ok {
		return object, nil
	}
	return map[string]any{"response": decoded}, nil
}
