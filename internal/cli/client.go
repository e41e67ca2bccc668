package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (зеркало ответов API) ---

// RoutineResponse — routine из API.
type RoutineResponse struct {
	ID              string `json:"id"`
	WorkspaceID     string `json:"workspace_id"`
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	IntervalMinutes int    `json:"interval_minutes"`
	EndpointURL     string `json:"endpoint_url"`
	HTTPMethod      string `json:"http_method"`
	AuthMode        string `json:"auth_mode"`
	IsActive        bool   `json:"is_active"`
	NextRunAt       string `json:"next_run_at"`
	LastRunAt       string `json:"last_run_at,omitempty"`
	Running         bool   `json:"running"`
}

// RunResponse — запуск routine из API.
type RunResponse struct {
	ID           string `json:"id"`
	RoutineID    string `json:"routine_id"`
	TriggeredBy  string `json:"triggered_by"`
	Status       string `json:"status"`
	HTTPStatus   *int   `json:"http_status,omitempty"`
	DurationMs   *int64 `json:"duration_ms,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// TriggerQueuedResponse — ответ на асинхронный запуск.
type TriggerQueuedResponse struct {
	RoutineID string `json:"routine_id"`
	Queued    bool   `json:"queued"`
}

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Uptime  string `json:"uptime"`
	Store   struct {
		OK        bool   `json:"ok"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error,omitempty"`
	} `json:"store"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент opspulse-scheduler.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. Таймаут покрывает синхронный ручной запуск
// со всеми повторами.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// GetRoutine возвращает routine.
func (c *Client) GetRoutine(ctx context.Context, id string) (*RoutineResponse, error) {
	var routine RoutineResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/routines/"+url.PathEscape(id), &routine)
	return &routine, err
}

// ListRuns возвращает последние запуски routine.
func (c *Client) ListRuns(ctx context.Context, id string, limit int) ([]RunResponse, error) {
	path := "/api/v1/routines/" + url.PathEscape(id) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var runs []RunResponse
	err := c.doData(ctx, http.MethodGet, path, &runs)
	return runs, err
}

// Trigger запускает routine и ждёт записанный run.
func (c *Client) Trigger(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/routines/"+url.PathEscape(id)+"/trigger", &run)
	return &run, err
}

// TriggerAsync ставит запуск в очередь RabbitMQ через API.
func (c *Client) TriggerAsync(ctx context.Context, id string) (*TriggerQueuedResponse, error) {
	var queued TriggerQueuedResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/routines/"+url.PathEscape(id)+"/trigger?async=true", &queued)
	return &queued, err
}

// Health опрашивает /healthz.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/healthz")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkError(resp); err != nil {
		return nil, err
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &health, nil
}

// --- HTTP helpers ---

func (c *Client) doData(ctx context.Context, method, path string, result any) error {
	resp, err := c.do(ctx, method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er errorResponse
	if json.Unmarshal(bytes.TrimSpace(body), &er) == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
