// Package client provides a Go client for the smallworld HTTP API.
//
// It offers a type-safe way to perform all major operations, including:
//   - Index management (Create, List, Delete, Info).
//   - Data loading and level injection (SetData, SetLevels).
//   - Asynchronous graph builds with task polling (Build, Task.Wait).
//   - Batched nearest-neighbor search (Search).
//   - Snapshot persistence (Save, Load).
//
// The client handles HTTP communication, JSON serialization, and
// standardized error handling.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/navigable/smallworld/pkg/core/types"
)

// APIError represents an error returned by the smallworld API
// (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IndexOptions selects per-index configuration at creation time. Zero
// fields fall back to the server's defaults.
type IndexOptions struct {
	Metric         string
	Precision      string
	MaxM           int
	MaxM0          int
	EfConstruction int
	LevelMult      float64
	Seed           int64
	MmapDir        string
}

// SearchResult holds the flattened answers for a batch of queries: row
// q of IDs and Distances lives at [q*TopK, (q+1)*TopK), short rows
// padded with id -1.
type SearchResult struct {
	IDs       []int32   `json:"ids"`
	Distances []float32 `json:"distances"`
	Found     []int32   `json:"found"`
	Nq        int       `json:"nq"`
	TopK      int       `json:"topk"`
}

// Task represents an asynchronous operation on the server.
type Task struct {
	ID     string `json:"id"`
	Index  string `json:"index"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	client *Client // Reference to the client for polling.
}

// Client is the Go client for a smallworld server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for a server at host:port.
func New(host string, port int) *Client {
	return NewFromURL(fmt.Sprintf("http://%s:%d", host, port))
}

// NewFromURL creates a client from a full base URL, as handed out by
// httptest servers.
func NewFromURL(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// jsonRequest executes one API request. It handles JSON serialization,
// the HTTP round trip, and error unwrapping.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	return respBody, nil
}

// CreateIndex registers a new index. Options may be nil for server
// defaults.
func (c *Client) CreateIndex(name string, opts *IndexOptions) (types.IndexInfo, error) {
	payload := map[string]any{}
	if opts != nil {
		if opts.Metric != "" {
			payload["dist_type"] = opts.Metric
		}
		if opts.Precision != "" {
			payload["precision"] = opts.Precision
		}
		if opts.MaxM > 0 {
			payload["max_m"] = opts.MaxM
		}
		if opts.MaxM0 > 0 {
			payload["max_m0"] = opts.MaxM0
		}
		if opts.EfConstruction > 0 {
			payload["ef_construction"] = opts.EfConstruction
		}
		if opts.LevelMult > 0 {
			payload["level_mult"] = opts.LevelMult
		}
		if opts.Seed != 0 {
			payload["seed"] = opts.Seed
		}
		if opts.MmapDir != "" {
			payload["mmap_dir"] = opts.MmapDir
		}
	}

	respBody, err := c.jsonRequest(http.MethodPut, "/indexes/"+name, payload)
	if err != nil {
		return types.IndexInfo{}, err
	}
	var info types.IndexInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return types.IndexInfo{}, fmt.Errorf("invalid JSON response for create: %w", err)
	}
	return info, nil
}

// ListIndexes returns info for every registered index.
func (c *Client) ListIndexes() ([]types.IndexInfo, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/indexes", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Indexes []types.IndexInfo `json:"indexes"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for list: %w", err)
	}
	return resp.Indexes, nil
}

// GetIndexInfo retrieves the introspection snapshot of one index.
func (c *Client) GetIndexInfo(name string) (types.IndexInfo, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/indexes/"+name, nil)
	if err != nil {
		return types.IndexInfo{}, err
	}
	var info types.IndexInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return types.IndexInfo{}, fmt.Errorf("invalid JSON response for info: %w", err)
	}
	return info, nil
}

// DeleteIndex removes an index and frees its resources.
func (c *Client) DeleteIndex(name string) error {
	_, err := c.jsonRequest(http.MethodDelete, "/indexes/"+name, nil)
	return err
}

// SetData replaces the index's vectors with a row-major batch of n
// vectors of the given dimension.
func (c *Client) SetData(name string, vectors []float32, n, dim int) error {
	payload := map[string]any{"vectors": vectors, "n": n, "dim": dim}
	_, err := c.jsonRequest(http.MethodPost, "/indexes/"+name+"/data", payload)
	return err
}

// SetLevels injects one graph level per stored point, overriding the
// seeded assignment for the next build.
func (c *Client) SetLevels(name string, levels []int32) error {
	payload := map[string]any{"levels": levels}
	_, err := c.jsonRequest(http.MethodPost, "/indexes/"+name+"/levels", payload)
	return err
}

// Build starts an asynchronous graph build and returns its task.
func (c *Client) Build(name string) (*Task, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/indexes/"+name+"/build", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for build: %w", err)
	}
	return &Task{ID: resp.TaskID, Index: name, Kind: "build", Status: resp.Status, client: c}, nil
}

// GetTask retrieves the current state of a task.
func (c *Client) GetTask(id string) (*Task, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/tasks/"+id, nil)
	if err != nil {
		return nil, err
	}
	task := &Task{client: c}
	if err := json.Unmarshal(respBody, task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tracked tasks in creation order.
func (c *Client) ListTasks() ([]Task, error) {
	respBody, err := c.jsonRequest(http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for tasks: %w", err)
	}
	return resp.Tasks, nil
}

// CancelTask requests cancellation of a queued or running task.
func (c *Client) CancelTask(id string) error {
	_, err := c.jsonRequest(http.MethodPost, "/tasks/"+id+"/cancel", nil)
	return err
}

// Search answers nq queries flattened row-major into queries, returning
// topk neighbors per query.
func (c *Client) Search(name string, queries []float32, nq, topk, efSearch int) (*SearchResult, error) {
	payload := map[string]any{
		"queries":   queries,
		"nq":        nq,
		"topk":      topk,
		"ef_search": efSearch,
	}
	respBody, err := c.jsonRequest(http.MethodPost, "/indexes/"+name+"/search", payload)
	if err != nil {
		return nil, err
	}
	var res SearchResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, fmt.Errorf("invalid JSON response for search: %w", err)
	}
	return &res, nil
}

// Save writes the built index to a snapshot file on the server and
// returns the resolved path. Relative paths land in the server's data
// directory.
func (c *Client) Save(name, path string) (string, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/indexes/"+name+"/save", map[string]string{"path": path})
	if err != nil {
		return "", err
	}
	var resp struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response for save: %w", err)
	}
	return resp.Path, nil
}

// Load replaces the index's state with a snapshot file on the server.
func (c *Client) Load(name, path string) (types.IndexInfo, error) {
	respBody, err := c.jsonRequest(http.MethodPost, "/indexes/"+name+"/load", map[string]string{"path": path})
	if err != nil {
		return types.IndexInfo{}, err
	}
	var info types.IndexInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return types.IndexInfo{}, fmt.Errorf("invalid JSON response for load: %w", err)
	}
	return info, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health() error {
	_, err := c.jsonRequest(http.MethodGet, "/healthz", nil)
	return err
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh() error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updated, err := t.client.GetTask(t.ID)
	if err != nil {
		return err
	}
	t.Status = updated.Status
	t.Error = updated.Error
	return nil
}

// Wait blocks until the task finishes, checking its status at regular
// intervals. Failed and cancelled tasks surface as errors.
func (t *Task) Wait(interval, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("timeout exceeded while waiting for task %s", t.ID)
		case <-ticker.C:
			if err := t.Refresh(); err != nil {
				return err
			}
			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed: %s", t.ID, t.Error)
			case "cancelled":
				return fmt.Errorf("task %s was cancelled", t.ID)
			case "pending", "running":
				// Continue waiting.
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}
