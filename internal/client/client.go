// Package client is the CLI's HTTP client for the daemon API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to a running daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the daemon at baseURL (for example
// "http://127.0.0.1:7710").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// FileInfo mirrors the API's file representation.
type FileInfo struct {
	ID             string   `json:"id"`
	OriginalName   string   `json:"original_name"`
	SourceType     string   `json:"source_type"`
	SourceURL      string   `json:"source_url"`
	Extension      string   `json:"extension"`
	SizeBytes      int64    `json:"size_bytes"`
	Status         string   `json:"status"`
	LastStage      string   `json:"last_stage"`
	RequestedSteps []string `json:"requested_steps"`
	LastError      string   `json:"last_error"`
	ChunkCount     int      `json:"chunk_count"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// TaskInfo mirrors the API's task representation.
type TaskInfo struct {
	ID         string   `json:"id"`
	FileID     string   `json:"file_id"`
	Steps      []string `json:"steps"`
	Priority   int      `json:"priority"`
	State      string   `json:"state"`
	Error      string   `json:"error"`
	EnqueuedAt string   `json:"enqueued_at"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
}

// SearchHit is one similarity match.
type SearchHit struct {
	FileID  string  `json:"file_id"`
	Seq     int     `json:"seq"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// StageHealth reports one pipeline step's readiness.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail"`
}

// DaemonStatus mirrors the API's status payload.
type DaemonStatus struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	QueueDepth    int            `json:"queue_depth"`
	Files         map[string]int `json:"files"`
	Stages        []StageHealth  `json:"stages"`
}

// StatusEvent is one entry from a file's status stream.
type StatusEvent struct {
	FileID    string `json:"file_id"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
	Timestamp string `json:"ts"`
}

// Upload registers a local file with the daemon.
func (c *Client) Upload(ctx context.Context, path string) (*FileInfo, error) {
	payload, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer payload.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var info FileInfo
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Remote registers a URL for later fetching.
func (c *Client) Remote(ctx context.Context, rawURL string) (*FileInfo, error) {
	var info FileInfo
	if err := c.postJSON(ctx, "/api/files/remote", map[string]string{"url": rawURL}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListFiles returns registered files, optionally filtered by status.
func (c *Client) ListFiles(ctx context.Context, status string) ([]FileInfo, error) {
	path := "/api/files/"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var list []FileInfo
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetFile fetches one file record.
func (c *Client) GetFile(ctx context.Context, id string) (*FileInfo, error) {
	var info FileInfo
	if err := c.getJSON(ctx, "/api/files/"+id, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteFile removes a file and its artifacts.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/files/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Markdown fetches a file's converted markdown.
func (c *Client) Markdown(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/"+id+"/markdown", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, data)
	}
	return string(data), nil
}

// Process submits steps for a file and returns the task.
func (c *Client) Process(ctx context.Context, fileID string, steps []string, priority int) (*TaskInfo, error) {
	var task TaskInfo
	payload := map[string]any{"steps": steps, "priority": priority}
	if err := c.postJSON(ctx, "/api/files/"+fileID+"/process", payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*TaskInfo, error) {
	var task TaskInfo
	if err := c.getJSON(ctx, "/api/tasks/"+id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask requests cancellation of a task.
func (c *Client) CancelTask(ctx context.Context, id string) (*TaskInfo, error) {
	var task TaskInfo
	if err := c.postJSON(ctx, "/api/tasks/"+id+"/cancel", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Search runs a similarity query.
func (c *Client) Search(ctx context.Context, query, fileID string, limit int) ([]SearchHit, error) {
	var out struct {
		Results []SearchHit `json:"results"`
	}
	payload := map[string]any{"query": query, "file_id": fileID, "limit": limit}
	if err := c.postJSON(ctx, "/api/search", payload, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var status DaemonStatus
	if err := c.getJSON(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Watch follows a file's status stream, invoking fn for each event
// until the stream ends or the context is cancelled.
func (c *Client) Watch(ctx context.Context, fileID string, fn func(StatusEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/files/"+fileID+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streaming requests must not share the default timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, data)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt StatusEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		fn(evt)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func apiError(status int, body []byte) error {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", status, parsed.Error)
	}
	return fmt.Errorf("daemon returned %d", status)
}
