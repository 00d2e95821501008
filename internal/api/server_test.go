package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"oculith/internal/api"
	"oculith/internal/chunk"
	"oculith/internal/convert"
	"oculith/internal/events"
	"oculith/internal/files"
	"oculith/internal/index"
	"oculith/internal/pipeline"
	"oculith/internal/records"
	"oculith/internal/stage"
	"oculith/internal/tasks"
	"oculith/internal/testsupport"
)

type textExtractor struct{}

func (textExtractor) Extract(path, contentType string) (string, error) {
	return "extracted text", nil
}

type env struct {
	server    *httptest.Server
	store     *records.Store
	files     *files.Service
	registry  *tasks.Registry
	publisher *events.Publisher
	vectors   *index.VectorStore
	embedder  index.Embedder
	pipeline  *pipeline.Pipeline
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	fileService := files.NewService(cfg, store, nil)
	registry := tasks.NewRegistry(cfg.Queue.MaxDepth, nil)
	t.Cleanup(registry.Close)
	publisher := events.NewPublisher(cfg.Queue.SubscriberBuffer, nil)
	t.Cleanup(publisher.Close)
	vectors, err := index.NewVectorStore(store.DB())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	embedder := index.NewLocalEmbedder(cfg.Embeddings.Dimensions)

	handlers := map[records.Step]stage.Handler{
		records.StepConvert: convert.NewConverterWithExtractor(cfg, fileService, textExtractor{}, nil),
		records.StepChunk:   chunk.NewChunker(cfg, store, fileService, nil),
		records.StepIndex:   index.NewIndexer(fileService, vectors, embedder, nil),
	}
	pipe := pipeline.New(store, registry, publisher, handlers, nil)

	server := api.NewServer(cfg, store, fileService, pipe, registry, publisher, vectors, embedder, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &env{
		server:    ts,
		store:     store,
		files:     fileService,
		registry:  registry,
		publisher: publisher,
		vectors:   vectors,
		embedder:  embedder,
		pipeline:  pipe,
	}
}

func (e *env) uploadFile(t *testing.T, name, content string) map[string]any {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	resp, err := http.Post(e.server.URL+"/api/files/upload", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload returned %d: %s", resp.StatusCode, data)
	}
	return decodeMap(t, resp.Body)
}

func decodeMap(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestUploadAndGetFile(t *testing.T) {
	e := newEnv(t)

	created := e.uploadFile(t, "notes.md", "# hi")
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected file id in response, got %v", created)
	}
	if created["status"] != "uploaded" {
		t.Fatalf("expected uploaded status, got %v", created["status"])
	}

	resp, err := http.Get(e.server.URL + "/api/files/" + id)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get file returned %d", resp.StatusCode)
	}
	got := decodeMap(t, resp.Body)
	if got["original_name"] != "notes.md" {
		t.Fatalf("unexpected record %v", got)
	}
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "malware.exe")
	io.WriteString(part, "MZ")
	writer.Close()

	resp, err := http.Post(e.server.URL+"/api/files/upload", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRemoteRegistrationValidation(t *testing.T) {
	e := newEnv(t)

	resp := postJSON(t, e.server.URL+"/api/files/remote", map[string]string{"url": "ftp://example.com/doc.pdf"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListFilesWithStatusFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.uploadFile(t, "a.md", "alpha")
	e.uploadFile(t, "b.md", "beta")
	if _, err := e.store.SetStatus(ctx, first["id"].(string), records.StatusQueued, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	resp, err := http.Get(e.server.URL + "/api/files/?status=queued")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0]["id"] != first["id"] {
		t.Fatalf("unexpected filtered list %v", list)
	}

	resp, err = http.Get(e.server.URL + "/api/files/?status=bogus")
	if err != nil {
		t.Fatalf("list bogus: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus status, got %d", resp.StatusCode)
	}
}

func TestGetMissingFileReturns404(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.server.URL + "/api/files/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProcessQueuesTask(t *testing.T) {
	e := newEnv(t)

	created := e.uploadFile(t, "doc.md", "# content")
	id := created["id"].(string)

	resp := postJSON(t, e.server.URL+"/api/files/"+id+"/process", map[string]any{
		"steps":    []string{"convert", "chunk"},
		"priority": 2,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, data)
	}
	task := decodeMap(t, resp.Body)
	if task["state"] != "queued" {
		t.Fatalf("expected queued task, got %v", task)
	}
	if task["file_id"] != id {
		t.Fatalf("unexpected task %v", task)
	}

	record, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != records.StatusQueued {
		t.Fatalf("expected queued record, got %s", record.Status)
	}
}

func TestProcessRejectsUnknownStep(t *testing.T) {
	e := newEnv(t)
	created := e.uploadFile(t, "doc.md", "# content")

	resp := postJSON(t, e.server.URL+"/api/files/"+created["id"].(string)+"/process", map[string]any{
		"steps": []string{"transmogrify"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProcessBackpressure(t *testing.T) {
	e := newEnv(t, testsupport.WithMaxDepth(1))

	first := e.uploadFile(t, "a.md", "alpha")
	second := e.uploadFile(t, "b.md", "beta")

	resp := postJSON(t, e.server.URL+"/api/files/"+first["id"].(string)+"/process", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit: expected 202, got %d", resp.StatusCode)
	}

	resp = postJSON(t, e.server.URL+"/api/files/"+second["id"].(string)+"/process", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	e := newEnv(t)
	created := e.uploadFile(t, "doc.md", "# content")

	resp := postJSON(t, e.server.URL+"/api/files/"+created["id"].(string)+"/process", map[string]any{})
	task := decodeMap(t, resp.Body)
	resp.Body.Close()
	taskID := task["id"].(string)

	resp, err := http.Get(e.server.URL + "/api/tasks/" + taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get task returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, e.server.URL+"/api/tasks/"+taskID+"/cancel", nil)
	cancelled := decodeMap(t, resp.Body)
	resp.Body.Close()
	if cancelled["state"] != "cancelled" {
		t.Fatalf("expected cancelled task, got %v", cancelled)
	}

	// A second cancel conflicts with the terminal state.
	resp = postJSON(t, e.server.URL+"/api/tasks/"+taskID+"/cancel", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Cancelling before any stage ran returns the file to rest; it must
	// not report queued with no task left to serve it.
	resp, err = http.Get(e.server.URL + "/api/files/" + created["id"].(string))
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	file := decodeMap(t, resp.Body)
	resp.Body.Close()
	if file["status"] != "uploaded" {
		t.Fatalf("expected uploaded after cancel, got %v", file["status"])
	}
}

func TestMarkdownEndpoint(t *testing.T) {
	e := newEnv(t)
	created := e.uploadFile(t, "doc.md", "# content")
	id := created["id"].(string)

	resp, err := http.Get(e.server.URL + "/api/files/" + id + "/markdown")
	if err != nil {
		t.Fatalf("get markdown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before conversion, got %d", resp.StatusCode)
	}

	if err := e.files.WriteMarkdown(id, "# converted"); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	resp, err = http.Get(e.server.URL + "/api/files/" + id + "/markdown")
	if err != nil {
		t.Fatalf("get markdown: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "# converted" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSearchEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	vectors, err := e.embedder.EmbedTexts(ctx, []string{"postgres tuning tips", "sourdough starter care"})
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if err := e.vectors.Replace(ctx, "f-1", []string{"postgres tuning tips", "sourdough starter care"}, vectors); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	resp := postJSON(t, e.server.URL+"/api/search", map[string]any{"query": "tuning postgres", "limit": 1})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search returned %d", resp.StatusCode)
	}
	var out struct {
		Results []index.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out.Results))
	}
	if out.Results[0].Content != "postgres tuning tips" {
		t.Fatalf("expected postgres chunk, got %q", out.Results[0].Content)
	}

	resp = postJSON(t, e.server.URL+"/api/search", map[string]any{"query": "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := newEnv(t)
	e.uploadFile(t, "doc.md", "# content")

	resp, err := http.Get(e.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}
	var out struct {
		QueueDepth int            `json:"queue_depth"`
		Files      map[string]int `json:"files"`
		Stages     []struct {
			Name  string `json:"name"`
			Ready bool   `json:"ready"`
		} `json:"stages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if out.Files["uploaded"] != 1 {
		t.Fatalf("expected one uploaded file, got %v", out.Files)
	}
	if len(out.Stages) != 3 {
		t.Fatalf("expected three stage health entries, got %v", out.Stages)
	}
}

func TestStreamDeliversEventsUntilTerminal(t *testing.T) {
	e := newEnv(t)
	created := e.uploadFile(t, "doc.md", "# content")
	id := created["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+"/api/files/"+id+"/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	go func() {
		// Give the subscription a moment to register, then walk the
		// file to a terminal status.
		time.Sleep(50 * time.Millisecond)
		statuses := []records.Status{
			records.StatusQueued,
			records.StatusConverting,
			records.StatusFailed,
		}
		ctx := context.Background()
		for _, status := range statuses {
			detail := ""
			if status == records.StatusFailed {
				detail = "boom"
			}
			if _, err := e.store.SetStatus(ctx, id, status, detail); err != nil {
				return
			}
			e.publisher.Publish(events.Event{FileID: id, Status: status, Detail: detail})
		}
	}()

	var seen []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		seen = append(seen, string(evt.Status))
	}

	want := []string{"uploaded", "queued", "converting", "failed"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("stream events %v, want %v", seen, want)
	}
}
