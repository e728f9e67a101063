// canvascast/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"canvascast/config"
	"canvascast/metrics"
	"canvascast/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner writes a small output file into the temp dir.
type mockRunner struct {
	dir string
}

func (m *mockRunner) Run(ctx context.Context, job task.Job, progress func(int)) (task.Result, error) {
	progress(50)
	out := filepath.Join(m.dir, job.ID+"_output.mp4")
	if err := os.WriteFile(out, []byte("video"), 0644); err != nil {
		return task.Result{}, err
	}
	return task.Result{OutputPath: out, Log: "ok"}, nil
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config, *task.Manager) {
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		MaxConcurrency: 1,
		FFTimeout:      10 * time.Second,
		AuthEnable:     false,
		TempDir:        dir,
	}
	tm, err := task.NewManager(cfg, &mockRunner{dir: dir}, quietLog(), nil)
	require.NoError(t, err)
	router := SetupRouter(tm, cfg, quietLog(), metrics.New())
	return router, cfg, tm
}

func startManager(t *testing.T, tm *task.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tm.Start(ctx)
}

func TestHandleGenerate(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	w := httptest.NewRecorder()
	reqBody := `{"prompt": "a lighthouse at dusk"}`
	req, _ := http.NewRequest("POST", "/api/v1/generate", bytes.NewBufferString(reqBody))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.NotEmpty(t, resp["taskId"])
	assert.Equal(t, "Pending", resp["status"])

	_, found := tm.Get(resp["taskId"])
	assert.True(t, found)

	for _, body := range []string{`{}`, `{"prompt": "   "}`, `not json`} {
		w = httptest.NewRecorder()
		req, _ = http.NewRequest("POST", "/api/v1/generate", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandleGetStatus(t *testing.T) {
	router, cfg, tm := setupTestRouter(t)
	cfg.BaseURL = "https://videos.example.com/"
	startManager(t, tm)

	testTask, err := tm.Submit("a lighthouse at dusk")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := tm.Get(testTask.ID)
		return got.Status == task.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/status/"+testTask.ID, nil)

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	err = json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, testTask.ID, resp.TaskID)
	assert.Equal(t, task.StatusSucceeded, resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "https://videos.example.com/api/v1/files/"+testTask.ID+"_output.mp4", resp.ResultURL)

	// The result URL serves the file
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/files/"+testTask.ID+"_output.mp4", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video", w.Body.String())

	// Test Not Found
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/status/nonexistent", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/files/missing.mp4", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCancelTask(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	// The manager is not started, so the task stays queued.
	testTask, err := tm.Submit("prompt")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PATCH", "/api/v1/tasks/"+testTask.ID+"/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/v1/status/"+testTask.ID, nil)
	router.ServeHTTP(w, req)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, task.StatusFailed, resp.Status)
	assert.Equal(t, "canceled by user", resp.Error)

	// Already terminal
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("PATCH", "/api/v1/tasks/"+testTask.ID+"/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("PATCH", "/api/v1/tasks/nonexistent/cancel", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListTasks(t *testing.T) {
	router, _, tm := setupTestRouter(t)
	_, _ = tm.Submit("first")
	_, _ = tm.Submit("second")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var tasks []task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "canvascast_requests_total"))
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _ := setupTestRouter(t)

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/tasks", nil)
		req.Header.Set("Authorization", "Bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(0.001, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Disabled
	r = gin.New()
	r.Use(RateLimitMiddleware(0, 0))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/", nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
