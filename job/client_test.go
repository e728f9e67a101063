package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"canvascast/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Submit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a cat surfing", req.Prompt)

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"taskId":"abc_1","status":"Pending"}`))
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL+"/api/v1/", "secret", srv.Client()).Submit(context.Background(), "a cat surfing")
	require.NoError(t, err)
	assert.Equal(t, "abc_1", st.TaskID)
	assert.Equal(t, StatusPending, st.Status)
}

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/abc_1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"status":"Succeeded","progress":100,"resultUrl":"https://x/video.mp4"}`))
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL, "", nil).Status(context.Background(), "abc_1")
	require.NoError(t, err)
	assert.Equal(t, JobStatus{TaskID: "abc_1", Status: StatusSucceeded, Progress: 100, ResultURL: "https://x/video.mp4"}, *st)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		sentinel error
		contains string
	}{
		{name: "unauthorized", code: http.StatusUnauthorized, body: `{"error":"Unauthorized"}`, sentinel: ErrUnauthorized},
		{name: "rate limited", code: http.StatusTooManyRequests, sentinel: ErrRateLimited},
		{name: "not found", code: http.StatusNotFound, body: `{"error":"Task not found"}`, contains: "Task not found"},
		{name: "server error", code: http.StatusBadGateway, body: `oops`, contains: "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "k", nil).Status(context.Background(), "abc_1")
			require.Error(t, err)

			var ae *apperr.Error
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, apperr.KindRemoteJob, ae.Kind)
			assert.Equal(t, tt.code, ae.StatusCode)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestClient_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).Status(context.Background(), "abc_1")
	assert.ErrorContains(t, err, "invalid response body")

	_, err = NewClient(srv.URL, "", nil).Submit(context.Background(), "p")
	assert.Error(t, err)
}

func TestClient_WithPoller(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Write([]byte(`{"status":"Pending","progress":0}`))
		case 2:
			w.Write([]byte(`{"status":"Running","progress":45}`))
		default:
			w.Write([]byte(`{"status":"Succeeded","progress":100,"resultUrl":"http://host/files/abc_1_output.mp4"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	var seen []Status
	res, err := NewPoller(c.Status, 5*time.Millisecond, quietLog(), nil).PollUntilComplete(context.Background(), "abc_1", func(js JobStatus) {
		seen = append(seen, js.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusPending, StatusRunning, StatusSucceeded}, seen)
	assert.Equal(t, "http://host/files/abc_1_output.mp4", res.ResultURL)
	assert.Equal(t, int32(3), calls.Load())
}
