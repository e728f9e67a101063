package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvascast/apperr"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

const defaultClientTimeout = 30 * time.Second

// Client talks to the job API: POST /generate and GET /status/{id}.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://host:8080/api/v1). A nil
// httpClient gets a default with a request timeout.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit starts a generation job.
func (c *Client) Submit(ctx context.Context, prompt string) (*JobStatus, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	var st JobStatus
	if err := c.do(ctx, "submit", http.MethodPost, "/generate", body, &st); err != nil {
		return nil, err
	}
	if st.TaskID == "" {
		return nil, apperr.New(apperr.KindRemoteJob, component, "submit", "response has no task id")
	}
	return &st, nil
}

// Status fetches the current status of a job. Its signature matches CheckFunc.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var st JobStatus
	if err := c.do(ctx, "status", http.MethodGet, "/status/"+url.PathEscape(jobID), nil, &st); err != nil {
		return nil, err
	}
	if st.TaskID == "" {
		st.TaskID = jobID
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.KindRemoteJob, component, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindRemoteJob, component, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(apperr.KindRemoteJob, component, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Wrap(apperr.KindRemoteJob, component, op, statusError(resp.StatusCode, data)).WithStatusCode(resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.KindRemoteJob, component, op, fmt.Errorf("invalid response body: %w", err))
	}
	return nil
}

func statusError(code int, body []byte) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return errors.New(er.Error)
	}
	return fmt.Errorf("unexpected status: %s", http.StatusText(code))
}
