// Package job tracks remote asynchronous generation jobs: a typed client for
// the job API and a poller that waits for a job to reach a terminal state.
package job

import "sync"

type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	}
	return -1
}

// JobStatus is one observation of a remote job.
type JobStatus struct {
	TaskID string `json:"taskId,omitempty"`
	Status Status `json:"status"`
	// Progress (0-100) is an estimate while Running and may go backwards.
	Progress  int    `json:"progress"`
	ResultURL string `json:"resultUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handle is the last known state of one job. Its status only moves forward
// and stays put once terminal.
type Handle struct {
	mu     sync.Mutex
	id     string
	status Status
	// progress is informational only.
	progress  int
	resultURL string
	errMsg    string
}

func NewHandle(id string) *Handle {
	return &Handle{id: id, status: StatusPending}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) Progress() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

func (h *Handle) ResultURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resultURL
}

func (h *Handle) Error() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errMsg
}

// Observe folds a status observation into the handle. It reports false when
// the observation was ignored: unknown status, a backwards move, or any
// update after the handle became terminal.
func (h *Handle) Observe(js JobStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Terminal() || js.Status.rank() < h.status.rank() {
		return false
	}
	h.status = js.Status
	h.progress = clampProgress(js.Progress)
	switch js.Status {
	case StatusSucceeded:
		h.progress = 100
		h.resultURL = js.ResultURL
	case StatusFailed:
		h.errMsg = js.Error
	}
	return true
}

// Snapshot returns the handle as a JobStatus.
func (h *Handle) Snapshot() JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return JobStatus{
		TaskID:    h.id,
		Status:    h.status,
		Progress:  h.progress,
		ResultURL: h.resultURL,
		Error:     h.errMsg,
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
