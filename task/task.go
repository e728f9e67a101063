package task

import (
	"context"
	"time"
)

// Status values match the remote job API wire format.
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

type Task struct {
	ID          string    `json:"taskId"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Prompt      string    `json:"prompt"`
	OutputPath  string    `json:"-"`
	ResultURL   string    `json:"resultUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	RunnerLog   string    `json:"-"`
	cancelFunc  context.CancelFunc
}

// Job is the runner's view of a task.
type Job struct {
	ID     string
	Prompt string
}

// Result is what a successful run leaves behind.
type Result struct {
	OutputPath string
	Log        string
}
