package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"canvascast/config"
	"canvascast/logger"
	"canvascast/metrics"

	"github.com/lithammer/shortuuid/v4"
)

const canceledByUser = "canceled by user"

var (
	ErrNotFound    = errors.New("task not found")
	ErrQueueFull   = errors.New("task queue is full")
	ErrEmptyPrompt = errors.New("prompt is required")
)

type Runner interface {
	Run(ctx context.Context, job Job, progress func(percent int)) (Result, error)
}

type Manager struct {
	cfg            *config.Config
	mu             sync.RWMutex
	tasks          map[string]*Task
	taskQueue      chan *Task
	concurrencySem chan struct{}
	runner         Runner
	log            *slog.Logger
	metrics        *metrics.Metrics
}

func NewManager(cfg *config.Config, runner Runner, log *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("invalid max concurrency: %d", cfg.MaxConcurrency)
	}
	return &Manager{
		cfg:            cfg,
		tasks:          make(map[string]*Task),
		taskQueue:      make(chan *Task, 100), // Buffered queue
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		runner:         runner,
		log:            logger.OrDefault(log).With("component", "task"),
		metrics:        m,
	}, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.log.Info("task manager started", "concurrency", m.cfg.MaxConcurrency)
	if m.cfg.OutputLocalLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info("worker loop shutting down")
			return
		case t := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(t *Task) {
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, t)
			}(t)
		}
	}
}

func (m *Manager) processTask(parentCtx context.Context, t *Task) {
	taskCtx, cancel := context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	defer cancel()

	m.mu.Lock()
	if t.Status != StatusPending {
		m.mu.Unlock()
		m.log.Info("task skipped, no longer pending", "task", t.ID, "status", string(t.Status))
		return
	}
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	t.cancelFunc = cancel
	job := Job{ID: t.ID, Prompt: t.Prompt}
	m.mu.Unlock()

	m.log.Info("processing task", "task", t.ID)
	res, err := m.runner.Run(taskCtx, job, func(percent int) { m.setProgress(t, percent) })

	m.mu.Lock()
	t.RunnerLog = res.Log
	t.cancelFunc = nil
	t.CompletedAt = time.Now()
	switch {
	case err != nil && taskCtx.Err() == context.Canceled:
		t.Status = StatusFailed
		t.Error = canceledByUser
	case err != nil && taskCtx.Err() == context.DeadlineExceeded:
		t.Status = StatusFailed
		t.Error = "generation timed out"
	case err != nil:
		t.Status = StatusFailed
		t.Error = err.Error()
	default:
		t.Status = StatusSucceeded
		t.Progress = 100
		t.OutputPath = res.OutputPath
	}
	status, errMsg := t.Status, t.Error
	m.mu.Unlock()

	m.metrics.IncGenerationJobs(string(status))
	if status == StatusFailed {
		m.log.Warn("task failed", "task", t.ID, "error", errMsg)
	} else {
		m.log.Info("task completed", "task", t.ID)
	}
}

// setProgress records a runner progress hint while the task is running.
func (m *Manager) setProgress(t *Task, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}
	m.mu.Lock()
	if t.Status == StatusRunning {
		t.Progress = percent
	}
	m.mu.Unlock()
}

// cleanupLoop periodically removes old output files
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.cleanupExpired(time.Now())
		}
	}
}

func (m *Manager) cleanupExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Status == StatusSucceeded && t.OutputPath != "" && now.Sub(t.CompletedAt) > m.cfg.OutputLocalLifetime {
			m.log.Info("cleaning up old output file", "path", t.OutputPath)
			os.Remove(t.OutputPath)
			t.OutputPath = ""
		}
	}
}

func (m *Manager) Submit(prompt string) (*Task, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	t := &Task{
		ID:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Status:    StatusPending,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	select {
	case m.taskQueue <- t:
	default:
		m.mu.Lock()
		delete(m.tasks, t.ID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
	m.log.Info("task submitted", "task", t.ID)
	return m.snapshot(t), nil
}

// snapshot copies t; callers must not hold m.mu.
func (m *Manager) snapshot(t *Task) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *t
	c.cancelFunc = nil
	return &c
}

// Get returns a copy of the task.
func (m *Manager) Get(taskID string) (*Task, bool) {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.snapshot(t), true
}

func (m *Manager) List() []*Task {
	m.mu.RLock()
	taskList := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		c := *t
		c.cancelFunc = nil
		taskList = append(taskList, &c)
	}
	m.mu.RUnlock()
	return taskList
}

func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	switch t.Status {
	case StatusSucceeded, StatusFailed:
		return fmt.Errorf("cannot cancel task in state: %s", t.Status)
	case StatusPending:
		t.Status = StatusFailed
		t.Error = canceledByUser
		t.CompletedAt = time.Now()
		m.metrics.IncGenerationJobs(string(StatusFailed))
		m.log.Info("task canceled in queue", "task", t.ID)
	case StatusRunning:
		if t.cancelFunc == nil {
			return fmt.Errorf("task %s is running but has no cancellation handle", t.ID)
		}
		t.cancelFunc()
		m.log.Info("cancellation signal sent to running task", "task", t.ID)
	}
	return nil
}

func (m *Manager) GetFilePath(filename string) (string, error) {
	// Security: Prevent path traversal
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename {
		return "", fmt.Errorf("invalid filename")
	}

	fullPath := filepath.Join(m.cfg.TempDir, cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
