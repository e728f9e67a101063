package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"canvascast/config"
	"canvascast/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	log         *slog.Logger
}

func NewHandler(tm *task.Manager, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
		log:         log,
	}
}

type GenerateRequest struct {
	Prompt string `json:"prompt" form:"prompt" binding:"required"`
}

// StatusResponse is the wire shape polled by job clients.
type StatusResponse struct {
	TaskID    string      `json:"taskId"`
	Status    task.Status `json:"status"`
	Progress  int         `json:"progress"`
	ResultURL string      `json:"resultUrl,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// handleGenerate queues a text-to-video job.
func (h *Handler) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.taskManager.Submit(req.Prompt)
	switch {
	case errors.Is(err, task.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, task.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("task submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID, "status": t.Status})
}

// handleListTasks lists all tasks, oldest first.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.taskManager.List()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	for _, t := range tasks {
		h.buildResultURL(c, t)
	}
	c.JSON(http.StatusOK, tasks)
}

// buildResultURL constructs the full URL for a completed task's file.
func (h *Handler) buildResultURL(c *gin.Context, t *task.Task) {
	if t.Status != task.StatusSucceeded || t.OutputPath == "" {
		return
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	filename := filepath.Base(t.OutputPath)
	t.ResultURL = fmt.Sprintf("%s/api/v1/files/%s", baseURL, filename)
}

// handleGetStatus reports the status of a single task.
func (h *Handler) handleGetStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	t, found := h.taskManager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	h.buildResultURL(c, t)
	c.JSON(http.StatusOK, StatusResponse{
		TaskID:    t.ID,
		Status:    t.Status,
		Progress:  t.Progress,
		ResultURL: t.ResultURL,
		Error:     t.Error,
	})
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	err := h.taskManager.Cancel(taskID)
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

// handleGetFile serves a completed output file.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}
