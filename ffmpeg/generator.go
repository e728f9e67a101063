package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"canvascast/config"
	"canvascast/logger"
	"canvascast/task"
)

// Generator renders a text prompt into a short mp4 clip. It is the runner
// behind the generation job API.
type Generator struct {
	cfg     *config.Config
	tempDir string
	extra   []string
	log     *slog.Logger
	check   func(Thresholds, *slog.Logger) error
}

func NewGenerator(cfg *config.Config, log *slog.Logger) (*Generator, error) {
	// Ensure ffmpeg binary is executable
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}

	extra, err := ExtraArgs(cfg.GenExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid GEN_EXTRA_ARGS: %w", err)
	}

	// Create and set a temporary directory for all I/O
	tempDir, err := os.MkdirTemp("", "canvascast_")
	if err != nil {
		return nil, fmt.Errorf("could not create temp directory: %w", err)
	}
	log = logger.OrDefault(log).With("component", "generator")
	log.Info("using temporary directory", "path", tempDir)
	cfg.TempDir = tempDir

	return &Generator{
		cfg:     cfg,
		tempDir: tempDir,
		extra:   extra,
		log:     log,
		check:   CheckResources,
	}, nil
}

// Args builds the ffmpeg command line for one job. The prompt is read from
// textPath so it never reaches the filter graph parser unescaped.
func (g *Generator) Args(textPath, outputPath string) []string {
	source := fmt.Sprintf("color=c=black:s=%s:d=%.3f", g.cfg.GenSize, g.cfg.GenDuration.Seconds())
	draw := fmt.Sprintf("drawtext=textfile='%s':fontcolor=white:fontsize=36:x=(w-text_w)/2:y=(h-text_h)/2",
		strings.ReplaceAll(textPath, "'", `'\''`))

	args := []string{"-y", "-hide_banner", "-f", "lavfi", "-i", source, "-vf", draw}
	args = append(args, g.extra...)
	args = append(args,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-progress", "pipe:1", "-nostats",
		outputPath, // FFMpeg's last argument is the output file
	)
	return args
}

// Run executes ffmpeg for a given job, reporting encode progress.
func (g *Generator) Run(ctx context.Context, job task.Job, progress func(percent int)) (task.Result, error) {
	// 1. Check system resources before starting
	th := Thresholds{
		IdleCPU:  g.cfg.ThrottleCPU,
		FreeMem:  g.cfg.ThrottleFreeMem,
		FreeDisk: g.cfg.ThrottleFreeDisk,
		DiskPath: g.tempDir,
	}
	if err := g.check(th, g.log); err != nil {
		return task.Result{}, fmt.Errorf("insufficient system resources: %w", err)
	}

	// 2. Prepare the prompt file
	textPath := filepath.Join(g.tempDir, job.ID+"_prompt.txt")
	if err := os.WriteFile(textPath, []byte(job.Prompt), 0600); err != nil {
		return task.Result{}, fmt.Errorf("failed to write prompt: %w", err)
	}
	defer os.Remove(textPath)

	// 3. Prepare output path and command
	outputPath := filepath.Join(g.tempDir, job.ID+"_output.mp4")
	cmd := exec.CommandContext(ctx, g.cfg.FFBin, g.Args(textPath, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return task.Result{}, err
	}

	g.log.Info("executing", "task", job.ID, "cmd", strings.Join(cmd.Args, " "))

	// 4. Execute command
	if err := cmd.Start(); err != nil {
		return task.Result{}, fmt.Errorf("ffmpeg could not start: %w", err)
	}
	streamErr := NewProgressParser(g.cfg.GenDuration).Stream(stdout, progress)
	if streamErr != nil {
		io.Copy(io.Discard, stdout)
	}
	err = cmd.Wait()
	outputLog := stderr.String()

	if err == nil && streamErr != nil {
		err = streamErr
	}
	if err != nil {
		// If the command failed, clean up the (likely empty or partial) output file.
		os.Remove(outputPath)
		return task.Result{Log: outputLog}, fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return task.Result{OutputPath: outputPath, Log: outputLog}, nil
}
