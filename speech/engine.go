// Package speech provides a narration engine backed by an espeak-compatible
// command line synthesizer.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"canvascast/logger"
	"canvascast/narration"
)

const (
	baseWordsPerMinute = 175
	basePitch          = 50
	maxPitch           = 99
	baseAmplitude      = 100
	maxAmplitude       = 200
)

// CommandEngine speaks through one process per utterance.
type CommandEngine struct {
	bin      string
	log      *slog.Logger
	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu      sync.Mutex
	nextID  int
	running map[int]context.CancelFunc
}

func NewCommandEngine(bin string, log *slog.Logger) *CommandEngine {
	return &CommandEngine{
		bin:      bin,
		log:      logger.OrDefault(log).With("component", "speech"),
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
		running:  make(map[int]context.CancelFunc),
	}
}

// Available reports whether the synthesizer binary can be found.
func (e *CommandEngine) Available() bool {
	_, err := e.lookPath(e.bin)
	return err == nil
}

// Args maps utterance options onto espeak flags.
func Args(text string, opts narration.Options) []string {
	rate, pitch, volume := orOne(opts.Rate), orOne(opts.Pitch), orOne(opts.Volume)
	return []string{
		"-s", strconv.Itoa(int(baseWordsPerMinute * rate)),
		"-p", strconv.Itoa(clamp(int(basePitch*pitch), 0, maxPitch)),
		"-a", strconv.Itoa(clamp(int(baseAmplitude*volume), 0, maxAmplitude)),
		"--", text,
	}
}

func (e *CommandEngine) Speak(ctx context.Context, text string, opts narration.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.running[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
	}()

	cmd := e.command(ctx, e.bin, Args(text, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.log.Debug("speaking", "chars", len(text))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speech synthesis failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CancelAll kills every running utterance process.
func (e *CommandEngine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.running {
		cancel()
		delete(e.running, id)
	}
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
