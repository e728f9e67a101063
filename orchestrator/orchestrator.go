// Package orchestrator records a surface while its narration is read aloud,
// bracketing the narration with grace periods so the artifact holds all of it.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"canvascast/apperr"
	"canvascast/logger"
	"canvascast/narration"
	"canvascast/recorder"
)

const component = "orchestrator"

const (
	DefaultStartGrace    = 500 * time.Millisecond
	DefaultTrailingGrace = 1000 * time.Millisecond
	cleanupTimeout       = 5 * time.Second
)

// Narrator reads a queue aloud. *narration.Player satisfies it.
type Narrator interface {
	Available() bool
	PlaySequence(ctx context.Context, queue []string, onReading func(i int)) error
	Stop()
}

// Recorder captures the surface. *recorder.Recorder satisfies it.
type Recorder interface {
	IsSupported() bool
	Start(ctx context.Context, surface recorder.Surface, opts recorder.Options) (*recorder.Session, error)
	Stop(ctx context.Context) (*recorder.Artifact, error)
	Dispose()
}

// TextSource supplies the narration entries. *narration.Queue satisfies it.
type TextSource interface {
	Snapshot() []string
}

var (
	_ Narrator   = (*narration.Player)(nil)
	_ Recorder   = (*recorder.Recorder)(nil)
	_ TextSource = (*narration.Queue)(nil)
)

type Orchestrator struct {
	narrator      Narrator
	recorder      Recorder
	texts         TextSource
	startGrace    time.Duration
	trailingGrace time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	onReading     func(i int)
	log           *slog.Logger

	inProgress atomic.Bool
	mu         sync.Mutex
	cancel     context.CancelFunc
}

type Option func(*Orchestrator)

// WithGrace overrides the pauses before and after narration.
func WithGrace(start, trailing time.Duration) Option {
	return func(o *Orchestrator) {
		o.startGrace = start
		o.trailingGrace = trailing
	}
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithOnReading forwards the index of each entry as narration reaches it.
func WithOnReading(fn func(i int)) Option {
	return func(o *Orchestrator) { o.onReading = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func New(n Narrator, r Recorder, texts TextSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		narrator:      n,
		recorder:      r,
		texts:         texts,
		startGrace:    DefaultStartGrace,
		trailingGrace: DefaultTrailingGrace,
		sleep:         narration.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.OrDefault(o.log).With("component", component)
	return o
}

// InProgress reports whether a run is in flight.
func (o *Orchestrator) InProgress() bool {
	return o.inProgress.Load()
}

// Cancel aborts the run in flight, if any. The run stops its recording and
// returns a Cancelled error.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		o.narrator.Stop()
	}
}

func nonBlank(queue []string) int {
	n := 0
	for _, s := range queue {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// Run records surface while the current text queue is narrated and returns
// the resulting artifact. Only one run may be in flight; a concurrent call is
// rejected with a Busy error.
func (o *Orchestrator) Run(ctx context.Context, surface recorder.Surface, opts recorder.Options) (*recorder.Artifact, error) {
	if !o.inProgress.CompareAndSwap(false, true) {
		return nil, apperr.New(apperr.KindBusy, component, "run", "a recording is already in progress")
	}
	defer o.inProgress.Store(false)

	var queue []string
	if o.texts != nil {
		queue = o.texts.Snapshot()
	}
	if nonBlank(queue) == 0 {
		return nil, apperr.New(apperr.KindNotReady, component, "run", "there is no text to narrate")
	}
	if o.recorder == nil || !o.recorder.IsSupported() {
		return nil, apperr.New(apperr.KindUnsupportedCapability, component, "run", "media recording is not supported")
	}
	if o.narrator == nil || !o.narrator.Available() {
		return nil, apperr.New(apperr.KindUnsupportedCapability, component, "run", "speech synthesis is not supported")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}()

	log := o.log.With("entries", len(queue))

	// 1. start recording
	session, err := o.recorder.Start(runCtx, surface, opts)
	if err != nil {
		log.Warn("recording did not start", "error", err)
		return nil, err
	}
	log = log.With("session", session.ID)

	// 2. let the pipeline settle
	if err := o.sleep(runCtx, o.startGrace); err != nil {
		return nil, o.abort(log, apperr.Wrap(apperr.KindCancelled, component, "start grace", err))
	}

	// 3. narrate, watching for the recording dying underneath
	if err := o.narrate(runCtx, session, queue); err != nil {
		return nil, o.abort(log, err)
	}

	// 4. keep recording so trailing audio is not cut off
	if err := o.sleep(runCtx, o.trailingGrace); err != nil {
		return nil, o.abort(log, apperr.Wrap(apperr.KindCancelled, component, "trailing grace", err))
	}

	// 5. stop and collect the artifact
	a, err := o.recorder.Stop(runCtx)
	if err != nil {
		return nil, o.abort(log, err)
	}
	if a == nil {
		return nil, o.abort(log, endedEarly(session))
	}
	log.Info("recording complete", "bytes", a.Size(), "mime_type", a.MimeType)
	return a, nil
}

func (o *Orchestrator) narrate(ctx context.Context, session *recorder.Session, queue []string) error {
	done := make(chan error, 1)
	go func() {
		done <- o.narrator.PlaySequence(ctx, queue, o.onReading)
	}()

	select {
	case err := <-done:
		return err
	case <-session.Done():
		o.narrator.Stop()
		<-done
		return endedEarly(session)
	}
}

func endedEarly(session *recorder.Session) error {
	if err := session.Err(); err != nil {
		return err
	}
	return apperr.New(apperr.KindEngine, component, "run", "recording ended before narration finished")
}

// abort releases everything the run acquired and hands err back unchanged.
func (o *Orchestrator) abort(log *slog.Logger, err error) error {
	log.Warn("recording aborted", "error", err)
	o.narrator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, stopErr := o.recorder.Stop(ctx); stopErr != nil {
		log.Debug("best-effort stop failed", "error", stopErr)
	}
	o.recorder.Dispose()
	return err
}
