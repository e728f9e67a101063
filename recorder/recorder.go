// Package recorder captures a visual surface, optionally mixed with a live
// audio input, into a single downloadable media artifact.
//
// A Recorder owns at most one Session at a time. Every session releases its
// capture resources exactly once, whichever way it ends.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"canvascast/apperr"
	"canvascast/logger"
	"canvascast/metrics"
)

const component = "recorder"

// Hooks are optional lifecycle notifications.
type Hooks struct {
	OnStart func(s *Session)
	OnStop  func(a *Artifact)
	OnError func(err error)
}

type Recorder struct {
	engine  Engine
	audio   AudioSource
	hooks   Hooks
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active *Session
}

type Option func(*Recorder)

// WithAudio mixes a live audio input into recordings when it can be acquired.
func WithAudio(src AudioSource) Option {
	return func(r *Recorder) { r.audio = src }
}

func WithHooks(h Hooks) Option {
	return func(r *Recorder) { r.hooks = h }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func New(engine Engine, opts ...Option) *Recorder {
	r := &Recorder{engine: engine}
	for _, o := range opts {
		o(r)
	}
	r.log = logger.OrDefault(r.log).With("component", component)
	return r
}

// IsSupported reports whether the minimum capability set exists.
func (r *Recorder) IsSupported() bool {
	return r.engine != nil && r.engine.Available()
}

// State is the state of the active session, or StateIdle.
func (r *Recorder) State() State {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	return s.State()
}

// Session returns the active session, if any.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start captures surface and begins recording. It returns once the engine has
// confirmed that recording is active.
func (r *Recorder) Start(ctx context.Context, surface Surface, opts Options) (*Session, error) {
	if !r.IsSupported() {
		return nil, apperr.New(apperr.KindUnsupportedCapability, component, "start", "media recording is not supported")
	}
	if surface == nil {
		return nil, apperr.New(apperr.KindUnsupportedCapability, component, "start", "no capturable surface")
	}
	opts = opts.withDefaults()

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, apperr.New(apperr.KindBusy, component, "start", "a recording session is already active")
	}
	s := newSession()
	r.active = s
	r.mu.Unlock()

	log := r.log.With("session", s.ID)
	if err := r.setup(ctx, s, surface, opts, log); err != nil {
		r.abort(s, err)
		r.metrics.RecordingSetupFailed()
		log.Error("recording setup failed", "error", err)
		return nil, err
	}

	r.metrics.RecordingStarted()
	log.Info("recording started", "mime_type", s.MimeType, "fps", opts.TargetFPS, "audio", len(s.Tracks()) > 1)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart(s)
	}
	return s, nil
}

func (r *Recorder) setup(ctx context.Context, s *Session, surface Surface, opts Options, log *slog.Logger) error {
	video, err := surface.CaptureStream(opts.TargetFPS)
	if err != nil {
		return apperr.Wrap(apperr.KindResourceAcquisition, component, "capture surface", err)
	}
	s.mu.Lock()
	s.res.video = video
	s.mu.Unlock()

	if r.audio != nil {
		audio, err := r.audio.Acquire(ctx)
		if err != nil {
			log.Warn("audio input unavailable, recording video only", "error", err)
		} else {
			s.mu.Lock()
			s.res.audio = audio
			s.mu.Unlock()
		}
	}

	stream := &Stream{Tracks: s.Tracks()}
	s.MimeType = NegotiateMimeType(r.engine, opts.PreferredFormats)

	h, err := r.engine.Create(stream, EngineConfig{
		MimeType:     s.MimeType,
		FPS:          opts.TargetFPS,
		VideoBitrate: opts.VideoBitrate,
		AudioBitrate: opts.AudioBitrate,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindEngine, component, "create recorder", err)
	}
	s.mu.Lock()
	s.res.stream = stream
	s.res.handle = h
	s.mu.Unlock()

	go r.consume(s, h, log)

	if err := h.Start(opts.Timeslice); err != nil {
		return apperr.Wrap(apperr.KindEngine, component, "start recorder", err)
	}

	select {
	case <-s.started:
	case <-s.done:
		return endedBeforeStart(s)
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindCancelled, component, "start", ctx.Err())
	}

	if !s.markRecording() {
		<-s.done
		return endedBeforeStart(s)
	}
	return nil
}

func endedBeforeStart(s *Session) error {
	if s.err != nil {
		return s.err
	}
	return apperr.New(apperr.KindEngine, component, "start", "recorder stopped before recording began")
}

// consume folds the engine's event stream into the session's single
// completion signal.
func (r *Recorder) consume(s *Session, h Handle, log *slog.Logger) {
	for ev := range h.Events() {
		switch ev.Type {
		case EventStart:
			s.markStarted()
		case EventData:
			if len(ev.Data) > 0 {
				s.appendChunk(ev.Data)
				log.Debug("slice buffered", "bytes", len(ev.Data))
			}
		case EventStop:
			r.finalize(s, log)
			return
		case EventError:
			err := ev.Err
			if err == nil {
				err = errors.New("unknown recorder error")
			}
			r.fail(s, err, log)
			return
		}
	}
	r.fail(s, errors.New("recorder event stream closed unexpectedly"), log)
}

func (r *Recorder) finalize(s *Session, log *slog.Logger) {
	if !s.claim() {
		return
	}
	recorded := s.isRecorded()
	s.setState(StateProcessing)
	a := s.assemble()
	s.setState(StateStopped)
	log.Info("recording finalized", "bytes", a.Size(), "duration", a.Duration().String())
	if r.hooks.OnStop != nil && recorded {
		r.hooks.OnStop(a)
	}
	r.release(s, log)
	s.complete(a, nil)
}

func (r *Recorder) fail(s *Session, cause error, log *slog.Logger) {
	if !s.claim() {
		return
	}
	recorded := s.isRecorded()
	err := apperr.Wrap(apperr.KindEngine, component, "record", cause)
	s.setState(StateFailed)
	log.Error("recording failed", "error", cause)
	if r.hooks.OnError != nil && recorded {
		r.hooks.OnError(err)
	}
	r.release(s, log)
	s.complete(nil, err)
}

// abort ends s with err unless it already ended on its own.
func (r *Recorder) abort(s *Session, err error) {
	if !s.claim() {
		<-s.done
		return
	}
	s.stopOnce.Do(func() {
		if h := s.handle(); h != nil {
			_ = h.Stop()
		}
	})
	s.setState(StateFailed)
	r.release(s, r.log.With("session", s.ID))
	s.complete(nil, err)
}

func (r *Recorder) release(s *Session, log *slog.Logger) {
	s.releaseOnce.Do(func() {
		s.releaseTracks()
		r.mu.Lock()
		if r.active == s {
			r.active = nil
		}
		r.mu.Unlock()
		if s.isRecorded() {
			r.metrics.RecordingFinished(s.State() == StateFailed)
		}
		log.Debug("capture resources released")
	})
}

func (s *Session) isRecorded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded
}

// Stop ends the active recording and returns its artifact. Calling Stop when
// nothing is recording is a no-op that returns (nil, nil).
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	s := r.Session()
	if s == nil || s.State() != StateRecording {
		r.log.Warn("stop requested while not recording", "state", string(r.State()))
		return nil, nil
	}

	var stopErr error
	s.stopOnce.Do(func() {
		if h := s.handle(); h != nil {
			stopErr = h.Stop()
		}
	})
	if stopErr != nil {
		r.fail(s, stopErr, r.log.With("session", s.ID))
	}

	select {
	case <-s.done:
		return s.artifact, s.err
	case <-ctx.Done():
		r.abort(s, apperr.Wrap(apperr.KindCancelled, component, "stop", ctx.Err()))
		return s.artifact, s.err
	}
}

// Dispose tears down the active session, if any, without waiting for an artifact.
func (r *Recorder) Dispose() {
	s := r.Session()
	if s == nil {
		return
	}
	r.abort(s, apperr.New(apperr.KindCancelled, component, "dispose", "recorder disposed"))
}
