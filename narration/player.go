// Package narration reads an ordered list of text snippets aloud through a
// pluggable speech engine.
package narration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"canvascast/apperr"
	"canvascast/logger"
	"canvascast/metrics"
)

const component = "narration"

// DefaultPause is the silence inserted between two consecutive entries.
const DefaultPause = 500 * time.Millisecond

var ErrEmptyText = errors.New("narration text is empty")

// Options tune a single utterance. Zero values mean "engine default" (1.0).
type Options struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// Engine is the host text-to-speech capability.
type Engine interface {
	Available() bool
	// Speak blocks until the utterance has been spoken, failed, or ctx is done.
	Speak(ctx context.Context, text string, opts Options) error
	// CancelAll aborts every active utterance.
	CancelAll()
}

// Player speaks one entry at a time, in order, each to completion.
type Player struct {
	engine  Engine
	opts    Options
	pause   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	cancelUtt context.CancelFunc
	uttID     uint64
	cancelSeq context.CancelFunc
	seqID     uint64
}

type PlayerOption func(*Player)

// WithPause overrides the inter-entry pause.
func WithPause(d time.Duration) PlayerOption {
	return func(p *Player) { p.pause = d }
}

// WithOptions sets the utterance options used by PlaySequence.
func WithOptions(opts Options) PlayerOption {
	return func(p *Player) { p.opts = opts }
}

// WithSleeper replaces the pause implementation, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) PlayerOption {
	return func(p *Player) { p.sleep = sleep }
}

func WithLogger(log *slog.Logger) PlayerOption {
	return func(p *Player) { p.log = log }
}

func WithMetrics(m *metrics.Metrics) PlayerOption {
	return func(p *Player) { p.metrics = m }
}

func NewPlayer(engine Engine, opts ...PlayerOption) *Player {
	p := &Player{
		engine: engine,
		opts:   Options{Rate: 1, Pitch: 1, Volume: 1},
		pause:  DefaultPause,
		sleep:  Sleep,
	}
	for _, o := range opts {
		o(p)
	}
	p.log = logger.OrDefault(p.log).With("component", component)
	return p
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available reports whether the speech engine can be used.
func (p *Player) Available() bool {
	return p.engine != nil && p.engine.Available()
}

// Speak reads a single text. Any utterance still active from an earlier call
// is cancelled first.
func (p *Player) Speak(ctx context.Context, text string, opts Options) error {
	if !p.Available() {
		return apperr.New(apperr.KindUnsupportedCapability, component, "speak", "speech engine is not available")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	uttCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancelUtt != nil {
		p.cancelUtt()
		p.engine.CancelAll()
	}
	p.uttID++
	id := p.uttID
	p.cancelUtt = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.uttID == id {
			p.cancelUtt = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	err := p.engine.Speak(uttCtx, text, opts)
	if err == nil {
		return nil
	}
	if uttCtx.Err() != nil {
		return apperr.Wrap(apperr.KindCancelled, component, "speak", uttCtx.Err())
	}
	return apperr.Wrap(apperr.KindEngine, component, "speak", err)
}

// PlaySequence speaks every entry of queue in order. onReading, if set, is
// called with the entry index right before that entry starts.
func (p *Player) PlaySequence(ctx context.Context, queue []string, onReading func(i int)) error {
	if !p.Available() {
		return apperr.New(apperr.KindUnsupportedCapability, component, "play sequence", "speech engine is not available")
	}
	entries := append([]string(nil), queue...)

	seqCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.seqID++
	id := p.seqID
	p.cancelSeq = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.seqID == id {
			p.cancelSeq = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	last := -1
	for i, text := range entries {
		if strings.TrimSpace(text) != "" {
			last = i
		}
	}

	p.log.Info("narration started", "entries", len(entries))
	for i, text := range entries {
		if seqCtx.Err() != nil {
			return apperr.Wrap(apperr.KindCancelled, component, "play sequence", seqCtx.Err())
		}
		if strings.TrimSpace(text) == "" {
			p.log.Debug("skipping blank entry", "index", i)
			continue
		}
		if onReading != nil {
			onReading(i)
		}
		p.log.Debug("reading entry", "index", i)
		if err := p.Speak(seqCtx, text, p.opts); err != nil {
			p.log.Warn("narration aborted", "index", i, "error", err)
			return err
		}
		p.metrics.IncNarrationEntries()

		if i < last {
			if err := p.sleep(seqCtx, p.pause); err != nil {
				return apperr.Wrap(apperr.KindCancelled, component, "play sequence", err)
			}
		}
	}
	p.log.Info("narration finished", "entries", len(entries))
	return nil
}

// Stop cancels the utterance in flight and any entries not yet spoken. It is
// safe to call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	cancelSeq, cancelUtt := p.cancelSeq, p.cancelUtt
	p.mu.Unlock()

	if cancelSeq == nil && cancelUtt == nil {
		return
	}
	if cancelSeq != nil {
		cancelSeq()
	}
	if cancelUtt != nil {
		cancelUtt()
	}
	if p.engine != nil {
		p.engine.CancelAll()
	}
	p.log.Info("narration stopped")
}
