package recorder

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// resourceSet holds the capture handles a session owns exclusively.
type resourceSet struct {
	video  Track
	audio  Track
	stream *Stream
	handle Handle
}

func (rs *resourceSet) tracks() []Track {
	var out []Track
	if rs.video != nil {
		out = append(out, rs.video)
	}
	if rs.audio != nil {
		out = append(out, rs.audio)
	}
	return out
}

// Session is one recording attempt.
type Session struct {
	ID       string
	MimeType string

	mu        sync.Mutex
	state     State
	chunks    [][]byte
	res       resourceSet
	startedAt time.Time
	stoppedAt time.Time
	recorded  bool

	claimed     atomic.Bool
	startedOnce sync.Once
	started     chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	done        chan struct{}
	artifact    *Artifact
	err         error
}

func newSession() *Session {
	return &Session{
		ID:      uuid.NewString(),
		state:   StateIdle,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Tracks returns every track the session acquired, including released ones.
func (s *Session) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res.tracks()
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Done is closed once the session has either produced an artifact or failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (*Artifact, error) {
	select {
	case <-s.done:
		return s.artifact, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the failure that ended the session, if it has ended.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res.handle
}

func (s *Session) appendChunk(b []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, b)
	s.mu.Unlock()
}

func (s *Session) markStarted() {
	s.startedOnce.Do(func() { close(s.started) })
}

// markRecording moves a confirmed session to Recording. It reports false when
// the session was already claimed by a finisher, in which case nothing changes.
// A finisher that claims afterwards observes recorded as true.
func (s *Session) markRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed.Load() {
		return false
	}
	s.state = StateRecording
	s.startedAt = time.Now()
	s.recorded = true
	return true
}

// claim grants exactly one caller the right to finish the session.
func (s *Session) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

func (s *Session) assemble() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stoppedAt = time.Now()
	return &Artifact{
		Data:      bytes.Join(s.chunks, nil),
		MimeType:  s.MimeType,
		SessionID: s.ID,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
	}
}

func (s *Session) complete(a *Artifact, err error) {
	s.artifact, s.err = a, err
	close(s.done)
}

// releaseTracks stops every owned track and drops the stream and handle.
func (s *Session) releaseTracks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.res.tracks() {
		if !t.Stopped() {
			t.Stop()
		}
	}
	s.res.stream = nil
	s.res.handle = nil
	s.chunks = nil
}
