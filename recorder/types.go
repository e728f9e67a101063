package recorder

import (
	"context"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is a live capture source owned by one session.
type Track interface {
	Kind() TrackKind
	Stop()
	Stopped() bool
}

// Surface is the visual target being recorded.
type Surface interface {
	CaptureStream(fps int) (Track, error)
}

// AudioSource provides an optional live audio input.
type AudioSource interface {
	Acquire(ctx context.Context) (Track, error)
}

// Stream combines the tracks handed to the engine.
type Stream struct {
	Tracks []Track
}

func (s *Stream) Video() Track { return s.track(TrackVideo) }
func (s *Stream) Audio() Track { return s.track(TrackAudio) }

func (s *Stream) track(kind TrackKind) Track {
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

type EngineConfig struct {
	MimeType     string
	FPS          int
	VideoBitrate int
	AudioBitrate int
}

// Engine is the platform recorder capability.
type Engine interface {
	// Available reports whether recording (and audio mixing) is possible at all.
	Available() bool
	SupportsMimeType(mimeType string) bool
	Create(stream *Stream, cfg EngineConfig) (Handle, error)
}

type EventType int

const (
	EventStart EventType = iota
	EventData
	EventStop
	EventError
)

// Event is delivered in order on Handle.Events: one EventStart, any number of
// EventData, then exactly one EventStop or EventError.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// Handle is one engine-level recorder.
type Handle interface {
	// Start begins recording, emitting buffered output every timeslice.
	Start(timeslice time.Duration) error
	Stop() error
	Events() <-chan Event
}

const (
	DefaultFPS          = 30
	DefaultVideoBitrate = 2_500_000
	DefaultAudioBitrate = 128_000
	DefaultTimeslice    = time.Second
	MinTimeslice        = 100 * time.Millisecond
)

// DefaultFormats lists container/codec choices in descending preference.
var DefaultFormats = []string{
	"video/mp4;codecs=avc1,mp4a",
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
}

type Options struct {
	TargetFPS        int
	VideoBitrate     int
	AudioBitrate     int
	PreferredFormats []string
	Timeslice        time.Duration
}

func (o Options) withDefaults() Options {
	if o.TargetFPS <= 0 {
		o.TargetFPS = DefaultFPS
	}
	if o.VideoBitrate <= 0 {
		o.VideoBitrate = DefaultVideoBitrate
	}
	if o.AudioBitrate <= 0 {
		o.AudioBitrate = DefaultAudioBitrate
	}
	if len(o.PreferredFormats) == 0 {
		o.PreferredFormats = DefaultFormats
	}
	switch {
	case o.Timeslice <= 0:
		o.Timeslice = DefaultTimeslice
	case o.Timeslice < MinTimeslice:
		o.Timeslice = MinTimeslice
	case o.Timeslice > DefaultTimeslice:
		o.Timeslice = DefaultTimeslice
	}
	return o
}

// Artifact is the finalized recording.
type Artifact struct {
	Data      []byte
	MimeType  string
	SessionID string
	StartedAt time.Time
	StoppedAt time.Time
}

func (a *Artifact) Size() int { return len(a.Data) }

func (a *Artifact) Duration() time.Duration { return a.StoppedAt.Sub(a.StartedAt) }

// Extension is "mp4" for mp4 media types and "webm" otherwise.
func (a *Artifact) Extension() string { return Extension(a.MimeType) }
