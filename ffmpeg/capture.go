package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"canvascast/logger"
	"canvascast/recorder"
)

const (
	defaultKillTimeout  = 5 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// InputTrack is a capture source expressed as ffmpeg input options.
type InputTrack struct {
	kind    recorder.TrackKind
	args    []string
	stopped atomic.Bool
}

func NewInputTrack(kind recorder.TrackKind, args ...string) *InputTrack {
	return &InputTrack{kind: kind, args: args}
}

func (t *InputTrack) Kind() recorder.TrackKind { return t.kind }
func (t *InputTrack) Stop()                    { t.stopped.Store(true) }
func (t *InputTrack) Stopped() bool            { return t.stopped.Load() }

// InputArgs returns a copy of the ffmpeg input options.
func (t *InputTrack) InputArgs() []string {
	return append([]string(nil), t.args...)
}

// Surface is a screen or synthetic source readable by an ffmpeg input device,
// such as x11grab ":0.0" or lavfi "color=c=white:s=640x360".
type Surface struct {
	Format string
	Input  string
	Size   string
}

func (s Surface) CaptureStream(fps int) (recorder.Track, error) {
	if s.Format == "" || s.Input == "" {
		return nil, errors.New("capture surface is not configured")
	}
	var args []string
	if s.Format == "lavfi" {
		// Synthetic sources run as fast as possible unless paced.
		args = append(args, "-re", "-f", s.Format)
	} else {
		args = append(args, "-f", s.Format, "-framerate", strconv.Itoa(fps))
		if s.Size != "" {
			args = append(args, "-video_size", s.Size)
		}
	}
	args = append(args, "-i", s.Input)
	return NewInputTrack(recorder.TrackVideo, args...), nil
}

// AudioDevice is a live audio input such as pulse "default". Devices built by
// CaptureEngine.Audio are opened once before a track is handed out.
type AudioDevice struct {
	Format string
	Input  string

	engine *CaptureEngine
}

func (d AudioDevice) Acquire(ctx context.Context) (recorder.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Format == "" || d.Input == "" {
		return nil, errors.New("no audio input configured")
	}
	if d.engine != nil {
		if err := d.engine.probeInput(ctx, d.Format, d.Input); err != nil {
			return nil, fmt.Errorf("audio input %s %q unavailable: %w", d.Format, d.Input, err)
		}
	}
	return NewInputTrack(recorder.TrackAudio, "-f", d.Format, "-i", d.Input), nil
}

// CaptureEngine records InputTracks by running ffmpeg with the container
// written to stdout.
type CaptureEngine struct {
	bin          string
	log          *slog.Logger
	killTimeout  time.Duration
	probeTimeout time.Duration
	thresholds   *Thresholds
	probe        resourceProbe
	lookPath     func(string) (string, error)
	command      func(name string, args ...string) *exec.Cmd
}

type CaptureOption func(*CaptureEngine)

// WithResourceCheck refuses to create recorders when the host is short of resources.
func WithResourceCheck(th Thresholds) CaptureOption {
	return func(e *CaptureEngine) { e.thresholds = &th }
}

// WithKillTimeout bounds how long a graceful stop may take before the process is killed.
func WithKillTimeout(d time.Duration) CaptureOption {
	return func(e *CaptureEngine) { e.killTimeout = d }
}

func NewCaptureEngine(bin string, log *slog.Logger, opts ...CaptureOption) *CaptureEngine {
	e := &CaptureEngine{
		bin:          bin,
		log:          logger.OrDefault(log).With("component", "capture"),
		killTimeout:  defaultKillTimeout,
		probeTimeout: defaultProbeTimeout,
		probe:        hostProbe,
		lookPath:     exec.LookPath,
		command:      exec.Command,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Audio returns an audio device that is checked with a short test read
// before each recording uses it.
func (e *CaptureEngine) Audio(format, input string) AudioDevice {
	return AudioDevice{Format: format, Input: input, engine: e}
}

// probeInput reads a fraction of a second from an input and discards it.
func (e *CaptureEngine) probeInput(ctx context.Context, format, input string) error {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	cmd := e.command(e.bin, "-nostdin", "-hide_banner", "-loglevel", "error",
		"-f", format, "-i", input, "-t", "0.1", "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		return err
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil {
			if detail := strings.TrimSpace(stderr.String()); detail != "" {
				return fmt.Errorf("%w: %s", err, detail)
			}
		}
		return err
	case <-ctx.Done():
		cmd.Process.Kill()
		<-waitErr
		return ctx.Err()
	}
}

func (e *CaptureEngine) Available() bool {
	_, err := e.lookPath(e.bin)
	return err == nil
}

var supportedCodecs = map[string]map[string]bool{
	"mp4":  {"avc1": true, "mp4a": true},
	"webm": {"vp8": true, "vp9": true, "opus": true},
}

// parseMimeType splits "video/webm;codecs=vp9,opus" into container and codecs.
func parseMimeType(mimeType string) (container string, codecs []string) {
	base, params, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	if !strings.HasPrefix(base, "video/") {
		return "", nil
	}
	container = strings.TrimPrefix(base, "video/")
	if v, ok := strings.CutPrefix(strings.TrimSpace(params), "codecs="); ok {
		for _, c := range strings.Split(strings.Trim(v, `"`), ",") {
			if c = strings.TrimSpace(c); c != "" {
				codecs = append(codecs, strings.SplitN(c, ".", 2)[0])
			}
		}
	}
	return container, codecs
}

func (e *CaptureEngine) SupportsMimeType(mimeType string) bool {
	container, codecs := parseMimeType(mimeType)
	allowed, ok := supportedCodecs[container]
	if !ok {
		return false
	}
	for _, c := range codecs {
		if !allowed[c] {
			return false
		}
	}
	return true
}

// CaptureArgs builds the ffmpeg command line recording video (and optional
// audio) into the container named by cfg.MimeType on stdout.
func CaptureArgs(video, audio *InputTrack, cfg recorder.EngineConfig) ([]string, error) {
	if video == nil {
		return nil, errors.New("stream has no video track")
	}
	container, codecs := parseMimeType(cfg.MimeType)
	if _, ok := supportedCodecs[container]; !ok {
		return nil, fmt.Errorf("unsupported media type: %s", cfg.MimeType)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, video.args...)
	if audio != nil {
		args = append(args, audio.args...)
		args = append(args, "-map", "0:v", "-map", "1:a")
	}
	args = append(args, "-r", strconv.Itoa(cfg.FPS))

	switch container {
	case "mp4":
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p")
	case "webm":
		vcodec := "libvpx"
		if len(codecs) == 0 || slices.Contains(codecs, "vp9") {
			vcodec = "libvpx-vp9"
		}
		args = append(args, "-c:v", vcodec, "-deadline", "realtime")
	}
	args = append(args, "-b:v", strconv.Itoa(cfg.VideoBitrate))

	if audio == nil {
		args = append(args, "-an")
	} else if container == "mp4" {
		args = append(args, "-c:a", "aac", "-b:a", strconv.Itoa(cfg.AudioBitrate))
	} else {
		args = append(args, "-c:a", "libopus", "-b:a", strconv.Itoa(cfg.AudioBitrate))
	}

	if container == "mp4" {
		// Fragmented output so the container is valid without seeking back.
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	return append(args, "-f", container, "pipe:1"), nil
}

func (e *CaptureEngine) Create(stream *recorder.Stream, cfg recorder.EngineConfig) (recorder.Handle, error) {
	if stream == nil {
		return nil, errors.New("no stream to record")
	}
	video, ok := stream.Video().(*InputTrack)
	if !ok {
		return nil, errors.New("video track is not an ffmpeg input")
	}
	var audio *InputTrack
	if t := stream.Audio(); t != nil {
		if audio, ok = t.(*InputTrack); !ok {
			return nil, errors.New("audio track is not an ffmpeg input")
		}
	}
	if e.thresholds != nil {
		if err := e.probe.check(*e.thresholds, e.log); err != nil {
			return nil, fmt.Errorf("insufficient system resources: %w", err)
		}
	}
	args, err := CaptureArgs(video, audio, cfg)
	if err != nil {
		return nil, err
	}
	return &captureHandle{
		engine: e,
		args:   args,
		events: make(chan recorder.Event, 16),
		exited: make(chan struct{}),
	}, nil
}

// captureHandle runs one ffmpeg capture process.
type captureHandle struct {
	engine *CaptureEngine
	args   []string
	events chan recorder.Event
	exited chan struct{}

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   bytes.Buffer
	started  bool
	closed   bool
	stopping atomic.Bool
}

func (h *captureHandle) Events() <-chan recorder.Event { return h.events }

func (h *captureHandle) Start(timeslice time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.closed {
		return errors.New("capture already started or stopped")
	}

	cmd := h.engine.command(h.engine.bin, h.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = &h.stderr

	h.engine.log.Debug("starting capture", "cmd", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg could not start: %w", err)
	}
	h.cmd, h.stdin, h.started = cmd, stdin, true

	go h.pump(stdout, timeslice)
	return nil
}

// pump batches stdout into one data event per timeslice, then reports how
// the process ended and closes the event channel. EventStart is sent with the
// first output, once the container header shows capture is running.
func (h *captureHandle) pump(stdout io.Reader, timeslice time.Duration) {
	defer close(h.events)

	reads := make(chan []byte)
	go func() {
		defer close(reads)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				reads <- bytes.Clone(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	started := false
	var pending bytes.Buffer
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		h.events <- recorder.Event{Type: recorder.EventData, Data: bytes.Clone(pending.Bytes())}
		pending.Reset()
	}

	for {
		select {
		case b, ok := <-reads:
			if !ok {
				flush()
				err := h.cmd.Wait()
				close(h.exited)
				h.events <- h.finalEvent(err)
				return
			}
			if !started {
				started = true
				h.events <- recorder.Event{Type: recorder.EventStart}
			}
			pending.Write(b)
		case <-ticker.C:
			flush()
		}
	}
}

func (h *captureHandle) finalEvent(err error) recorder.Event {
	switch {
	case err == nil:
		return recorder.Event{Type: recorder.EventStop}
	case h.stopping.Load():
		h.engine.log.Warn("capture process did not exit cleanly after stop", "error", err)
		return recorder.Event{Type: recorder.EventStop}
	default:
		detail := strings.TrimSpace(h.stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return recorder.Event{Type: recorder.EventError, Err: fmt.Errorf("capture process exited: %w", err)}
	}
}

// Stop asks ffmpeg to finish the container by sending "q" on stdin, and kills
// it if it has not exited within the kill timeout.
func (h *captureHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	if !h.started {
		h.events <- recorder.Event{Type: recorder.EventStop}
		close(h.events)
		return nil
	}

	h.stopping.Store(true)
	if _, err := io.WriteString(h.stdin, "q\n"); err != nil {
		h.engine.log.Debug("could not send quit to capture process", "error", err)
	}
	h.stdin.Close()

	proc := h.cmd.Process
	go func() {
		select {
		case <-h.exited:
		case <-time.After(h.engine.killTimeout):
			h.engine.log.Warn("capture process did not stop in time, killing")
			proc.Kill()
		}
	}()
	return nil
}
