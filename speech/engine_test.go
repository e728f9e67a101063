package speech

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"canvascast/narration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-s", "175", "-p", "50", "-a", "100", "--", "Hello"},
		Args("Hello", narration.Options{}))

	assert.Equal(t,
		[]string{"-s", "350", "-p", "99", "-a", "200", "--", "-dash"},
		Args("-dash", narration.Options{Rate: 2, Pitch: 3, Volume: 5}))
}

func TestAvailable(t *testing.T) {
	e := NewCommandEngine("espeak", nil)
	e.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	assert.False(t, e.Available())

	e.lookPath = func(string) (string, error) { return "/usr/bin/espeak", nil }
	assert.True(t, e.Available())
}

// The engine is exercised through sh so the tests do not need a synthesizer.
func shEngine(script string) *CommandEngine {
	e := NewCommandEngine("sh", nil)
	e.command = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return e
}

func TestSpeak(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		require.NoError(t, shEngine("exit 0").Speak(context.Background(), "hi", narration.Options{}))
	})

	t.Run("failure includes stderr", func(t *testing.T) {
		err := shEngine("echo 'no voice' >&2; exit 3").Speak(context.Background(), "hi", narration.Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no voice")
	})

	t.Run("cancel all stops a running utterance", func(t *testing.T) {
		e := shEngine("sleep 10")
		done := make(chan error, 1)
		go func() { done <- e.Speak(context.Background(), "hi", narration.Options{}) }()

		require.Eventually(t, func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			return len(e.running) == 1
		}, 2*time.Second, 10*time.Millisecond)
		e.CancelAll()

		select {
		case err := <-done:
			assert.True(t, errors.Is(err, context.Canceled))
		case <-time.After(5 * time.Second):
			t.Fatal("utterance was not cancelled")
		}
	})
}
