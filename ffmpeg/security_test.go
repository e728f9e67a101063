package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	cmd := `-vf "scale=1280:-1" -preset veryfast -crf 23`
	expected := []string{"-vf", "scale=1280:-1", "-preset", "veryfast", "-crf", "23"}

	args, err := SplitCommand(cmd)
	assert.NoError(t, err)
	assert.Equal(t, expected, args)

	_, err = SplitCommand(`-vf "unterminated`)
	assert.Error(t, err)
}

func TestSanitizeAndValidateArgs(t *testing.T) {
	t.Run("Valid arguments", func(t *testing.T) {
		args, _ := SplitCommand(`-preset veryfast -crf 23`)
		assert.NoError(t, SanitizeAndValidateArgs(args))
	})

	t.Run("Extra input", func(t *testing.T) {
		args, _ := SplitCommand(`-i /etc/passwd -c:v libx264`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "may not add inputs")
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		args, _ := SplitCommand(`-crf 23; ls -la`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: 23;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		args, _ := SplitCommand(`-vf "crop=$(($RANDOM))"`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: crop=$(($RANDOM))")
	})

	t.Run("Dangling output file", func(t *testing.T) {
		args, _ := SplitCommand(`-crf 23 extra.mp4`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "dangling argument")
	})

	t.Run("Pipe output", func(t *testing.T) {
		err := SanitizeAndValidateArgs([]string{"-f", "mp4", "pipe:1"})
		assert.Error(t, err)
	})
}

func TestExtraArgs(t *testing.T) {
	args, err := ExtraArgs("   ")
	assert.NoError(t, err)
	assert.Nil(t, args)

	args, err = ExtraArgs(`-preset ultrafast`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"-preset", "ultrafast"}, args)
}
