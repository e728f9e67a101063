package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeAndValidateArgs checks operator-supplied extra arguments before they
// are spliced into a generated command line. Inputs and outputs are owned by
// the caller, so extra args may not add either.
func SanitizeAndValidateArgs(args []string) error {
	for i, arg := range args {
		if arg == "-i" {
			return fmt.Errorf("extra arguments may not add inputs")
		}
		if strings.HasPrefix(arg, "pipe:") || strings.HasPrefix(arg, "file:") {
			return fmt.Errorf("extra arguments may not name outputs: %s", arg)
		}
		// We allow " and ' as they are handled by shlex, but block others.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		// A trailing bare word would be taken by ffmpeg as an extra output file.
		if i == len(args)-1 && !strings.HasPrefix(arg, "-") && (i == 0 || !strings.HasPrefix(args[i-1], "-")) {
			return fmt.Errorf("dangling argument: %s", arg)
		}
	}
	return nil
}

// ExtraArgs splits and validates an extra-arguments string. An empty string
// yields no arguments.
func ExtraArgs(command string) ([]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil
	}
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if err := SanitizeAndValidateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
