package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultExportName = "recording"

var ErrEmptyArtifact = errors.New("artifact has no data")

// Download writes the artifact into dir as name.<ext>, where the extension is
// derived from the artifact's media type. Any extension on name is replaced.
// The write is attempted once.
func Download(a *Artifact, dir, name string) (string, error) {
	if a == nil || len(a.Data) == 0 {
		return "", ErrEmptyArtifact
	}

	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = defaultExportName
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create export directory: %w", err)
	}
	path := filepath.Join(dir, base+"."+a.Extension())
	if err := os.WriteFile(path, a.Data, 0644); err != nil {
		return "", fmt.Errorf("could not write recording: %w", err)
	}
	return path, nil
}
