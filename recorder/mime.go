package recorder

import "strings"

// FallbackMimeType is used when the engine reports none of the preferred types.
const FallbackMimeType = "video/webm"

// NegotiateMimeType returns the first preferred type the engine supports.
func NegotiateMimeType(e Engine, preferred []string) string {
	for _, m := range preferred {
		if e.SupportsMimeType(m) {
			return m
		}
	}
	return FallbackMimeType
}

// Extension derives the file extension for a media type.
func Extension(mimeType string) string {
	if strings.Contains(mimeType, "mp4") {
		return "mp4"
	}
	return "webm"
}
