package voice

import (
	"mime"
	"strings"
)

// DefaultMimeType is assumed when a fragment carries no type.
const DefaultMimeType = "audio/webm"

var supportedMimeTypes = map[string]struct{}{
	"audio/wav":   {},
	"audio/x-wav": {},
	"audio/webm":  {},
	"audio/ogg":   {},
	"audio/mp4":   {},
	"audio/mpeg":  {},
	"audio/pcm":   {},
	"audio/l16":   {},
}

// NormalizeMimeType strips codec parameters and lowercases the media type.
// ok is false for types the pipeline cannot transcribe.
func NormalizeMimeType(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultMimeType, true
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	_, ok := supportedMimeTypes[mediaType]
	return mediaType, ok
}
