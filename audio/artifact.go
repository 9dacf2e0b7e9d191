package audio

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"time"
)

const (
	MIMEWebM = "audio/webm"
	MIMEWAV  = "audio/wav"
)

// Artifact is a finished capture: the encoded audio and its container type.
// It is immutable once built.
type Artifact struct {
	data     []byte
	mimeType string
	duration time.Duration
}

// NewArtifact takes ownership of data. Callers must not modify it afterwards.
func NewArtifact(data []byte, mimeType string, duration time.Duration) *Artifact {
	if mimeType == "" {
		mimeType = MIMEWebM
	}
	return &Artifact{data: data, mimeType: mimeType, duration: duration}
}

// Bytes returns a copy of the encoded audio.
func (a *Artifact) Bytes() []byte {
	return bytes.Clone(a.data)
}

func (a *Artifact) Reader() io.Reader {
	return bytes.NewReader(a.data)
}

func (a *Artifact) Size() int {
	return len(a.data)
}

func (a *Artifact) MIMEType() string {
	return a.mimeType
}

// Duration is the amount of captured audio, zero when unknown.
func (a *Artifact) Duration() time.Duration {
	return a.duration
}

// Extension maps a container MIME type to a file extension without the dot.
// Unknown types fall back to webm.
func Extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case MIMEWAV, "audio/x-wav", "audio/wave":
		return "wav"
	default:
		return "webm"
	}
}

// MIMEFromPath is the inverse of Extension for stored object paths.
func MIMEFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return MIMEWAV
	default:
		return MIMEWebM
	}
}
