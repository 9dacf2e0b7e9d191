package scribe

import (
	"time"

	"github.com/bosley/voxnote/store"
)

// StatusEvent is pushed when a recording reaches a terminal status
type StatusEvent struct {
	RecordingID string       `json:"recordingId"`
	Status      store.Status `json:"status"`
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// RecordingDetail is a recording with its transcription, if any
type RecordingDetail struct {
	Recording     *store.Recording     `json:"recording"`
	Transcription *store.Transcription `json:"transcription"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type processResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}
