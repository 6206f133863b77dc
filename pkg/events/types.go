package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionState      EventType = "session.state"
	SpeechPartial     EventType = "speech.partial"
	SpeechFinal       EventType = "speech.final"
	ServerState       EventType = "server.state"
	ServerFallback    EventType = "server.gpu_fallback"
	DownloadStarted   EventType = "model.download.started"
	DownloadProgress  EventType = "model.download.progress"
	DownloadCompleted EventType = "model.download.completed"
	InstallFailed     EventType = "model.install.failed"
	CatalogChanged    EventType = "model.catalog.changed"
	SystemError       EventType = "error"
)

// Envelope is the standard event wrapper delivered to subscribers.
type Envelope struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// SessionStateData is the payload for session.state events.
type SessionStateData struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Reason    string `json:"reason,omitempty"`
}

// SpeechPartialData is the payload for speech.partial events.
type SpeechPartialData struct {
	Transcript string `json:"transcript"`
}

// SpeechFinalData is the payload for speech.final events.
type SpeechFinalData struct {
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
	Forced     bool    `json:"forced,omitempty"`
}

// ServerStateData is the payload for server.state events.
type ServerStateData struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Backend   string `json:"backend"`
	ModelPath string `json:"model_path,omitempty"`
}

// ServerFallbackData is the payload for server.gpu_fallback events.
type ServerFallbackData struct {
	Backend  string `json:"backend"`
	GPUBin   string `json:"gpu_binary"`
	Fallback string `json:"fallback_binary"`
	ExitErr  string `json:"exit_error"`
}

// DownloadProgressData is the payload for model.download.* events.
type DownloadProgressData struct {
	ModelID         string `json:"model_id"`
	File            string `json:"file"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	TotalBytes      int64  `json:"total_bytes"` // zero when unknown
}

// InstallFailedData is the payload for model.install.failed events.
type InstallFailedData struct {
	ModelID string `json:"model_id"`
	Error   string `json:"error"`
}

// CatalogChangedData is the payload for model.catalog.changed events.
type CatalogChangedData struct {
	Family string `json:"family"`
	Path   string `json:"path"`
}
