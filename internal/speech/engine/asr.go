// Package engine defines the shared types and contracts implemented by the
// speech recognition backends.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/hushtype/hushtype/pkg/events"
)

// TranscriptResult is one piece of streaming recognition output.
type TranscriptResult struct {
	Text       string
	Confidence float32
	IsFinal    bool
	// Forced marks finals produced by an explicit flush rather than
	// natural endpointing.
	Forced bool
}

// BatchResult is the output of a single local inference call.
type BatchResult struct {
	Text      string
	Inference time.Duration
}

// ServerState is the lifecycle state of a supervised local inference server.
type ServerState string

const (
	ServerStopped  ServerState = "stopped"
	ServerStarting ServerState = "starting"
	ServerReady    ServerState = "ready"
	ServerDegraded ServerState = "degraded"
	// ServerCrashed marks an unexpected process exit. Restartable via Start.
	ServerCrashed ServerState = "crashed"
)

// IsRunning reports whether a server process is expected to be alive.
func (s ServerState) IsRunning() bool {
	return s == ServerStarting || s == ServerReady || s == ServerDegraded
}

// Credential is an opaque bearer token for a remote recognition service.
type Credential struct {
	Token string
	TTL   time.Duration
}

// CredentialSource supplies fresh credentials on demand. Implementations
// live outside this module (keychain, auth broker); backends only call Fetch.
type CredentialSource interface {
	Fetch(ctx context.Context) (Credential, error)
}

// Deps carries the shared services handed to backend factories.
type Deps struct {
	Log         *slog.Logger
	Events      *events.Publisher
	Credentials CredentialSource
}

// StreamingASR is a long-lived recognition session against a remote
// streaming endpoint. All methods are safe for concurrent use.
type StreamingASR interface {
	// Warmup pre-establishes a connection so a later Connect is instant.
	Warmup(ctx context.Context) error
	// Connect binds the session to a dictation, adopting a warm
	// connection when one is available.
	Connect(ctx context.Context) error
	// SendAudio submits one frame of raw PCM16 LE mono audio. Frames sent
	// while no connection exists are buffered; frames sent after
	// Disconnect are dropped.
	SendAudio(pcm []byte) error
	// Finalize asks the remote end to flush any buffered audio into a
	// final result without closing the connection.
	Finalize(ctx context.Context) error
	// Disconnect ends the session and returns the accumulated final
	// transcript. When graceful, buffered audio is flushed first.
	Disconnect(ctx context.Context, graceful bool) (string, error)
}

// LocalServer supervises a local inference server process.
type LocalServer interface {
	// Start brings the server up with the given model. Idempotent;
	// concurrent calls coalesce onto one startup attempt.
	Start(ctx context.Context, modelPath string) error
	// Transcribe runs one utterance of raw PCM16 LE mono audio through
	// the server. Rejects immediately unless the server is ready.
	Transcribe(ctx context.Context, pcm []byte) (BatchResult, error)
	// Stop shuts the server down, escalating from graceful to kill.
	Stop(ctx context.Context) error
	State() ServerState
}
