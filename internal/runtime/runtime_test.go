package runtime

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hushtype/hushtype/config"
	"github.com/hushtype/hushtype/internal/provision"

	_ "github.com/hushtype/hushtype/internal/speech/backends/deepgram"
	_ "github.com/hushtype/hushtype/internal/speech/backends/parakeet"
	_ "github.com/hushtype/hushtype/internal/speech/backends/whisper"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig(t *testing.T) *config.Config {
	return &config.Config{
		CacheDir:      t.TempDir(),
		WhisperBinary: "whisper-server",
		PortMin:       18850,
		PortMax:       18899,
	}
}

func TestNewSelectsLocalBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "whisper"

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if app.Local() == nil {
		t.Error("Local() = nil for whisper backend")
	}
	if app.Streaming() != nil {
		t.Error("Streaming() != nil for whisper backend")
	}
}

func TestNewSelectsStreamingBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "deepgram"
	cfg.DeepgramAPIKey = "dg-key"

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if app.Streaming() == nil {
		t.Error("Streaming() = nil for deepgram backend")
	}
	if app.Local() != nil {
		t.Error("Local() != nil for deepgram backend")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "dictaphone"

	if _, err := New(cfg, testLogger()); err == nil {
		t.Error("New() accepted unknown backend")
	}
}

func TestResolveModelPrefersConfiguredID(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "whisper"
	cfg.ModelID = "whisper-small-en"

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m, err := app.resolveModel()
	if err != nil {
		t.Fatalf("resolveModel() error = %v", err)
	}
	if m.ID != "whisper-small-en" {
		t.Errorf("model = %q, want %q", m.ID, "whisper-small-en")
	}

	cfg.ModelID = "no-such-model"
	if _, err := app.resolveModel(); err == nil {
		t.Error("resolveModel() accepted unknown model id")
	}
}

func TestResolveModelFallsBackToDefault(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "whisper"

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m, err := app.resolveModel()
	if err != nil {
		t.Fatalf("resolveModel() error = %v", err)
	}
	if !m.Default {
		t.Errorf("resolveModel() = %q, which is not the family default", m.ID)
	}
}

func TestModelPathSingleAndMultiFile(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "whisper"
	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	single := &provision.Model{
		ID: "m1", Family: "whisper",
		Files: []provision.ModelFile{{Name: "weights.bin"}},
	}
	want := filepath.Join(cfg.CacheDir, "models", "whisper", "m1", "weights.bin")
	if got := app.modelPath(single); got != want {
		t.Errorf("modelPath(single) = %q, want %q", got, want)
	}

	multi := &provision.Model{
		ID: "m2", Family: "parakeet",
		Files: []provision.ModelFile{{Name: "encoder.onnx"}, {Name: "decoder.onnx"}},
	}
	want = filepath.Join(cfg.CacheDir, "models", "parakeet", "m2")
	if got := app.modelPath(multi); got != want {
		t.Errorf("modelPath(multi) = %q, want %q", got, want)
	}
}

func TestStaticCredential(t *testing.T) {
	if _, err := (staticCredential{}).Fetch(context.Background()); err == nil {
		t.Error("Fetch() with empty token succeeded")
	}
	cred, err := (staticCredential{token: "key-1"}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if cred.Token != "key-1" {
		t.Errorf("Token = %q, want %q", cred.Token, "key-1")
	}
	if cred.TTL != 0 {
		t.Errorf("TTL = %v, want 0 (no rotation)", cred.TTL)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Backend = "whisper"
	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
