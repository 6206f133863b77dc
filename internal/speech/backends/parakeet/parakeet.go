// Package parakeet runs transcription through a supervised parakeet
// streaming server: per-utterance binary frames over a localhost TCP socket.
package parakeet

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hushtype/hushtype/internal/speech/engine"
	"github.com/hushtype/hushtype/internal/speech/localserver"
	"github.com/hushtype/hushtype/internal/speech/registry"
)

func init() {
	registry.Local.Register("parakeet", func(deps engine.Deps, config map[string]string) (engine.LocalServer, error) {
		cfg := localserver.ConfigFromMap(config)
		if cfg.Binary == "" {
			return nil, fmt.Errorf("parakeet server binary required (set binary in config)")
		}
		return localserver.New(cfg, &Dialect{}, deps), nil
	})
}

// artifactPrefixes are the model files a parakeet server loads. Each prefix
// must match at least one file in the model directory.
var artifactPrefixes = []string{"tokens", "encoder", "decoder", "joiner"}

// Dialect adapts the parakeet socket protocol to the supervisor.
type Dialect struct{}

func (d *Dialect) Family() string { return "parakeet" }

func (d *Dialect) Args(modelPath string, port int) []string {
	return []string{
		"--model-dir", modelPath,
		"--port", strconv.Itoa(port),
	}
}

// ReadyMarker is the stderr line the server prints once its socket accepts.
func (d *Dialect) ReadyMarker() string { return "Listening on:" }

func (d *Dialect) Healthy(ctx context.Context, port int) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr(port))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (d *Dialect) Transcribe(ctx context.Context, port int, pcm []byte) (engine.BatchResult, error) {
	text, err := transcribeUtterance(ctx, port, pcm)
	if err != nil {
		return engine.BatchResult{}, err
	}
	return engine.BatchResult{Text: text}, nil
}

// ValidateModel requires the directory to contain the tokenizer, encoder,
// decoder, and joiner artifacts.
func (d *Dialect) ValidateModel(modelPath string) error {
	entries, err := os.ReadDir(modelPath)
	if err != nil {
		return fmt.Errorf("model dir: %w", err)
	}
	for _, prefix := range artifactPrefixes {
		found := false
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			fi, err := e.Info()
			if err == nil && fi.Size() > 0 {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("missing %s artifact in %s", prefix, filepath.Base(modelPath))
		}
	}
	return nil
}

var _ localserver.Dialect = (*Dialect)(nil)

func addr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// utteranceTimeout bounds one full request/response round trip.
const utteranceTimeout = 2 * time.Minute
