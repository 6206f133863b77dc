// Package whisper runs transcription through a supervised whisper.cpp
// server: batch HTTP inference over a localhost port.
package whisper

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/hushtype/hushtype/internal/speech/engine"
	"github.com/hushtype/hushtype/internal/speech/localserver"
	"github.com/hushtype/hushtype/internal/speech/registry"
)

func init() {
	registry.Local.Register("whisper", func(deps engine.Deps, config map[string]string) (engine.LocalServer, error) {
		cfg := localserver.ConfigFromMap(config)
		if cfg.Binary == "" {
			return nil, fmt.Errorf("whisper server binary required (set binary in config)")
		}
		d := &Dialect{
			language: config["language"],
			prompt:   config["prompt"],
			threads:  runtimeThreads(config["threads"]),
		}
		return localserver.New(cfg, d, deps), nil
	})
}

func runtimeThreads(v string) int {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return 4
}

// Dialect adapts the whisper.cpp server protocol to the supervisor.
type Dialect struct {
	language string
	prompt   string
	threads  int
}

func (d *Dialect) Family() string { return "whisper" }

func (d *Dialect) Args(modelPath string, port int) []string {
	return []string{
		"-m", modelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"-t", strconv.Itoa(d.threads),
	}
}

// ReadyMarker is empty: whisper.cpp readiness is probed over HTTP.
func (d *Dialect) ReadyMarker() string { return "" }

func (d *Dialect) Healthy(ctx context.Context, port int) error {
	return healthCheck(ctx, port)
}

func (d *Dialect) Transcribe(ctx context.Context, port int, pcm []byte) (engine.BatchResult, error) {
	text, err := inference(ctx, port, pcm, d.language, d.prompt)
	if err != nil {
		return engine.BatchResult{}, err
	}
	return engine.BatchResult{Text: text}, nil
}

// ValidateModel requires a single non-empty ggml weights file.
func (d *Dialect) ValidateModel(modelPath string) error {
	fi, err := os.Stat(modelPath)
	if err != nil {
		return fmt.Errorf("weights file: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("weights path is a directory")
	}
	if fi.Size() == 0 {
		return fmt.Errorf("weights file is empty")
	}
	return nil
}

var _ localserver.Dialect = (*Dialect)(nil)
