package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hushtype/hushtype/config"
	"github.com/hushtype/hushtype/internal/provision"
	"github.com/hushtype/hushtype/internal/speech/engine"
	"github.com/hushtype/hushtype/internal/speech/registry"
	"github.com/hushtype/hushtype/pkg/events"
)

// App wires the provisioner, model catalog, and the configured speech
// backend together for the daemon.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	pub     *events.Publisher
	prov    *provision.Provisioner
	catalog *provision.Catalog

	// Exactly one of these is set, depending on the configured backend.
	streaming engine.StreamingASR
	local     engine.LocalServer

	watchCancel context.CancelFunc
}

// New builds the application graph from configuration. It does not start
// anything; call Start.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	pub := events.NewPublisher("hushtyped")
	catalog, err := provision.LoadCatalog()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		pub:     pub,
		prov:    provision.New(cfg.CacheDir, log, pub),
		catalog: catalog,
	}

	deps := engine.Deps{Log: log, Events: pub}
	switch {
	case registry.Streaming.Has(cfg.Backend):
		deps.Credentials = staticCredential{token: cfg.DeepgramAPIKey}
		a.streaming, err = registry.Streaming.Create(cfg.Backend, deps, cfg.BackendConfig())
	case registry.Local.Has(cfg.Backend):
		a.local, err = registry.Local.Create(cfg.Backend, deps, cfg.BackendConfig())
	default:
		err = fmt.Errorf("unknown backend %q (have %s)", cfg.Backend,
			strings.Join(append(registry.Streaming.List(), registry.Local.List()...), ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", cfg.Backend, err)
	}
	return a, nil
}

// Events exposes the application event bus.
func (a *App) Events() *events.Publisher { return a.pub }

// Provisioner exposes the model downloader.
func (a *App) Provisioner() *provision.Provisioner { return a.prov }

// Catalog exposes the known models.
func (a *App) Catalog() *provision.Catalog { return a.catalog }

// Streaming returns the streaming backend, or nil when a local one is configured.
func (a *App) Streaming() engine.StreamingASR { return a.streaming }

// Local returns the local server backend, or nil when a streaming one is configured.
func (a *App) Local() engine.LocalServer { return a.local }

// Start sweeps stale download leftovers, begins watching the model cache,
// and brings the configured backend up: a streaming backend is pre-warmed,
// a local one gets its model provisioned and its server started.
func (a *App) Start(ctx context.Context) error {
	if n := a.prov.SweepStale(a.cfg.SweepMaxAge()); n > 0 {
		a.log.Info("removed stale download artifacts", slog.Int("count", n))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	go func() {
		if err := a.prov.WatchCache(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("model cache watcher stopped", slog.String("error", err.Error()))
		}
	}()

	if a.streaming != nil {
		if err := a.streaming.Warmup(ctx); err != nil {
			// A failed warmup is retried in the background; dictation can
			// still start cold.
			a.log.Warn("warmup failed", slog.String("error", err.Error()))
		}
		return nil
	}

	model, err := a.resolveModel()
	if err != nil {
		return err
	}
	if err := a.prov.EnsureModel(ctx, model, func(done, total int64) {
		a.log.Debug("model download progress",
			slog.String("model", model.ID),
			slog.Int64("bytes", done),
			slog.Int64("total", total))
	}); err != nil {
		return fmt.Errorf("provision model %s: %w", model.ID, err)
	}
	if err := a.local.Start(ctx, a.modelPath(model)); err != nil {
		return fmt.Errorf("start %s server: %w", a.cfg.Backend, err)
	}
	return nil
}

// Shutdown tears the backend down, then stops the cache watcher.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if a.streaming != nil {
		if _, err := a.streaming.Disconnect(ctx, false); err != nil {
			firstErr = err
		}
	}
	if a.local != nil {
		if err := a.local.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.watchCancel != nil {
		a.watchCancel()
	}
	return firstErr
}

func (a *App) resolveModel() (*provision.Model, error) {
	if a.cfg.ModelID != "" {
		m, ok := a.catalog.Model(a.cfg.Backend, a.cfg.ModelID)
		if !ok {
			return nil, fmt.Errorf("model %q not in catalog for family %q", a.cfg.ModelID, a.cfg.Backend)
		}
		return m, nil
	}
	m, ok := a.catalog.DefaultModel(a.cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("no default model for family %q", a.cfg.Backend)
	}
	return m, nil
}

// modelPath maps a provisioned model to the path the backend expects:
// whisper takes the single weights file, parakeet the artifact directory.
func (a *App) modelPath(m *provision.Model) string {
	dir := a.prov.ModelDir(m.Family, m.ID)
	if len(m.Files) == 1 {
		return filepath.Join(dir, m.Files[0].Name)
	}
	return dir
}

// staticCredential serves a fixed API key. The key never rotates, so no
// TTL is reported and no proactive refresh is scheduled.
type staticCredential struct {
	token string
}

func (s staticCredential) Fetch(ctx context.Context) (engine.Credential, error) {
	if s.token == "" {
		return engine.Credential{}, errors.New("no API key configured")
	}
	return engine.Credential{Token: s.token}, nil
}
