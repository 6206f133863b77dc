// Package localserver supervises a spawned inference server process:
// startup, readiness, health, crash fallback, and shutdown. The per-family
// wire protocol and command line live in a Dialect.
package localserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hushtype/hushtype/internal/speech/engine"
	"github.com/hushtype/hushtype/pkg/events"
)

// Dialect is the per-family half of a supervised server: how to launch it,
// how to tell it is alive, and how to push one utterance through it.
type Dialect interface {
	Family() string
	// Args builds the server command line for a model and port.
	Args(modelPath string, port int) []string
	// ReadyMarker is the stderr fragment signalling readiness, or ""
	// when readiness is probed with Healthy instead.
	ReadyMarker() string
	// Healthy probes a running server once.
	Healthy(ctx context.Context, port int) error
	// Transcribe runs one utterance of PCM16 LE mono audio.
	Transcribe(ctx context.Context, port int, pcm []byte) (engine.BatchResult, error)
	// ValidateModel checks the artifacts on disk before spawning.
	ValidateModel(modelPath string) error
}

// Config tunes the supervisor. Zero values fall back to defaults.
type Config struct {
	// Binary is the standard server executable.
	Binary string
	// GPUBinary, when set, is tried first; an abnormal exit inside the
	// early grace window falls back to Binary without failing the start.
	GPUBinary string

	PortMin int
	PortMax int

	StartupTimeout time.Duration
	StartupPoll    time.Duration
	HealthInterval time.Duration
	StopGrace      time.Duration
	// GPUGrace is the window in which a GPU binary exit triggers fallback.
	GPUGrace time.Duration

	// WarmUp runs one throwaway inference right after readiness so the
	// first real dictation does not pay the model load cost.
	WarmUp bool
}

func (c Config) withDefaults() Config {
	if c.PortMin == 0 {
		c.PortMin = 18850
	}
	if c.PortMax == 0 {
		c.PortMax = 18899
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.StartupPoll == 0 {
		c.StartupPoll = 250 * time.Millisecond
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 10 * time.Second
	}
	if c.StopGrace == 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.GPUGrace == 0 {
		c.GPUGrace = 2 * time.Second
	}
	return c
}

// ConfigFromMap builds a Config from the string map a backend factory
// receives. Missing or malformed entries keep their zero value and pick up
// defaults later.
func ConfigFromMap(config map[string]string) Config {
	cfg := Config{
		Binary:    config["binary"],
		GPUBinary: config["gpu_binary"],
		WarmUp:    config["warm_up"] != "false",
	}
	if v := config["port_min"]; v != "" {
		cfg.PortMin, _ = strconv.Atoi(v)
	}
	if v := config["port_max"]; v != "" {
		cfg.PortMax, _ = strconv.Atoi(v)
	}
	if n, err := strconv.Atoi(config["startup_timeout_sec"]); err == nil && n > 0 {
		cfg.StartupTimeout = time.Duration(n) * time.Second
	}
	if n, err := strconv.Atoi(config["stop_grace_sec"]); err == nil && n > 0 {
		cfg.StopGrace = time.Duration(n) * time.Second
	}
	return cfg
}

// process is one spawned server instance.
type process struct {
	cmd     *exec.Cmd
	started time.Time
	waitCh  chan struct{}
	waitErr error
	marker  chan struct{} // closed once the readiness marker is seen
}

// Manager supervises one inference server process. Implements
// engine.LocalServer.
type Manager struct {
	cfg     Config
	dialect Dialect
	log     *slog.Logger
	events  *events.Publisher

	startGroup singleflight.Group

	mu          sync.Mutex
	state       engine.ServerState
	proc        *process
	port        int
	modelPath   string
	stderrTail  *tailBuffer
	stopMonitor context.CancelFunc
}

// New creates a stopped manager for one backend family.
func New(cfg Config, d Dialect, deps engine.Deps) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		dialect:    d,
		log:        deps.Log.With(slog.String("backend", d.Family())),
		events:     deps.Events,
		state:      engine.ServerStopped,
		stderrTail: newTailBuffer(40),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() engine.ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start brings the server up with the given model. All starts coalesce onto
// a single in-flight attempt; a concurrent caller observes that attempt's
// outcome. A different model stops the running server first.
func (m *Manager) Start(ctx context.Context, modelPath string) error {
	_, err, _ := m.startGroup.Do("start", func() (interface{}, error) {
		return nil, m.start(ctx, modelPath)
	})
	return err
}

func (m *Manager) start(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	running := m.proc != nil && m.state.IsRunning()
	sameModel := m.modelPath == modelPath
	m.mu.Unlock()

	if running {
		if sameModel {
			// The process is alive; a degraded server recovers (or hard-fails)
			// through the health loop, never by spawning a second process.
			return nil
		}
		if err := m.Stop(ctx); err != nil {
			return fmt.Errorf("stop for model change: %w", err)
		}
	}

	if err := m.dialect.ValidateModel(modelPath); err != nil {
		return &ModelError{Path: modelPath, Err: err}
	}

	port, err := allocatePort(m.cfg.PortMin, m.cfg.PortMax)
	if err != nil {
		return err
	}

	m.setState(engine.ServerStarting, modelPath)
	m.mu.Lock()
	m.port = port
	m.modelPath = modelPath
	m.mu.Unlock()

	binary := m.cfg.Binary
	if m.cfg.GPUBinary != "" {
		err := m.spawnAndAwait(ctx, m.cfg.GPUBinary, modelPath, port)
		if err == nil {
			m.becomeReady(ctx, modelPath)
			return nil
		}
		var serr *StartError
		fallback := errors.As(err, &serr) &&
			(serr.SpawnFailed || (serr.Uptime > 0 && serr.Uptime <= m.cfg.GPUGrace))
		if !fallback {
			m.setState(engine.ServerStopped, modelPath)
			return err
		}
		// GPU binary missing or died inside the grace window; retry on the
		// standard one. A hang past the startup timeout still aborts.
		m.log.WarnContext(ctx, "gpu server unavailable, falling back to standard binary",
			slog.String("gpu_binary", m.cfg.GPUBinary), slog.Int("exit_code", serr.ExitCode))
		m.emit(events.ServerFallback, &events.ServerFallbackData{
			Backend: m.dialect.Family(), GPUBin: m.cfg.GPUBinary,
			Fallback: binary, ExitErr: serr.Err.Error(),
		})
	}

	if err := m.spawnAndAwait(ctx, binary, modelPath, port); err != nil {
		m.setState(engine.ServerStopped, modelPath)
		return err
	}
	m.becomeReady(ctx, modelPath)
	return nil
}

// spawnAndAwait launches one binary and blocks until it is ready, it exits,
// or the startup timeout passes. On failure the process is reaped.
func (m *Manager) spawnAndAwait(ctx context.Context, binary, modelPath string, port int) error {
	m.stderrTail.Reset()

	cmd := exec.Command(binary, m.dialect.Args(modelPath, port)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StartError{Op: "pipe stderr", ExitCode: -1, SpawnFailed: true, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &StartError{Op: "spawn " + binary, ExitCode: -1, SpawnFailed: true, Err: err}
	}

	p := &process{
		cmd:     cmd,
		started: time.Now(),
		waitCh:  make(chan struct{}),
		marker:  make(chan struct{}),
	}

	marker := m.dialect.ReadyMarker()
	go func() {
		seen := false
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := sc.Text()
			m.stderrTail.Append(line)
			if marker != "" && !seen && strings.Contains(line, marker) {
				seen = true
				close(p.marker)
			}
		}
	}()
	go func() {
		p.waitErr = cmd.Wait()
		close(p.waitCh)
	}()

	m.mu.Lock()
	m.proc = p
	m.mu.Unlock()

	m.log.InfoContext(ctx, "inference server spawned",
		slog.String("binary", binary), slog.Int("pid", cmd.Process.Pid), slog.Int("port", port))

	deadline := time.NewTimer(m.cfg.StartupTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(m.cfg.StartupPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			m.reap(p)
			return ctx.Err()
		case <-p.waitCh:
			waitErr := p.waitErr
			if waitErr == nil {
				waitErr = errors.New("clean exit before becoming ready")
			}
			return &StartError{
				Op:       "start " + binary,
				ExitCode: exitCode(p.waitErr),
				Stderr:   m.stderrTail.String(),
				Uptime:   time.Since(p.started),
				Err:      fmt.Errorf("server exited during startup: %w", waitErr),
			}
		case <-p.marker:
			return nil
		case <-deadline.C:
			m.reap(p)
			return &StartError{
				Op:       "start " + binary,
				ExitCode: -1,
				Stderr:   m.stderrTail.String(),
				Err:      fmt.Errorf("not ready after %s", m.cfg.StartupTimeout),
			}
		case <-poll.C:
			if marker != "" {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupPoll)
			err := m.dialect.Healthy(probeCtx, port)
			cancel()
			if err == nil {
				return nil
			}
		}
	}
}

func (m *Manager) becomeReady(ctx context.Context, modelPath string) {
	m.setState(engine.ServerReady, modelPath)

	if m.cfg.WarmUp {
		// 100ms of silence; result and error are both thrown away.
		warm := make([]byte, 3200)
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := m.dialect.Transcribe(warmCtx, m.portNow(), warm); err != nil {
			m.log.DebugContext(ctx, "warm-up inference failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	monCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.stopMonitor != nil {
		// Left over from a monitor that returned on its own after a crash.
		m.stopMonitor()
	}
	m.stopMonitor = cancel
	proc := m.proc
	m.mu.Unlock()
	go m.monitor(monCtx, proc, modelPath)
}

// monitor watches a ready server: periodic health checks flip ready and
// degraded; an unexpected process exit stops supervision entirely.
func (m *Manager) monitor(ctx context.Context, p *process, modelPath string) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.waitCh:
			m.log.Error("inference server exited unexpectedly",
				slog.Int("exit_code", exitCode(p.waitErr)), slog.String("stderr", m.stderrTail.String()))
			m.setState(engine.ServerCrashed, modelPath)
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupPoll*4)
			err := m.dialect.Healthy(probeCtx, m.portNow())
			cancel()

			switch state := m.State(); {
			case err != nil && state == engine.ServerReady:
				m.log.Warn("health check failed, marking degraded", slog.String("error", err.Error()))
				m.setState(engine.ServerDegraded, modelPath)
			case err == nil && state == engine.ServerDegraded:
				m.log.Info("health check recovered")
				m.setState(engine.ServerReady, modelPath)
			}
		}
	}
}

// Transcribe runs one utterance. Rejected immediately unless ready.
func (m *Manager) Transcribe(ctx context.Context, pcm []byte) (engine.BatchResult, error) {
	m.mu.Lock()
	state := m.state
	port := m.port
	m.mu.Unlock()

	if state != engine.ServerReady {
		return engine.BatchResult{}, &NotReadyError{State: state}
	}

	begin := time.Now()
	res, err := m.dialect.Transcribe(ctx, port, pcm)
	if err != nil {
		return engine.BatchResult{}, fmt.Errorf("%s inference: %w", m.dialect.Family(), err)
	}
	res.Inference = time.Since(begin)
	return res, nil
}

// Stop shuts the server down: graceful signal, bounded wait, then kill.
// Always leaves the manager stopped.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	p := m.proc
	cancel := m.stopMonitor
	m.proc = nil
	m.stopMonitor = nil
	alreadyStopped := m.state == engine.ServerStopped
	model := m.modelPath
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if alreadyStopped || p == nil {
		m.setState(engine.ServerStopped, model)
		return nil
	}

	m.log.InfoContext(ctx, "stopping inference server", slog.Int("pid", p.cmd.Process.Pid))
	m.reap(p)
	m.setState(engine.ServerStopped, model)
	return nil
}

// reap terminates a process, escalating from SIGTERM to SIGKILL.
func (m *Manager) reap(p *process) {
	select {
	case <-p.waitCh:
		return
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.waitCh:
	case <-time.After(m.cfg.StopGrace):
		m.log.Warn("inference server ignored SIGTERM, killing", slog.Int("pid", p.cmd.Process.Pid))
		_ = p.cmd.Process.Kill()
		<-p.waitCh
	}
}

func (m *Manager) portNow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

func (m *Manager) setState(next engine.ServerState, modelPath string) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev == next {
		return
	}
	m.log.Info("inference server state changed",
		slog.String("from", string(prev)), slog.String("to", string(next)))
	m.emit(events.ServerState, &events.ServerStateData{
		FromState: string(prev), ToState: string(next),
		Backend: m.dialect.Family(), ModelPath: modelPath,
	})
}

func (m *Manager) emit(t events.EventType, data interface{}) {
	if m.events != nil {
		_ = m.events.Emit(t, "", data)
	}
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}
