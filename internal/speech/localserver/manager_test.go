package localserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hushtype/hushtype/internal/speech/engine"
)

// fakeDialect drives the supervisor with scriptable behavior. Readiness is
// marker-based so no real protocol server is needed.
type fakeDialect struct {
	argsCalls  atomic.Int32
	healthyErr atomic.Value // error
	modelErr   error
}

func (d *fakeDialect) Family() string { return "fake" }

func (d *fakeDialect) Args(modelPath string, port int) []string {
	d.argsCalls.Add(1)
	return []string{modelPath, fmt.Sprint(port)}
}

func (d *fakeDialect) ReadyMarker() string { return "Listening on:" }

func (d *fakeDialect) Healthy(ctx context.Context, port int) error {
	if v := d.healthyErr.Load(); v != nil {
		if err, ok := v.(error); ok && err != errNone {
			return err
		}
	}
	return nil
}

func (d *fakeDialect) Transcribe(ctx context.Context, port int, pcm []byte) (engine.BatchResult, error) {
	return engine.BatchResult{Text: "ok"}, nil
}

func (d *fakeDialect) ValidateModel(modelPath string) error { return d.modelErr }

// errNone lets tests clear healthyErr (atomic.Value rejects nil stores).
var errNone = errors.New("none")

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func readyScript(t *testing.T) string {
	return writeScript(t, "ready.sh", `echo "Listening on: 127.0.0.1" >&2
exec sleep 60
`)
}

func testManager(t *testing.T, cfg Config, d Dialect) *Manager {
	t.Helper()
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 5 * time.Second
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 500 * time.Millisecond
	}
	m := New(cfg, d, engine.Deps{Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use /bin/sh")
	}
}

func TestStartBecomesReady(t *testing.T) {
	skipWithoutShell(t)
	m := testManager(t, Config{Binary: readyScript(t)}, &fakeDialect{})

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := m.State(); got != engine.ServerReady {
		t.Errorf("state = %q, want %q", got, engine.ServerReady)
	}
	// A second start for the same model is a no-op.
	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("idempotent start: %v", err)
	}
}

func TestConcurrentStartsCoalesce(t *testing.T) {
	skipWithoutShell(t)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: readyScript(t)}, d)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Start(context.Background(), "model.bin")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("start %d: %v", i, err)
		}
	}
	if got := d.argsCalls.Load(); got != 1 {
		t.Errorf("processes spawned = %d, want 1", got)
	}
}

func TestStartFailureCarriesDiagnostics(t *testing.T) {
	skipWithoutShell(t)
	crash := writeScript(t, "crash.sh", `echo "cuda init failed" >&2
exit 3
`)
	m := testManager(t, Config{Binary: crash}, &fakeDialect{})

	err := m.Start(context.Background(), "model.bin")
	var serr *StartError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want StartError", err)
	}
	if serr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", serr.ExitCode)
	}
	if !strings.Contains(serr.Stderr, "cuda init failed") {
		t.Errorf("stderr diagnostics missing, got %q", serr.Stderr)
	}
	if got := m.State(); got != engine.ServerStopped {
		t.Errorf("state = %q, want %q", got, engine.ServerStopped)
	}
}

func TestGPUBinaryFallsBackToStandard(t *testing.T) {
	skipWithoutShell(t)
	crash := writeScript(t, "gpu.sh", `echo "no CUDA device" >&2
exit 1
`)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: readyScript(t), GPUBinary: crash}, d)

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start with gpu fallback: %v", err)
	}
	if got := m.State(); got != engine.ServerReady {
		t.Errorf("state = %q, want %q", got, engine.ServerReady)
	}
	if got := d.argsCalls.Load(); got != 2 {
		t.Errorf("processes spawned = %d, want 2 (gpu attempt + fallback)", got)
	}
}

func TestStartWhileDegradedKeepsSingleProcess(t *testing.T) {
	skipWithoutShell(t)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: readyScript(t), HealthInterval: 30 * time.Millisecond}, d)

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.mu.Lock()
	pid := m.proc.cmd.Process.Pid
	m.mu.Unlock()

	d.healthyErr.Store(errors.New("connection refused"))
	waitForState(t, m, engine.ServerDegraded)

	// Re-issuing Start for the same model must not spawn a second process:
	// recovery is the health loop's job.
	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start while degraded: %v", err)
	}
	if got := d.argsCalls.Load(); got != 1 {
		t.Errorf("processes spawned = %d, want 1", got)
	}
	m.mu.Lock()
	samePid := m.proc != nil && m.proc.cmd.Process.Pid == pid
	m.mu.Unlock()
	if !samePid {
		t.Error("original process was replaced")
	}

	d.healthyErr.Store(errNone)
	waitForState(t, m, engine.ServerReady)
}

func TestConcurrentStartsDifferentModelsSerialize(t *testing.T) {
	skipWithoutShell(t)
	slowReady := writeScript(t, "slowready.sh", `sleep 0.3
echo "Listening on: 127.0.0.1" >&2
exec sleep 60
`)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: slowReady}, d)

	errA := make(chan error, 1)
	go func() { errA <- m.Start(context.Background(), "model-a.bin") }()
	time.Sleep(50 * time.Millisecond)

	// Joins the in-flight attempt instead of racing a second spawn.
	if err := m.Start(context.Background(), "model-b.bin"); err != nil {
		t.Fatalf("start b: %v", err)
	}
	if err := <-errA; err != nil {
		t.Fatalf("start a: %v", err)
	}
	if got := d.argsCalls.Load(); got != 1 {
		t.Errorf("processes spawned = %d, want 1", got)
	}
	if got := m.State(); got != engine.ServerReady {
		t.Errorf("state = %q, want %q", got, engine.ServerReady)
	}
}

func TestGPUBinaryMissingFallsBackToStandard(t *testing.T) {
	skipWithoutShell(t)
	d := &fakeDialect{}
	missing := filepath.Join(t.TempDir(), "no-such-gpu-server")
	m := testManager(t, Config{Binary: readyScript(t), GPUBinary: missing}, d)

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start with missing gpu binary: %v", err)
	}
	if got := m.State(); got != engine.ServerReady {
		t.Errorf("state = %q, want %q", got, engine.ServerReady)
	}
	if got := d.argsCalls.Load(); got != 2 {
		t.Errorf("processes spawned = %d, want 2 (gpu attempt + fallback)", got)
	}
}

func TestStartRejectsInvalidModel(t *testing.T) {
	skipWithoutShell(t)
	d := &fakeDialect{modelErr: errors.New("weights file missing")}
	m := testManager(t, Config{Binary: readyScript(t)}, d)

	err := m.Start(context.Background(), "model.bin")
	var merr *ModelError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want ModelError", err)
	}
}

func TestTranscribeRejectedWhenNotReady(t *testing.T) {
	m := testManager(t, Config{Binary: "/nonexistent"}, &fakeDialect{})

	_, err := m.Transcribe(context.Background(), make([]byte, 320))
	var nre *NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("error = %v, want NotReadyError", err)
	}
	if nre.State != engine.ServerStopped {
		t.Errorf("state in error = %q, want %q", nre.State, engine.ServerStopped)
	}
}

func TestHealthFlipsDegradedAndBack(t *testing.T) {
	skipWithoutShell(t)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: readyScript(t), HealthInterval: 30 * time.Millisecond}, d)

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start: %v", err)
	}

	d.healthyErr.Store(errors.New("connection refused"))
	waitForState(t, m, engine.ServerDegraded)

	d.healthyErr.Store(errNone)
	waitForState(t, m, engine.ServerReady)
}

func TestStopEscalatesToKill(t *testing.T) {
	skipWithoutShell(t)
	stubborn := writeScript(t, "stubborn.sh", `trap '' TERM
echo "Listening on: 127.0.0.1" >&2
sleep 60
`)
	m := testManager(t, Config{Binary: stubborn, StopGrace: 100 * time.Millisecond}, &fakeDialect{})

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start: %v", err)
	}

	begin := time.Now()
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if took := time.Since(begin); took > 3*time.Second {
		t.Errorf("stop took %s, kill escalation too slow", took)
	}
	if got := m.State(); got != engine.ServerStopped {
		t.Errorf("state = %q, want %q", got, engine.ServerStopped)
	}
}

func TestUnexpectedExitMarksCrashed(t *testing.T) {
	skipWithoutShell(t)
	shortLived := writeScript(t, "shortlived.sh", `echo "Listening on: 127.0.0.1" >&2
sleep 0.2
exit 7
`)
	m := testManager(t, Config{Binary: shortLived}, &fakeDialect{})

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, m, engine.ServerCrashed)

	_, err := m.Transcribe(context.Background(), make([]byte, 320))
	var nre *NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("error = %v, want NotReadyError", err)
	}
	if nre.State != engine.ServerCrashed {
		t.Errorf("state in error = %q, want %q", nre.State, engine.ServerCrashed)
	}
}

func TestStartRecoversFromCrash(t *testing.T) {
	skipWithoutShell(t)
	shortLived := writeScript(t, "shortlived.sh", `echo "Listening on: 127.0.0.1" >&2
sleep 0.2
exit 7
`)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: shortLived}, d)

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, m, engine.ServerCrashed)

	if err := m.Start(context.Background(), "model.bin"); err != nil {
		t.Fatalf("restart after crash: %v", err)
	}
	if got := m.State(); got != engine.ServerReady {
		t.Errorf("state = %q, want %q", got, engine.ServerReady)
	}
}

func TestModelChangeRestartsServer(t *testing.T) {
	skipWithoutShell(t)
	d := &fakeDialect{}
	m := testManager(t, Config{Binary: readyScript(t)}, d)

	if err := m.Start(context.Background(), "model-a.bin"); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := m.Start(context.Background(), "model-b.bin"); err != nil {
		t.Fatalf("start b: %v", err)
	}
	if got := d.argsCalls.Load(); got != 2 {
		t.Errorf("processes spawned = %d, want 2", got)
	}
	if got := m.State(); got != engine.ServerReady {
		t.Errorf("state = %q, want %q", got, engine.ServerReady)
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]string{
		"binary":              "/opt/server",
		"gpu_binary":          "/opt/server-cuda",
		"warm_up":             "false",
		"port_min":            "19000",
		"port_max":            "19010",
		"startup_timeout_sec": "45",
		"stop_grace_sec":      "3",
	})
	if cfg.Binary != "/opt/server" || cfg.GPUBinary != "/opt/server-cuda" {
		t.Errorf("binaries = %q/%q", cfg.Binary, cfg.GPUBinary)
	}
	if cfg.WarmUp {
		t.Error("WarmUp = true, want false")
	}
	if cfg.PortMin != 19000 || cfg.PortMax != 19010 {
		t.Errorf("port range = %d-%d, want 19000-19010", cfg.PortMin, cfg.PortMax)
	}
	if cfg.StartupTimeout != 45*time.Second {
		t.Errorf("StartupTimeout = %v, want 45s", cfg.StartupTimeout)
	}
	if cfg.StopGrace != 3*time.Second {
		t.Errorf("StopGrace = %v, want 3s", cfg.StopGrace)
	}

	// Absent entries stay zero and pick up defaults.
	sparse := ConfigFromMap(map[string]string{"binary": "/opt/server"}).withDefaults()
	if sparse.StartupTimeout != 30*time.Second || sparse.StopGrace != 5*time.Second {
		t.Errorf("defaults = %v/%v, want 30s/5s", sparse.StartupTimeout, sparse.StopGrace)
	}
	if !sparse.WarmUp {
		t.Error("WarmUp = false, want true by default")
	}
}

func TestAllocatePort(t *testing.T) {
	port, err := allocatePort(28850, 28860)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port < 28850 || port > 28860 {
		t.Errorf("port %d outside range", port)
	}

	// Occupy the whole range and expect exhaustion.
	var listeners []net.Listener
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()
	for p := 28870; p <= 28872; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			t.Skipf("port %d unavailable on this host", p)
		}
		listeners = append(listeners, l)
	}
	if _, err := allocatePort(28870, 28872); !errors.Is(err, ErrPortsExhausted) {
		t.Errorf("error = %v, want ErrPortsExhausted", err)
	}
}

func waitForState(t *testing.T, m *Manager, want engine.ServerState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q within 3s", m.State(), want)
}
