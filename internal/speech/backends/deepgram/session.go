// Package deepgram maintains a long-lived streaming recognition session
// against the Deepgram live websocket API: warm pre-connection, cold-start
// buffering, zombie detection with a single transparent reconnect, and
// proactive credential refresh.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/hushtype/hushtype/internal/retry"
	"github.com/hushtype/hushtype/internal/speech/engine"
	"github.com/hushtype/hushtype/internal/speech/registry"
	"github.com/hushtype/hushtype/pkg/events"
)

func init() {
	registry.Streaming.Register("deepgram", func(deps engine.Deps, config map[string]string) (engine.StreamingASR, error) {
		if deps.Credentials == nil {
			return nil, fmt.Errorf("deepgram backend requires a credential source")
		}
		opts := Options{
			Endpoint: config["endpoint"],
			Model:    config["model"],
			Language: config["language"],
		}
		if v := config["sample_rate"]; v != "" {
			opts.SampleRate, _ = strconv.Atoi(v)
		}
		opts.Punctuate = config["punctuate"] != "false"
		opts.InterimResults = config["interim_results"] != "false"
		if v := config["keyterms"]; v != "" {
			for _, term := range strings.Split(v, ",") {
				if term = strings.TrimSpace(term); term != "" {
					opts.Keyterms = append(opts.Keyterms, term)
				}
			}
		}
		return NewSession(deps, opts), nil
	})
}

// State is the connection lifecycle state of a session.
type State string

const (
	StateCold     State = "cold"
	StateWarming  State = "warming"
	StateWarmIdle State = "warm-idle"
	StateActive   State = "active"
	StateClosing  State = "closing"
	StateClosed   State = "closed"
)

// ErrClosed rejects operations on a session that has been disconnected.
var ErrClosed = errors.New("session closed")

// maxRewarmAttempts caps background re-warm retries; past it the session
// stays cold and the next Connect pays the full dial cost.
const maxRewarmAttempts = 8

// Options configure a session. Zero values fall back to defaults.
type Options struct {
	Endpoint       string
	Model          string
	Language       string // empty enables server-side language detection
	SampleRate     int
	Punctuate      bool
	InterimResults bool
	Keyterms       []string

	KeepaliveInterval time.Duration
	LivenessWindow    time.Duration
	CloseTimeout      time.Duration
	// BufferBytes bounds both the cold-start and replay buffers.
	BufferBytes int
}

func (o Options) withDefaults() Options {
	if o.Endpoint == "" {
		o.Endpoint = "wss://api.deepgram.com/v1/listen"
	}
	if o.Model == "" {
		o.Model = "nova-2"
	}
	if o.SampleRate == 0 {
		o.SampleRate = 16000
	}
	if o.KeepaliveInterval == 0 {
		o.KeepaliveInterval = 5 * time.Second
	}
	if o.LivenessWindow == 0 {
		o.LivenessWindow = 2 * time.Second
	}
	if o.CloseTimeout == 0 {
		o.CloseTimeout = 3 * time.Second
	}
	if o.BufferBytes == 0 {
		// ~5s of 16kHz mono PCM16.
		o.BufferBytes = 160 * 1024
	}
	return o
}

// Session is a streaming recognition session. Implements engine.StreamingASR.
type Session struct {
	opts   Options
	log    *slog.Logger
	events *events.Publisher
	creds  *credentialStore
	id     string

	bgCtx    context.Context
	bgCancel context.CancelFunc

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	generation uint64
	remoteID   string
	finals     []string

	coldBuf       *frameBuffer
	replayBuf     *frameBuffer
	awaitingFirst bool
	reconnected   bool

	rewarmAttempts uint
	rewarmRunning  bool

	serverClosed  chan struct{}
	keepaliveStop chan struct{}
	livenessTimer *time.Timer
	refreshTimer  *time.Timer
}

// NewSession creates a cold session. Nothing is dialed until Warmup or
// Connect.
func NewSession(deps engine.Deps, opts Options) *Session {
	opts = opts.withDefaults()
	id := xid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:      opts,
		log:       deps.Log.With(slog.String("backend", "deepgram"), slog.String("session", id)),
		events:    deps.Events,
		creds:     newCredentialStore(deps.Credentials),
		id:        id,
		bgCtx:     ctx,
		bgCancel:  cancel,
		state:     StateCold,
		coldBuf:   newFrameBuffer(opts.BufferBytes),
		replayBuf: newFrameBuffer(opts.BufferBytes),
	}
}

// ID returns the local session id.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Warmup pre-establishes a websocket so a later Connect adopts it
// instantly. The socket being open is the readiness bar; the server's
// Metadata frame only enriches logging when it arrives. Idempotent.
func (s *Session) Warmup(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosing, StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateWarming, StateWarmIdle, StateActive:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.warmOnce(ctx); err != nil {
		s.mu.Lock()
		s.scheduleRewarmLocked()
		s.mu.Unlock()
		return err
	}
	return nil
}

// warmOnce performs a single warm dial from the cold state.
func (s *Session) warmOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCold {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateWarming, "warmup")
	seq := s.generation
	s.mu.Unlock()

	conn, err := s.dial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != seq || s.state != StateWarming {
		// Superseded by a cold-start connect or a disconnect.
		if conn != nil {
			go conn.Close()
		}
		return nil
	}
	if err != nil {
		s.setStateLocked(StateCold, "warmup failed")
		return err
	}
	s.adoptLocked(conn, StateWarmIdle)
	s.rewarmAttempts = 0
	return nil
}

// Connect binds the session to a dictation. A warm socket is adopted
// without dialing; otherwise this is a cold start and audio sent meanwhile
// is buffered and flushed once the socket opens.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosing, StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateActive:
		s.mu.Unlock()
		return nil
	case StateWarmIdle:
		s.stopKeepaliveLocked()
		s.setStateLocked(StateActive, "adopted warm connection")
		s.beginUtteranceWindowLocked()
		s.flushColdLocked()
		s.mu.Unlock()
		return nil
	}

	// Cold start. Bump the generation so an in-flight warm dial, if any,
	// discards its socket instead of racing this one.
	s.generation++
	seq := s.generation
	s.setStateLocked(StateWarming, "connect")
	s.mu.Unlock()

	conn, err := s.dial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != seq || s.state != StateWarming {
		if conn != nil {
			go conn.Close()
		}
		if s.state == StateClosed || s.state == StateClosing {
			return ErrClosed
		}
		return nil
	}
	if err != nil {
		s.setStateLocked(StateCold, "connect failed")
		return err
	}
	s.adoptLocked(conn, StateActive)
	s.beginUtteranceWindowLocked()
	s.flushColdLocked()
	return nil
}

// SendAudio submits one frame of PCM16 LE mono audio. While a connection is
// being established (or transparently re-established) frames are buffered
// and flushed in order. Frames arriving after Disconnect are dropped.
func (s *Session) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosing, StateClosed:
		// The dictation is over; late frames from the capture pipeline
		// are expected and not an error.
		return nil
	case StateActive:
		if s.conn == nil {
			// Transparent reconnect in flight.
			s.coldBuf.Append(pcm)
			return nil
		}
		if s.awaitingFirst {
			s.replayBuf.Append(pcm)
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
			s.log.Warn("audio write failed", slog.String("error", err.Error()))
			if !s.awaitingFirst {
				// Not captured by the replay buffer; hold for the flush.
				s.coldBuf.Append(pcm)
			}
			s.handleConnFailureLocked(fmt.Errorf("write: %w", err))
		}
		return nil
	default:
		// cold, warming, warm-idle: hold until the session goes active.
		s.coldBuf.Append(pcm)
		return nil
	}
}

// Finalize asks the server to flush buffered audio into a final result
// without ending the stream.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.conn == nil {
		return fmt.Errorf("finalize: session not active (state %s)", s.state)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, encodeControl(controlFinalize)); err != nil {
		return fmt.Errorf("send finalize: %w", err)
	}
	return nil
}

// Disconnect ends the session and returns the accumulated transcript:
// every final result in arrival order. A graceful disconnect tells the
// server to flush and waits briefly for it to close the stream.
func (s *Session) Disconnect(ctx context.Context, graceful bool) (string, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		t := strings.Join(s.finals, " ")
		s.mu.Unlock()
		return t, nil
	}

	s.bgCancel()
	s.stopKeepaliveLocked()
	s.stopLivenessLocked()
	s.stopRefreshLocked()

	conn := s.conn
	closedCh := s.serverClosed
	s.setStateLocked(StateClosing, "disconnect")
	if graceful && conn != nil {
		if err := conn.WriteMessage(websocket.TextMessage, encodeControl(controlCloseStream)); err != nil {
			s.log.Debug("close stream write failed", slog.String("error", err.Error()))
			graceful = false
		}
	}
	s.mu.Unlock()

	if graceful && conn != nil && closedCh != nil {
		select {
		case <-closedCh:
		case <-time.After(s.opts.CloseTimeout):
			s.log.Debug("server did not close stream in time")
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.generation++
	s.coldBuf.Clear()
	s.replayBuf.Clear()
	s.setStateLocked(StateClosed, "disconnected")
	transcript := strings.Join(s.finals, " ")
	s.mu.Unlock()

	return transcript, nil
}

// dial opens one websocket using the current credential. A definitive
// rejection invalidates the cached token.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := s.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	u, err := buildURL(s.opts.Endpoint, s.opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.creds.Invalidate()
			return nil, &ServerError{
				Description: fmt.Sprintf("handshake rejected with status %d", resp.StatusCode),
				Auth:        true,
			}
		}
		return nil, fmt.Errorf("dial %s: %w", s.opts.Endpoint, err)
	}
	return conn, nil
}

// adoptLocked installs a freshly dialed connection and starts its reader.
func (s *Session) adoptLocked(conn *websocket.Conn, next State) {
	s.generation++
	gen := s.generation
	s.conn = conn
	s.serverClosed = make(chan struct{})
	s.setStateLocked(next, "connection established")
	go s.readLoop(conn, gen, s.serverClosed)
	if next == StateWarmIdle {
		s.startKeepaliveLocked(gen)
	}
	s.scheduleRefreshLocked()
}

// beginUtteranceWindowLocked arms zombie detection for a just-activated
// connection: buffered replay plus a liveness deadline.
func (s *Session) beginUtteranceWindowLocked() {
	s.awaitingFirst = true
	s.reconnected = false
	s.replayBuf.Clear()
	s.startLivenessLocked(s.generation)
}

// flushColdLocked writes out audio buffered while no connection was active.
func (s *Session) flushColdLocked() {
	frames := s.coldBuf.Drain()
	if len(frames) == 0 || s.conn == nil {
		return
	}
	s.log.Debug("flushing buffered audio", slog.Int("frames", len(frames)))
	for _, frame := range frames {
		if s.awaitingFirst {
			s.replayBuf.Append(frame)
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			s.log.Warn("buffered audio flush failed", slog.String("error", err.Error()))
			s.handleConnFailureLocked(fmt.Errorf("flush: %w", err))
			return
		}
	}
}

// readLoop consumes inbound frames until the connection dies. gen ties the
// loop to the connection it serves; a stale generation means the session
// has already moved on.
func (s *Session) readLoop(conn *websocket.Conn, gen uint64, closedCh chan struct{}) {
	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			close(closedCh)
			s.handleConnClosed(gen, err)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		msg, perr := parseServerMessage(raw)
		if perr != nil {
			// Protocol noise is not fatal to the stream.
			s.log.Debug("dropping malformed server frame", slog.String("error", perr.Error()))
			continue
		}
		s.handleMessage(gen, msg)
	}
}

func (s *Session) handleMessage(gen uint64, msg *serverMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}

	switch msg.Type {
	case msgMetadata:
		s.remoteID = msg.RequestID
		s.log.Debug("stream metadata", slog.String("request_id", msg.RequestID))

	case msgResults:
		s.markAliveLocked()
		text, conf := msg.transcript()
		if text == "" {
			return
		}
		if msg.IsFinal {
			s.finals = append(s.finals, text)
			s.emit(events.SpeechFinal, &events.SpeechFinalData{
				Transcript: text, Confidence: conf, Forced: msg.FromFinalize,
			})
		} else {
			s.emit(events.SpeechPartial, &events.SpeechPartialData{Transcript: text})
		}

	case msgSpeechStarted, msgUtteranceEnd:
		s.log.Debug("endpoint signal", slog.String("type", msg.Type))

	case msgError:
		serr := msg.serverError()
		if serr.Auth {
			s.creds.Invalidate()
		}
		s.log.Error("server reported error", slog.String("error", serr.Error()))
		s.emit(events.SystemError, map[string]string{"error": serr.Error()})

	default:
		s.log.Debug("ignoring unknown server frame", slog.String("type", msg.Type))
	}
}

// markAliveLocked records proof that the server is actually transcribing:
// zombie detection disarms and the replay buffer is released.
func (s *Session) markAliveLocked() {
	if !s.awaitingFirst {
		return
	}
	s.awaitingFirst = false
	s.replayBuf.Clear()
	s.stopLivenessLocked()
}

// handleConnClosed reacts to a dead connection according to what the
// session was doing with it.
func (s *Session) handleConnClosed(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}

	switch s.state {
	case StateClosing, StateClosed:
		// Expected during shutdown.
	case StateActive:
		s.handleConnFailureLocked(err)
	case StateWarmIdle:
		s.log.Info("warm connection lost", slog.String("error", err.Error()))
		s.conn = nil
		s.setStateLocked(StateCold, "warm connection lost")
		s.scheduleRewarmLocked()
	}
}

// handleConnFailureLocked handles a failed active connection: one
// transparent reconnect while the connection never proved itself, a hard
// failure otherwise.
func (s *Session) handleConnFailureLocked(cause error) {
	if s.state != StateActive {
		return
	}
	if s.awaitingFirst && !s.reconnected {
		s.beginReconnectLocked(cause)
		return
	}
	s.log.Error("active connection lost", slog.String("error", cause.Error()))
	if s.conn != nil {
		go s.conn.Close()
		s.conn = nil
	}
	s.generation++
	s.stopLivenessLocked()
	s.setStateLocked(StateCold, "connection lost")
	s.emit(events.SystemError, map[string]string{"error": cause.Error()})
}

// beginReconnectLocked replaces a zombie connection: exactly once per
// activation, dial a fresh socket and replay every frame sent since the
// activation so no audio is lost.
func (s *Session) beginReconnectLocked(cause error) {
	s.reconnected = true
	s.stopLivenessLocked()
	old := s.conn
	s.conn = nil
	s.generation++
	seq := s.generation

	s.log.Warn("replacing unresponsive connection",
		slog.String("cause", cause.Error()), slog.Int("replay_frames", s.replayBuf.Len()))

	go func() {
		if old != nil {
			old.Close()
		}
		dialCtx, cancel := context.WithTimeout(s.bgCtx, 10*time.Second)
		conn, err := s.dial(dialCtx)
		cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != seq || s.state != StateActive {
			if conn != nil {
				go conn.Close()
			}
			return
		}
		if err != nil {
			s.log.Error("reconnect failed", slog.String("error", err.Error()))
			s.setStateLocked(StateCold, "reconnect failed")
			s.emit(events.SystemError, map[string]string{"error": err.Error()})
			return
		}

		s.adoptLocked(conn, StateActive)
		s.startLivenessLocked(s.generation)

		// Replay first, then anything buffered while reconnecting.
		for _, frame := range s.replayBuf.Snapshot() {
			if werr := conn.WriteMessage(websocket.BinaryMessage, frame); werr != nil {
				s.handleConnFailureLocked(fmt.Errorf("replay: %w", werr))
				return
			}
		}
		s.flushColdLocked()
	}()
}

// startLivenessLocked arms the zombie timer: an activated connection that
// produces no results within the window gets replaced.
func (s *Session) startLivenessLocked(gen uint64) {
	s.stopLivenessLocked()
	s.livenessTimer = time.AfterFunc(s.opts.LivenessWindow, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.generation || s.state != StateActive || !s.awaitingFirst {
			return
		}
		if s.reconnected {
			// The one transparent reconnect is spent; give up.
			s.log.Error("connection still silent after reconnect")
			if s.conn != nil {
				go s.conn.Close()
				s.conn = nil
			}
			s.generation++
			s.setStateLocked(StateCold, "unresponsive after reconnect")
			s.emit(events.SystemError, map[string]string{"error": "recognition stream unresponsive"})
			return
		}
		s.beginReconnectLocked(errors.New("no results within liveness window"))
	})
}

func (s *Session) stopLivenessLocked() {
	if s.livenessTimer != nil {
		s.livenessTimer.Stop()
		s.livenessTimer = nil
	}
}

// startKeepaliveLocked keeps an idle warm socket alive: short silence
// frames carry the audio-inactivity timer, a KeepAlive frame carries the
// control one.
func (s *Session) startKeepaliveLocked(gen uint64) {
	s.stopKeepaliveLocked()
	stop := make(chan struct{})
	s.keepaliveStop = stop

	silence := make([]byte, s.opts.SampleRate/5*2) // 200ms of PCM16 silence
	go func() {
		ticker := time.NewTicker(s.opts.KeepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if gen != s.generation || s.state != StateWarmIdle || s.conn == nil {
					s.mu.Unlock()
					return
				}
				err := s.conn.WriteMessage(websocket.BinaryMessage, silence)
				if err == nil {
					err = s.conn.WriteMessage(websocket.TextMessage, encodeControl(controlKeepAlive))
				}
				if err != nil {
					// The read loop will observe the dead socket.
					s.log.Debug("keepalive write failed", slog.String("error", err.Error()))
				}
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Session) stopKeepaliveLocked() {
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
}

// scheduleRewarmLocked retries warm dials in the background with the shared
// backoff combinator, preserving the attempt budget across triggers.
func (s *Session) scheduleRewarmLocked() {
	if s.rewarmRunning || s.state == StateClosed || s.state == StateClosing {
		return
	}
	if s.rewarmAttempts >= maxRewarmAttempts {
		s.log.Warn("giving up on pre-warming; next connect will dial cold")
		return
	}
	s.rewarmRunning = true
	budget := maxRewarmAttempts - s.rewarmAttempts

	policy := retry.Policy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  budget,
		Retryable: func(err error) bool {
			var serr *ServerError
			// Rejected credentials will not improve with retries alone.
			return !(errors.As(err, &serr) && serr.Auth)
		},
	}

	go func() {
		err := retry.Do(s.bgCtx, policy,
			func(attempt uint, err error) {
				s.mu.Lock()
				s.rewarmAttempts++
				s.mu.Unlock()
				s.log.Info("re-warm attempt failed",
					slog.Uint64("attempt", uint64(attempt)), slog.String("error", err.Error()))
			},
			func(ctx context.Context) error {
				s.mu.Lock()
				if s.state != StateCold {
					s.mu.Unlock()
					return nil
				}
				s.mu.Unlock()
				return s.warmOnce(ctx)
			})

		s.mu.Lock()
		s.rewarmRunning = false
		if err != nil {
			s.log.Warn("pre-warming abandoned", slog.String("error", err.Error()))
		}
		s.mu.Unlock()
	}()
}

// scheduleRefreshLocked arms the proactive credential refresh, one
// keepalive interval ahead of expiry.
func (s *Session) scheduleRefreshLocked() {
	s.stopRefreshLocked()
	d, ok := s.creds.RefreshIn(s.opts.KeepaliveInterval)
	if !ok {
		return
	}
	s.refreshTimer = time.AfterFunc(d, s.onRefreshDue)
}

func (s *Session) stopRefreshLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

// onRefreshDue refreshes the credential before it expires. A rotated token
// makes an idle warm socket stale, so it is discarded and re-warmed with
// the fresh token; an active dictation keeps its socket and simply has the
// new token ready for the next dial.
func (s *Session) onRefreshDue() {
	changed, err := s.creds.Refresh(s.bgCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateClosing {
		return
	}
	if err != nil {
		s.log.Warn("credential refresh failed", slog.String("error", err.Error()))
		s.refreshTimer = time.AfterFunc(30*time.Second, s.onRefreshDue)
		return
	}
	if changed && s.state == StateWarmIdle {
		s.log.Info("credential rotated, re-warming connection")
		s.stopKeepaliveLocked()
		if s.conn != nil {
			go s.conn.Close()
			s.conn = nil
		}
		s.generation++
		s.setStateLocked(StateCold, "credential rotated")
		// Preserves the re-warm attempt budget on purpose.
		s.scheduleRewarmLocked()
		return
	}
	if d, ok := s.creds.RefreshIn(s.opts.KeepaliveInterval); ok && d == 0 {
		// The source keeps handing back a token that is already past its
		// refresh point; re-arming at zero delay would spin.
		s.refreshTimer = time.AfterFunc(30*time.Second, s.onRefreshDue)
		return
	}
	s.scheduleRefreshLocked()
}

func (s *Session) setStateLocked(next State, reason string) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.log.Info("session state changed",
		slog.String("from", string(prev)), slog.String("to", string(next)), slog.String("reason", reason))
	s.emit(events.SessionState, &events.SessionStateData{
		FromState: string(prev), ToState: string(next), Reason: reason,
	})
}

func (s *Session) emit(t events.EventType, data interface{}) {
	if s.events != nil {
		_ = s.events.Emit(t, s.id, data)
	}
}

var _ engine.StreamingASR = (*Session)(nil)
