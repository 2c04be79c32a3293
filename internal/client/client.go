// Package client implements the websocket session protocol spoken by the
// realtime translation service: connection handshake, session lifecycle,
// audio submission, result decoding, and automatic session recovery.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rliu/simtrans/internal/fsm"
	"github.com/rliu/simtrans/internal/protocol"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultStartTimeout   = 10 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelayBase = time.Second
)

// Config carries the connection, session, and recovery parameters of one translator.
type Config struct {
	Endpoint   string
	AppKey     string
	AccessKey  string
	ResourceID string
	UID        string

	Mode           string // "s2s" or "s2t"
	SourceLanguage string
	TargetLanguage string
	SourceFormat   protocol.AudioFormat
	TargetFormat   *protocol.AudioFormat

	AutoRecover      bool
	MaxRetryAttempts int
	RetryDelayBase   time.Duration

	ConnectTimeout time.Duration
	StartTimeout   time.Duration
}

// Translator is one client of the translation service. The receive side is
// single-consumer: StartSession, ReceiveResult, and FinishSession must run on
// one goroutine, while SendAudio may run concurrently from a send loop.
type Translator struct {
	cfg    Config
	logger *slog.Logger
	codec  *protocol.Codec

	onResult         func(Result)
	onRecoveryFailed func(error)
	sleep            func(context.Context, time.Duration) error

	// recoveryCtx spans the translator's lifetime and is cancelled by Close.
	// Recovery runs under it so a caller's receive deadline cannot abort the
	// backoff protocol partway through.
	recoveryCtx    context.Context
	recoveryCancel context.CancelFunc

	writeMu sync.Mutex

	mu         sync.Mutex
	state      fsm.State
	conn       *websocket.Conn
	connDone   chan struct{}
	recvChan   chan *protocol.Message
	errChan    chan error
	connBroken bool
	connectID  string
	sessionID  string
	logID      string
}

// New constructs a translator in the disconnected state.
func New(cfg Config, logger *slog.Logger) *Translator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = defaultRetryDelayBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Translator{
		cfg:    cfg,
		logger: logger,
		codec:  protocol.NewCodec(),
		sleep:  sleepContext,
		state:  fsm.StateDisconnected,
	}
	t.recoveryCtx, t.recoveryCancel = context.WithCancel(context.Background())
	return t
}

// SetResultObserver registers a callback invoked for every non-usage result
// delivered by ReceiveResult. Observer panics are caught and logged.
func (t *Translator) SetResultObserver(fn func(Result)) {
	t.onResult = fn
}

// SetRecoveryFailedObserver registers a callback invoked when automatic
// recovery exhausts its attempts. Observer panics are caught and logged.
func (t *Translator) SetRecoveryFailedObserver(fn func(error)) {
	t.onRecoveryFailed = fn
}

// Connect dials the service endpoint with credential headers and a fresh
// connection id, then starts the frame receive loop.
func (t *Translator) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case fsm.StateClosed:
		t.mu.Unlock()
		return ErrClosed
	case fsm.StateConnected, fsm.StateActive:
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", t.cfg.AppKey)
	header.Set("X-Api-Access-Key", t.cfg.AccessKey)
	header.Set("X-Api-Resource-Id", t.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.cfg.Endpoint, header)

	logID := ""
	if resp != nil {
		logID = resp.Header.Get("X-Tt-Logid")
	}
	if err != nil {
		return &ConnectError{Err: err, LogID: logID}
	}

	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if terr := t.transition(fsm.EventConnect); terr != nil {
		t.mu.Unlock()
		conn.Close()
		return terr
	}
	oldConn, oldDone := t.conn, t.connDone
	t.conn = conn
	t.connBroken = false
	t.connectID = connectID
	t.logID = logID
	t.connDone = make(chan struct{})
	t.recvChan = make(chan *protocol.Message, 100)
	t.errChan = make(chan error, 1)
	recvChan, errChan, connDone := t.recvChan, t.errChan, t.connDone
	t.mu.Unlock()

	// Release any transport left over from a previous connection so its
	// receive loop terminates instead of leaking.
	if oldDone != nil {
		close(oldDone)
	}
	if oldConn != nil {
		oldConn.Close()
	}

	t.logger.Info("connected to translation service",
		slog.String("endpoint", t.cfg.Endpoint),
		slog.String("connect_id", connectID),
		slog.String("logid", logID))

	go t.recvLoop(conn, recvChan, errChan, connDone)
	return nil
}

// StartSession opens one translation session with a fresh session id and
// blocks until the service acknowledges it, rejects it, or the start times out.
func (t *Translator) StartSession(ctx context.Context) error {
	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != fsm.StateConnected && t.state != fsm.StateFinished {
		t.mu.Unlock()
		return fmt.Errorf("start session from state %q: %w", t.state, ErrNotConnected)
	}
	conn := t.conn
	sessionID := uuid.NewString()
	t.sessionID = sessionID
	recvChan, errChan := t.recvChan, t.errChan
	t.mu.Unlock()

	payload, err := json.Marshal(protocol.StartSessionPayload{
		User:        protocol.UserInfo{UID: t.cfg.UID},
		SourceAudio: t.cfg.SourceFormat,
		TargetAudio: t.cfg.TargetFormat,
		Request: protocol.RequestInfo{
			Mode:           t.cfg.Mode,
			SourceLanguage: t.cfg.SourceLanguage,
			TargetLanguage: t.cfg.TargetLanguage,
		},
	})
	if err != nil {
		return fmt.Errorf("encode start session payload: %w", err)
	}

	frame, err := t.codec.Marshal(&protocol.Message{
		Type:      protocol.MsgTypeFullClient,
		Flags:     protocol.FlagWithEvent,
		Event:     protocol.EventStartSession,
		SessionID: sessionID,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("encode start session frame: %w", err)
	}
	if err := t.writeFrame(conn, frame); err != nil {
		t.markBroken()
		return fmt.Errorf("send start session: %w", err)
	}

	timer := time.NewTimer(t.cfg.StartTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-recvChan:
			if !ok {
				t.failLocked()
				return fmt.Errorf("start session %s: %w", sessionID, ErrNotConnected)
			}
			if msg.IsError() || msg.Event == protocol.EventSessionFailed {
				t.failLocked()
				return &SessionRejectedError{Message: failureMessage(msg), LogID: t.LogID()}
			}
			if msg.Event == protocol.EventSessionStarted {
				t.mu.Lock()
				if terr := t.transition(fsm.EventStart); terr != nil {
					t.mu.Unlock()
					return terr
				}
				t.mu.Unlock()
				t.logger.Info("session started",
					slog.String("session_id", sessionID),
					slog.String("mode", t.cfg.Mode))
				return nil
			}
			// Stale frames from a previous session may still be in flight.
			t.logger.Debug("ignoring frame while waiting for session start",
				slog.String("event", msg.Event.String()))
		case err := <-errChan:
			t.markBroken()
			t.failLocked()
			return fmt.Errorf("start session %s: %w", sessionID, err)
		case <-timer.C:
			t.failLocked()
			return fmt.Errorf("start session %s: no acknowledgement within %s", sessionID, t.cfg.StartTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendAudio submits one captured audio frame to the active session. It does
// not wait for any response.
func (t *Translator) SendAudio(frame []byte) error {
	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != fsm.StateActive {
		t.mu.Unlock()
		return ErrSessionNotActive
	}
	conn := t.conn
	sessionID := t.sessionID
	t.mu.Unlock()

	wire, err := t.codec.Marshal(&protocol.Message{
		Type:      protocol.MsgTypeAudioOnlyClient,
		Flags:     protocol.FlagWithEvent,
		Event:     protocol.EventTaskRequest,
		SessionID: sessionID,
		Payload:   frame,
	})
	if err != nil {
		return fmt.Errorf("encode audio frame: %w", err)
	}
	if err := t.writeFrame(conn, wire); err != nil {
		t.markBroken()
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// ReceiveResult blocks for the next session event. Terminal failures are
// classified; retryable ones trigger automatic recovery when enabled, and a
// successful recovery is surfaced as a Result with Recovered set. Once a
// failure has been received, recovery runs to completion (or exhaustion)
// even if ctx expires in the meantime; ctx only bounds the wait for an event.
func (t *Translator) ReceiveResult(ctx context.Context) (Result, error) {
	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		return Result{}, ErrClosed
	}
	if t.conn == nil {
		t.mu.Unlock()
		return Result{}, ErrNotConnected
	}
	recvChan, errChan := t.recvChan, t.errChan
	t.mu.Unlock()

	select {
	case msg, ok := <-recvChan:
		if !ok {
			t.markBroken()
			return t.handleFailure("connection closed by service")
		}
		if msg.IsError() || msg.Event == protocol.EventSessionFailed || msg.Event == protocol.EventSessionCanceled {
			return t.handleFailure(failureMessage(msg))
		}
		if msg.Event == protocol.EventSessionFinished {
			t.mu.Lock()
			if terr := t.transition(fsm.EventFinish); terr != nil {
				t.mu.Unlock()
				return Result{}, terr
			}
			t.mu.Unlock()
			result := Result{Event: msg.Event, SessionID: msg.SessionID, Finished: true}
			t.notifyResult(result)
			return result, nil
		}
		result, rerr := resultFromMessage(msg)
		if rerr != nil {
			return Result{}, rerr
		}
		if msg.Event != protocol.EventUsageInfo {
			t.notifyResult(result)
		}
		return result, nil
	case err := <-errChan:
		t.markBroken()
		return t.handleFailure(fmt.Sprintf("connection read failed: %v", err))
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// FinishSession requests a graceful session end and drains events until the
// service acknowledges a terminal state.
func (t *Translator) FinishSession(ctx context.Context) error {
	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state == fsm.StateFinished {
		t.mu.Unlock()
		return nil
	}
	if t.state != fsm.StateActive {
		t.mu.Unlock()
		return ErrSessionNotActive
	}
	conn := t.conn
	sessionID := t.sessionID
	recvChan, errChan := t.recvChan, t.errChan
	t.mu.Unlock()

	frame, err := t.codec.Marshal(&protocol.Message{
		Type:      protocol.MsgTypeFullClient,
		Flags:     protocol.FlagWithEvent,
		Event:     protocol.EventFinishSession,
		SessionID: sessionID,
		Payload:   []byte("{}"),
	})
	if err != nil {
		return fmt.Errorf("encode finish session frame: %w", err)
	}
	if err := t.writeFrame(conn, frame); err != nil {
		t.markBroken()
		t.failLocked()
		return fmt.Errorf("send finish session: %w", err)
	}

	timer := time.NewTimer(t.cfg.StartTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-recvChan:
			if !ok {
				t.markBroken()
				t.failLocked()
				return fmt.Errorf("finish session %s: %w", sessionID, ErrNotConnected)
			}
			if msg.Event == protocol.EventSessionFinished {
				t.mu.Lock()
				if terr := t.transition(fsm.EventFinish); terr != nil {
					t.mu.Unlock()
					return terr
				}
				t.mu.Unlock()
				t.logger.Info("session finished", slog.String("session_id", sessionID))
				return nil
			}
			if msg.IsError() || msg.Event.IsSessionTerminal() {
				t.failLocked()
				return &SessionRejectedError{Message: failureMessage(msg), LogID: t.LogID()}
			}
			// Drop late subtitle/audio frames while draining.
		case err := <-errChan:
			t.markBroken()
			t.failLocked()
			return fmt.Errorf("finish session %s: %w", sessionID, err)
		case <-timer.C:
			t.failLocked()
			return fmt.Errorf("finish session %s: no terminal event within %s", sessionID, t.cfg.StartTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears down the transport. It is safe to call more than once.
func (t *Translator) Close() error {
	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = fsm.StateClosed
	conn := t.conn
	connDone := t.connDone
	t.conn = nil
	t.connDone = nil
	t.mu.Unlock()

	t.recoveryCancel()
	if connDone != nil {
		close(connDone)
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

// State reports the current lifecycle state.
func (t *Translator) State() fsm.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsSessionActive reports whether audio submission is currently allowed.
func (t *Translator) IsSessionActive() bool {
	return t.State() == fsm.StateActive
}

// SessionID returns the id of the current (or most recent) session.
func (t *Translator) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// LogID returns the service-side diagnostic id from the last handshake.
func (t *Translator) LogID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logID
}

// ConnectID returns the connection id sent on the last handshake.
func (t *Translator) ConnectID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectID
}

// recvLoop reads frames off one connection until it fails or is replaced.
func (t *Translator) recvLoop(conn *websocket.Conn, recvChan chan *protocol.Message, errChan chan error, connDone chan struct{}) {
	defer close(recvChan)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case errChan <- err:
			default:
			}
			return
		}

		msg, err := t.codec.Unmarshal(data)
		if err != nil {
			t.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}

		select {
		case recvChan <- msg:
		case <-connDone:
			return
		}
	}
}

// writeFrame serializes concurrent writers onto one websocket connection.
func (t *Translator) writeFrame(conn *websocket.Conn, frame []byte) error {
	if conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// transition advances the lifecycle state machine; callers hold t.mu.
func (t *Translator) transition(event fsm.Event) error {
	next, err := fsm.Transition(t.state, event)
	if err != nil {
		return err
	}
	t.state = next
	return nil
}

// failLocked moves the state machine to failed unless already closed.
func (t *Translator) failLocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != fsm.StateClosed {
		_ = t.transition(fsm.EventFail)
	}
}

// markBroken records that the transport needs a fresh dial before reuse.
func (t *Translator) markBroken() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connBroken = true
}

// sleepContext waits for a delay or context cancellation, whichever is first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
