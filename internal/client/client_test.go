package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rliu/simtrans/internal/fsm"
	"github.com/rliu/simtrans/internal/protocol"
)

var upgrader = websocket.Upgrader{}

// newTestService runs handler for each websocket client and returns a ws:// URL.
func newTestService(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respHeader := http.Header{}
		respHeader.Set("X-Tt-Logid", "logid-test-123")
		conn, err := upgrader.Upgrade(w, r, respHeader)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		AppKey:         "app-key",
		AccessKey:      "access-key",
		ResourceID:     "resource-id",
		UID:            "tester",
		Mode:           "s2t",
		SourceLanguage: "en",
		TargetLanguage: "zh",
		SourceFormat:   protocol.AudioFormat{Format: "wav", Rate: 16000, Bits: 16, Channel: 1},
		StartTimeout:   2 * time.Second,
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	codec := protocol.NewCodec()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := codec.Unmarshal(data)
	require.NoError(t, err)
	return msg
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	codec := protocol.NewCodec()
	wire, err := codec.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire))
}

func serverEvent(event protocol.Event, sessionID string, payload []byte) *protocol.Message {
	return &protocol.Message{
		Type:      protocol.MsgTypeFullServer,
		Flags:     protocol.FlagWithEvent,
		Event:     event,
		SessionID: sessionID,
		Payload:   payload,
	}
}

func TestConnectSendsCredentialHeaders(t *testing.T) {
	headerCh := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerCh <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(server.Close)

	tr := New(testConfig("ws"+strings.TrimPrefix(server.URL, "http")), nil)
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, fsm.StateConnected, tr.State())

	header := <-headerCh
	require.Equal(t, "app-key", header.Get("X-Api-App-Key"))
	require.Equal(t, "access-key", header.Get("X-Api-Access-Key"))
	require.Equal(t, "resource-id", header.Get("X-Api-Resource-Id"))
	require.NotEmpty(t, header.Get("X-Api-Connect-Id"))
	require.Equal(t, header.Get("X-Api-Connect-Id"), tr.ConnectID())
}

func TestConnectCapturesLogID(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		time.Sleep(50 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, "logid-test-123", tr.LogID())
}

func TestConnectFailureIsConnectError(t *testing.T) {
	tr := New(testConfig("ws://127.0.0.1:1/unreachable"), nil)
	err := tr.Connect(context.Background())
	require.Error(t, err)
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
}

func TestStartSessionAckAndAudioRoundtrip(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		start := readFrame(t, conn)
		require.Equal(t, protocol.EventStartSession, start.Event)
		require.NotEmpty(t, start.SessionID)
		require.Contains(t, string(start.Payload), `"s2t"`)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, start.SessionID, nil))

		audio := readFrame(t, conn)
		require.Equal(t, protocol.EventTaskRequest, audio.Event)
		require.Equal(t, start.SessionID, audio.SessionID)
		require.Equal(t, []byte{1, 2, 3, 4}, audio.Payload)

		writeFrame(t, conn, serverEvent(protocol.EventSubtitleUpdate, start.SessionID,
			[]byte(`{"text":"hello","definite":true}`)))
		time.Sleep(100 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))
	require.True(t, tr.IsSessionActive())
	require.NotEmpty(t, tr.SessionID())

	require.NoError(t, tr.SendAudio([]byte{1, 2, 3, 4}))

	result, err := tr.ReceiveResult(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", result.Text)
	require.True(t, result.Definite)
}

func TestSendAudioRequiresActiveSession(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		time.Sleep(100 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	require.ErrorIs(t, tr.SendAudio([]byte{1}), ErrSessionNotActive)

	require.NoError(t, tr.Connect(context.Background()))
	require.ErrorIs(t, tr.SendAudio([]byte{1}), ErrSessionNotActive)
}

func TestStartSessionRejected(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		start := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, start.SessionID,
			[]byte(`{"error":"invalid_parameter: bad language pair"}`)))
		time.Sleep(100 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	err := tr.StartSession(ctx)
	require.Error(t, err)

	var rejected *SessionRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Message, "invalid_parameter")
	require.Equal(t, "logid-test-123", rejected.LogID)
	require.Equal(t, fsm.StateFailed, tr.State())
}

func TestFinishSessionDrainsUntilTerminal(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		start := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, start.SessionID, nil))

		finish := readFrame(t, conn)
		require.Equal(t, protocol.EventFinishSession, finish.Event)

		// Late results still in flight before the terminal event.
		writeFrame(t, conn, serverEvent(protocol.EventSubtitleUpdate, start.SessionID, []byte(`{"text":"late"}`)))
		writeFrame(t, conn, serverEvent(protocol.EventSessionFinished, start.SessionID, nil))
		time.Sleep(100 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))
	require.NoError(t, tr.FinishSession(ctx))
	require.Equal(t, fsm.StateFinished, tr.State())

	// A second finish is a no-op.
	require.NoError(t, tr.FinishSession(ctx))
}

func TestReceiveResultRecoversFromRetryableFailure(t *testing.T) {
	sessions := make(chan string, 2)
	url := newTestService(t, func(conn *websocket.Conn) {
		first := readFrame(t, conn)
		sessions <- first.SessionID
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, first.SessionID, nil))
		writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, first.SessionID,
			[]byte(`{"error":"model inference error"}`)))

		second := readFrame(t, conn)
		require.Equal(t, protocol.EventStartSession, second.Event)
		sessions <- second.SessionID
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, second.SessionID, nil))
		time.Sleep(100 * time.Millisecond)
	})

	cfg := testConfig(url)
	cfg.AutoRecover = true
	cfg.MaxRetryAttempts = 3
	tr := New(cfg, nil)
	tr.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))

	result, err := tr.ReceiveResult(ctx)
	require.NoError(t, err)
	require.True(t, result.Recovered)
	require.True(t, tr.IsSessionActive())

	firstSession := <-sessions
	secondSession := <-sessions
	require.NotEqual(t, firstSession, secondSession)
	require.Equal(t, secondSession, tr.SessionID())
}

func TestRecoveryOutlivesReceiveDeadline(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		first := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, first.SessionID, nil))
		writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, first.SessionID,
			[]byte(`{"error":"model inference error"}`)))

		second := readFrame(t, conn)
		require.Equal(t, protocol.EventStartSession, second.Event)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, second.SessionID, nil))
		time.Sleep(100 * time.Millisecond)
	})

	cfg := testConfig(url)
	cfg.AutoRecover = true
	cfg.MaxRetryAttempts = 3
	cfg.RetryDelayBase = 300 * time.Millisecond
	tr := New(cfg, nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))

	// The receive window is shorter than the first backoff delay; recovery
	// must still run to completion.
	pollCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	result, err := tr.ReceiveResult(pollCtx)
	require.NoError(t, err)
	require.True(t, result.Recovered)
	require.Error(t, pollCtx.Err())
	require.True(t, tr.IsSessionActive())
}

func TestCloseAbortsInFlightRecovery(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		first := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, first.SessionID, nil))
		writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, first.SessionID,
			[]byte(`{"error":"serverinternalerror"}`)))
		time.Sleep(500 * time.Millisecond)
	})

	cfg := testConfig(url)
	cfg.AutoRecover = true
	cfg.RetryDelayBase = 5 * time.Second
	tr := New(cfg, nil)

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.ReceiveResult(ctx)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("recovery was not aborted by Close")
	}
}

func TestReceiveResultFatalFailureDoesNotRecover(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		start := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, start.SessionID, nil))
		writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, start.SessionID,
			[]byte(`{"error":"authentication failed"}`)))
		time.Sleep(100 * time.Millisecond)
	})

	cfg := testConfig(url)
	cfg.AutoRecover = true
	tr := New(cfg, nil)
	tr.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))

	_, err := tr.ReceiveResult(ctx)
	var rejected *SessionRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Contains(t, rejected.Message, "authentication")
	require.Equal(t, fsm.StateFailed, tr.State())
}

func TestRecoveryExhaustionInvokesObserver(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		start := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, start.SessionID, nil))
		writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, start.SessionID,
			[]byte(`{"error":"serverinternalerror"}`)))

		// Every recovery attempt is rejected with another retryable failure.
		codec := protocol.NewCodec()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := codec.Unmarshal(data)
			if err != nil || msg.Event != protocol.EventStartSession {
				continue
			}
			writeFrame(t, conn, serverEvent(protocol.EventSessionFailed, msg.SessionID,
				[]byte(`{"error":"serverinternalerror"}`)))
		}
	})

	cfg := testConfig(url)
	cfg.AutoRecover = true
	cfg.MaxRetryAttempts = 2
	tr := New(cfg, nil)
	tr.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { _ = tr.Close() })

	observed := make(chan error, 1)
	tr.SetRecoveryFailedObserver(func(err error) {
		observed <- err
		panic("observer panic must be contained")
	})

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))

	_, err := tr.ReceiveResult(ctx)
	var exhausted *RecoveryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Attempts)

	select {
	case observerErr := <-observed:
		require.ErrorAs(t, observerErr, &exhausted)
	case <-time.After(time.Second):
		t.Fatal("recovery failure observer was not invoked")
	}
}

func TestReceiveResultHonorsContextDeadline(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		start := readFrame(t, conn)
		writeFrame(t, conn, serverEvent(protocol.EventSessionStarted, start.SessionID, nil))
		time.Sleep(500 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.StartSession(ctx))

	pollCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := tr.ReceiveResult(pollCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The session survives a poll timeout.
	require.True(t, tr.IsSessionActive())
}

func TestConnectDuringRecoveryReplacesTransport(t *testing.T) {
	closed := make(chan struct{}, 2)
	url := newTestService(t, func(conn *websocket.Conn) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, _ = conn.ReadMessage()
		closed <- struct{}{}
	})

	tr := New(testConfig(url), nil)
	t.Cleanup(func() { _ = tr.Close() })

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))

	// Park the translator mid-recovery with the first transport still live.
	tr.mu.Lock()
	tr.state = fsm.StateRecovering
	tr.mu.Unlock()

	require.NoError(t, tr.Connect(ctx))
	require.Equal(t, fsm.StateConnected, tr.State())

	// The superseded connection must be torn down, not leaked.
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("previous transport was not closed")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		time.Sleep(50 * time.Millisecond)
	})

	tr := New(testConfig(url), nil)
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.Equal(t, fsm.StateClosed, tr.State())

	require.ErrorIs(t, tr.SendAudio([]byte{1}), ErrClosed)
	require.ErrorIs(t, tr.Connect(context.Background()), ErrClosed)
	_, err := tr.ReceiveResult(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		message string
		want    Severity
	}{
		{"engine:1022 stream dropped", SeverityRetryable},
		{"ServerInternalError", SeverityRetryable},
		{"model inference error at shard 3", SeverityRetryable},
		{"read timeout on upstream", SeverityRetryable},
		{"network unreachable", SeverityRetryable},
		{"connection reset by peer", SeverityRetryable},
		{"authentication failed", SeverityFatal},
		{"quota exceeded for app", SeverityFatal},
		{"INVALID_PARAMETER: mode", SeverityFatal},
		{"invalid_app_key", SeverityFatal},
		{"invalid_access_key", SeverityFatal},
		// Fatal wins when both keyword sets match.
		{"authentication timeout", SeverityFatal},
		// Unknown messages fail closed.
		{"something novel happened", SeverityUnknown},
		{"", SeverityUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.message, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.message))
			require.Equal(t, tc.want == SeverityRetryable, Retryable(tc.message))
		})
	}
}
