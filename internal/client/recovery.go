package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rliu/simtrans/internal/fsm"
	"github.com/rliu/simtrans/internal/protocol"
)

// handleFailure classifies a terminal failure and runs automatic recovery for
// retryable ones. A successful recovery yields a Recovered result carrying the
// new session id. Recovery runs under the translator's lifetime context, so a
// receive deadline held by the caller cannot cut the backoff protocol short.
func (t *Translator) handleFailure(reason string) (Result, error) {
	t.failLocked()
	t.logger.Warn("session failed",
		slog.String("reason", reason),
		slog.String("session_id", t.SessionID()),
		slog.String("logid", t.LogID()))

	if !t.cfg.AutoRecover || !Retryable(reason) {
		return Result{}, &SessionRejectedError{Message: reason, LogID: t.LogID()}
	}

	if err := t.recover(t.recoveryCtx, reason); err != nil {
		if !errors.Is(err, ErrClosed) {
			t.notifyRecoveryFailed(err)
		}
		return Result{}, err
	}
	result := Result{Event: protocol.EventSessionStarted, SessionID: t.SessionID(), Recovered: true}
	t.notifyResult(result)
	return result, nil
}

// notifyResult invokes the result observer, containing any panic.
func (t *Translator) notifyResult(result Result) {
	cb := t.onResult
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("result observer panicked", slog.Any("panic", r))
		}
	}()
	cb(result)
}

// recover retries connect+start with exponential backoff until one attempt
// succeeds or the attempt budget is spent.
func (t *Translator) recover(ctx context.Context, reason string) error {
	lastErr := errors.New(reason)

	for attempt := 1; attempt <= t.cfg.MaxRetryAttempts; attempt++ {
		delay := t.cfg.RetryDelayBase * (1 << (attempt - 1))
		t.logger.Info("attempting session recovery",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", t.cfg.MaxRetryAttempts),
			slog.Duration("delay", delay))

		if err := t.sleep(ctx, delay); err != nil {
			// The recovery context is cancelled only by Close.
			return fmt.Errorf("recovery aborted: %w", ErrClosed)
		}
		if err := t.reconnect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			lastErr = err
			t.logger.Warn("recovery reconnect failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}
		if err := t.StartSession(ctx); err != nil {
			lastErr = err
			t.logger.Warn("recovery session start failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			continue
		}

		t.logger.Info("session recovered",
			slog.Int("attempt", attempt),
			slog.String("session_id", t.SessionID()))
		return nil
	}

	return &RecoveryExhaustedError{Attempts: t.cfg.MaxRetryAttempts, Reason: reason, Err: lastErr}
}

// reconnect re-dials the transport when the previous connection broke; an
// intact connection is reused as-is.
func (t *Translator) reconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == fsm.StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state == fsm.StateFailed {
		if err := t.transition(fsm.EventRecover); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	broken := t.connBroken || t.conn == nil
	if !broken {
		err := t.transition(fsm.EventConnect)
		t.mu.Unlock()
		return err
	}
	conn := t.conn
	connDone := t.connDone
	t.conn = nil
	t.connDone = nil
	t.mu.Unlock()

	if connDone != nil {
		close(connDone)
	}
	if conn != nil {
		conn.Close()
	}
	return t.Connect(ctx)
}

// notifyRecoveryFailed invokes the failure observer, containing any panic.
func (t *Translator) notifyRecoveryFailed(err error) {
	cb := t.onRecoveryFailed
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("recovery failure observer panicked", slog.Any("panic", r))
		}
	}()
	cb(err)
}
