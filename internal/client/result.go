package client

import (
	"encoding/json"
	"fmt"

	"github.com/rliu/simtrans/internal/protocol"
)

// Result is one decoded session event delivered to the receive loop.
type Result struct {
	Event     protocol.Event
	SessionID string
	Sequence  int32

	// Text and Definite are set for subtitle updates.
	Text     string
	Language string
	Definite bool

	// Audio is set for synthesized speech frames.
	Audio []byte

	// Finished marks a cleanly completed session.
	Finished bool

	// Recovered marks the first result after a successful automatic recovery;
	// the session id has changed and downstream state should reset.
	Recovered bool

	// UsageDuration is set for usage report frames (milliseconds of billed audio).
	UsageDuration int64
}

// resultFromMessage maps one protocol frame onto a Result.
func resultFromMessage(msg *protocol.Message) (Result, error) {
	result := Result{
		Event:     msg.Event,
		SessionID: msg.SessionID,
		Sequence:  msg.Sequence,
	}

	if msg.IsAudio() {
		result.Audio = msg.Payload
		return result, nil
	}

	switch msg.Event {
	case protocol.EventSubtitleUpdate:
		var payload protocol.SubtitlePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("decode subtitle payload: %w", err)
		}
		result.Text = payload.Text
		result.Language = payload.Language
		result.Definite = payload.Definite
	case protocol.EventSessionFinished:
		result.Finished = true
	case protocol.EventUsageInfo:
		var payload protocol.UsagePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("decode usage payload: %w", err)
		}
		result.UsageDuration = payload.Usage.Duration
	}

	return result, nil
}

// failureMessage extracts the human-readable failure text from a frame.
func failureMessage(msg *protocol.Message) string {
	var payload protocol.FailurePayload
	if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(msg.Payload) > 0 {
		return string(msg.Payload)
	}
	if msg.IsError() {
		return fmt.Sprintf("service error code %d", msg.ErrorCode)
	}
	return msg.Event.String()
}
