package protocol

import "fmt"

// Event identifies one protocol event carried in a framed message.
type Event int32

const (
	// Client-originated connection events.
	EventStartConnection  Event = 1
	EventFinishConnection Event = 2

	// Server-originated connection events.
	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52

	// Client-originated session events.
	EventStartSession  Event = 100
	EventFinishSession Event = 102
	EventTaskRequest   Event = 200

	// Server-originated session events.
	EventSessionStarted  Event = 150
	EventSessionFinished Event = 152
	EventSessionFailed   Event = 153
	EventSessionCanceled Event = 154
	EventSubtitleUpdate  Event = 650
	EventUsageInfo       Event = 750
)

// IsConnectionLevel reports whether an event is scoped to the connection
// rather than to one session; connection-level frames carry no session id.
func (e Event) IsConnectionLevel() bool {
	switch e {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

// IsSessionTerminal reports whether an event ends the session it belongs to.
func (e Event) IsSessionTerminal() bool {
	switch e {
	case EventSessionFinished, EventSessionFailed, EventSessionCanceled:
		return true
	}
	return false
}

func (e Event) String() string {
	switch e {
	case EventStartConnection:
		return "StartConnection"
	case EventFinishConnection:
		return "FinishConnection"
	case EventConnectionStarted:
		return "ConnectionStarted"
	case EventConnectionFailed:
		return "ConnectionFailed"
	case EventConnectionFinished:
		return "ConnectionFinished"
	case EventStartSession:
		return "StartSession"
	case EventFinishSession:
		return "FinishSession"
	case EventTaskRequest:
		return "TaskRequest"
	case EventSessionStarted:
		return "SessionStarted"
	case EventSessionFinished:
		return "SessionFinished"
	case EventSessionFailed:
		return "SessionFailed"
	case EventSessionCanceled:
		return "SessionCanceled"
	case EventSubtitleUpdate:
		return "SubtitleUpdate"
	case EventUsageInfo:
		return "UsageInfo"
	default:
		return fmt.Sprintf("Event(%d)", int32(e))
	}
}
