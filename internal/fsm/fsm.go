package fsm

import "fmt"

type State string

type Event string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateActive       State = "active"
	StateFinished     State = "finished"
	StateFailed       State = "failed"
	StateRecovering   State = "recovering"
	StateClosed       State = "closed"
)

const (
	EventConnect   Event = "connect"
	EventStart     Event = "start"
	EventFinish    Event = "finish"
	EventFail      Event = "fail"
	EventRecover   Event = "recover"
	EventRecovered Event = "recovered"
	EventClose     Event = "close"
)

func Transition(current State, event Event) (State, error) {
	if current == StateClosed {
		return current, invalidTransition(current, event)
	}
	if event == EventFail {
		return StateFailed, nil
	}
	if event == EventClose {
		return StateClosed, nil
	}

	switch current {
	case StateDisconnected:
		switch event {
		case EventConnect:
			return StateConnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnected:
		switch event {
		case EventStart:
			return StateActive, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventFinish:
			return StateFinished, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFinished:
		switch event {
		case EventStart:
			return StateActive, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFailed:
		switch event {
		case EventRecover:
			return StateRecovering, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecovering:
		switch event {
		case EventConnect:
			return StateConnected, nil
		case EventRecovered:
			return StateActive, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
