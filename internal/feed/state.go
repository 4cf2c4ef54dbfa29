package feed

import (
	"time"

	"pilot-tracker/internal/flight"
)

// State is the lifecycle phase of the live connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source tells where the buffered history came from.
type Source int

const (
	SourceNone Source = iota
	SourceLive
	SourceDemo
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceDemo:
		return "demo"
	default:
		return "none"
	}
}

// MarshalText renders the source name in JSON payloads.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind classifies subscriber notifications.
type EventKind int

const (
	EventState EventKind = iota
	EventOutcome
	EventHistory
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventOutcome:
		return "outcome"
	case EventHistory:
		return "history"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	State    State
	Source   Source
	Outcome  flight.Outcome
	History  []flight.Outcome
	Err      error
	Terminal bool
	At       time.Time
}

// Status is an immutable copy of the manager's observable state.
type Status struct {
	State     State            `json:"state"`
	Source    Source           `json:"source"`
	Attempts  int              `json:"reconnectAttempts"`
	LastError string           `json:"lastError,omitempty"`
	Latest    *flight.Outcome  `json:"latest,omitempty"`
	History   []flight.Outcome `json:"history"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Connected reports whether the live socket is open.
func (s Status) Connected() bool {
	return s.State == Connected
}
