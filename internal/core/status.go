package core

import "time"

// SourceState is the lifecycle state an adapter reports for status display.
type SourceState string

const (
	StateDisabled        SourceState = "disabled"
	StateDisconnected    SourceState = "disconnected"
	StateConnecting      SourceState = "connecting"
	StateConnected       SourceState = "connected"
	StateReconnecting    SourceState = "reconnecting"
	StateResolving       SourceState = "resolving"
	StatePolling         SourceState = "polling"
	StateBackoff         SourceState = "backoff"
	StateNotLive         SourceState = "not_live"
	StateUnauthenticated SourceState = "unauthenticated"
	StateError           SourceState = "error"
)

// StatusFunc receives state transitions. err is set for failure states.
type StatusFunc func(state SourceState, err error)

func (f StatusFunc) Report(state SourceState, err error) {
	if f != nil {
		f(state, err)
	}
}

type SourceStatus struct {
	Platform Platform    `json:"platform"`
	State    SourceState `json:"state"`
	Target   string      `json:"target,omitempty"`
	Error    string      `json:"error,omitempty"`
	Since    time.Time   `json:"since"`
}
