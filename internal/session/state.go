// Package session implements the session manager: an authenticated
// control-plane session over a bidirectional JSON event transport, with
// connection lifecycle, re-authentication, reconnect/backoff, and
// multiplexed event dispatch.
package session

import "fmt"

// FailureKind classifies why a session reached a terminal Failed state.
type FailureKind string

const (
	FailureAuth    FailureKind = "auth"
	FailureNetwork FailureKind = "network"
)

// Phase is the session state tag.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Authenticating
	Authenticated
	Reconnecting
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the full session state value: the phase tag plus the data
// carried by Reconnecting (attempt count) and Failed (failure kind).
type State struct {
	Phase   Phase
	Attempt int
	Kind    FailureKind
}

func (s State) String() string {
	switch s.Phase {
	case Reconnecting:
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	case Failed:
		return fmt.Sprintf("failed(%s)", s.Kind)
	default:
		return s.Phase.String()
	}
}

func disconnectedState() State    { return State{Phase: Disconnected} }
func connectingState() State      { return State{Phase: Connecting} }
func authenticatingState() State  { return State{Phase: Authenticating} }
func authenticatedState() State   { return State{Phase: Authenticated} }
func reconnectingState(k int) State {
	return State{Phase: Reconnecting, Attempt: k}
}
func failedState(kind FailureKind) State {
	return State{Phase: Failed, Kind: kind}
}
