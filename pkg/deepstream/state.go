package deepstream

import "fmt"

// ConnectionState is the state of the connection state machine.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateAwaitingConnection
	StateChallenging
	StateAwaitingAuthentication
	StateAuthenticating
	StateOpen
	StateReconnecting
	StateRedirecting
	StateClosing
	StateError
	StateChallengeDenied
	StateTooManyAuthAttempts
	StateAuthenticationTimeout
)

var stateNames = [...]string{
	StateClosed:                 "CLOSED",
	StateAwaitingConnection:     "AWAITING_CONNECTION",
	StateChallenging:            "CHALLENGING",
	StateAwaitingAuthentication: "AWAITING_AUTHENTICATION",
	StateAuthenticating:         "AUTHENTICATING",
	StateOpen:                   "OPEN",
	StateReconnecting:           "RECONNECTING",
	StateRedirecting:            "REDIRECTING",
	StateClosing:                "CLOSING",
	StateError:                  "ERROR",
	StateChallengeDenied:        "CHALLENGE_DENIED",
	StateTooManyAuthAttempts:    "TOO_MANY_AUTH_ATTEMPTS",
	StateAuthenticationTimeout:  "AUTHENTICATION_TIMEOUT",
}

func (s ConnectionState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// IsTerminal reports whether the state machine will never leave s on its
// own. Only an explicit Authenticate or Connect from the application can.
func (s ConnectionState) IsTerminal() bool {
	switch s {
	case StateChallengeDenied, StateTooManyAuthAttempts, StateAuthenticationTimeout:
		return true
	}
	return false
}

// StateChange is delivered to connection state listeners.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
}
