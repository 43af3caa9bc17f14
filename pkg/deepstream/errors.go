package deepstream

import (
	"errors"
	"fmt"
)

// ErrorClass says how a caller should treat an error.
type ErrorClass int

const (
	// ErrorTransient errors clear up on their own, typically after a reconnect.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input and will fail again if retried.
	ErrorInvalid
	// ErrorTerminal errors mean the connection gave up and needs the
	// application to intervene.
	ErrorTerminal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

var (
	// Connectivity
	ErrClientOffline     = errors.New("client offline")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrAlreadyConnecting = errors.New("client already connecting")
	ErrNotStarted        = errors.New("client not started")

	// Authentication
	ErrChallengeDenied          = errors.New("connection challenge denied")
	ErrAuthenticationFailed     = errors.New("invalid authentication details")
	ErrTooManyAuthAttempts      = errors.New("too many authentication attempts")
	ErrAuthenticationTimeout    = errors.New("authentication timeout")
	ErrMaxReconnectionAttempts  = errors.New("maximum reconnection attempts reached")
	ErrAuthenticationInProgress = errors.New("authentication already in progress")
	ErrAuthenticationSuperseded = errors.New("authentication superseded by a later call")

	// Requests
	ErrAckTimeout      = errors.New("ack timeout")
	ErrAcceptTimeout   = errors.New("accept timeout")
	ErrResponseTimeout = errors.New("response timeout")
	ErrNoRPCProvider   = errors.New("no rpc provider")
	ErrMessageDenied   = errors.New("message denied")

	// Configuration
	ErrInvalidOptions = errors.New("invalid options")
)

// ClassifiedError attaches an ErrorClass and the operation that failed.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Operation == "" {
		return ce.Err.Error()
	}
	return fmt.Sprintf("%s: %v", ce.Operation, ce.Err)
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Transient wraps err as a transient failure of operation.
func Transient(operation string, err error) error {
	return &ClassifiedError{Class: ErrorTransient, Err: err, Operation: operation}
}

// Terminal wraps err as a terminal failure of operation.
func Terminal(operation string, err error) error {
	return &ClassifiedError{Class: ErrorTerminal, Err: err, Operation: operation}
}

// Invalid wraps err as an input error for operation.
func Invalid(operation string, err error) error {
	return &ClassifiedError{Class: ErrorInvalid, Err: err, Operation: operation}
}

// Classify returns the class of err. Unclassified errors are treated as
// terminal unless they are one of the known transient sentinels.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	switch {
	case errors.Is(err, ErrClientOffline),
		errors.Is(err, ErrAckTimeout),
		errors.Is(err, ErrAcceptTimeout),
		errors.Is(err, ErrResponseTimeout):
		return ErrorTransient
	case errors.Is(err, ErrInvalidOptions):
		return ErrorInvalid
	}
	return ErrorTerminal
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ErrorTransient
}

// IsTerminal reports whether err means the connection gave up.
func IsTerminal(err error) bool {
	return err != nil && Classify(err) == ErrorTerminal
}
