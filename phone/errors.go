package phone

import "errors"

var (
	// ErrInvalidTransition is returned when a request does not fit the current state,
	// e.g. dialing while listening. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotConnected is returned by Hangup when nothing is in progress.
	ErrNotConnected = errors.New("no call in progress")

	// ErrNotListening is returned by StopListening outside the listening state.
	ErrNotListening = errors.New("not listening")

	// ErrDeviceUnavailable wraps audio device failures at the start of a call.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrSessionEnded is returned when a session is started after its teardown.
	ErrSessionEnded = errors.New("session already ended")

	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("phone closed")
)
