package live

import "errors"

var (
	// ErrSessionActive is returned by Start while a session is connecting or active
	ErrSessionActive = errors.New("live session already connecting or active")

	// ErrNotActive is returned by SendText outside of an active session
	ErrNotActive = errors.New("live session is not active")

	// ErrCaptureUnavailable is returned when the microphone cannot be acquired
	ErrCaptureUnavailable = errors.New("capture device unavailable")

	// ErrTransportOpen is returned when the remote agent could not be reached
	ErrTransportOpen = errors.New("failed to open live transport")

	// ErrTransportFailed reports a mid-session transport error
	ErrTransportFailed = errors.New("live transport failed")

	// ErrMalformedAudio marks an inbound chunk that could not be decoded
	ErrMalformedAudio = errors.New("malformed inbound audio chunk")

	// ErrNilProvider is returned when a required collaborator is nil
	ErrNilProvider = errors.New("required provider is nil")
)
