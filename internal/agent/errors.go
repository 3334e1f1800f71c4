package agent

import (
	"errors"

	"github.com/drhvac/voicedesk/internal/capture"
)

// Kind classifies a user-facing failure. Each kind has its own remediation.
type Kind string

const (
	KindSecureContext    Kind = "secure_context_required"
	KindMicUnsupported   Kind = "microphone_unsupported"
	KindPermissionDenied Kind = "permission_denied"
	KindDeviceNotFound   Kind = "device_not_found"
	KindConnectionFailed Kind = "connection_failed"
)

const (
	MsgSessionStartFailed = "Unable to start session."
	MsgConnectionLost     = "Network connection lost."
)

// UIError is the error banner state.
type UIError struct {
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Remediation string `json:"remediation"`
}

// KindOf maps an acquisition or transport error onto the taxonomy. Anything
// that is not a recognized microphone failure is a connection failure.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, capture.ErrInsecureContext):
		return KindSecureContext
	case errors.Is(err, capture.ErrUnsupported):
		return KindMicUnsupported
	case errors.Is(err, capture.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, capture.ErrDeviceNotFound):
		return KindDeviceNotFound
	default:
		return KindConnectionFailed
	}
}

func newUIError(kind Kind, message string) *UIError {
	e := &UIError{Kind: kind, Message: message}
	switch kind {
	case KindSecureContext:
		if e.Message == "" {
			e.Message = "Microphone access requires a secure connection (HTTPS)."
		}
		e.Remediation = "Open this page over https:// and try again."
	case KindMicUnsupported:
		if e.Message == "" {
			e.Message = "Your browser does not support microphone access."
		}
		e.Remediation = "Use a current version of Chrome, Edge, Firefox or Safari."
	case KindPermissionDenied:
		if e.Message == "" {
			e.Message = "Microphone permission was denied."
		}
		e.Remediation = "Allow microphone access for this site in your browser settings, then try again."
	case KindDeviceNotFound:
		if e.Message == "" {
			e.Message = "No microphone was found."
		}
		e.Remediation = "Connect a microphone or headset, then try again."
	default:
		if e.Message == "" {
			e.Message = MsgSessionStartFailed
		}
		e.Remediation = "Check your internet connection and start the call again."
	}
	return e
}
