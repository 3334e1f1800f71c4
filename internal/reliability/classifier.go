package reliability

import (
	"fmt"
	"strings"
	"time"

	"github.com/drhvac/voicedesk/internal/capture"
)

// ClassifyMediaError maps the error name (and, as a fallback, message) raised
// by a browser's getUserMedia onto the capture sentinels. Unrecognized errors
// are wrapped without a sentinel and surface as a generic failure.
func ClassifyMediaError(name, message string) error {
	detail := strings.TrimSpace(message)
	if detail == "" {
		detail = strings.TrimSpace(name)
	}
	switch strings.TrimSpace(name) {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return fmt.Errorf("%w: %s", capture.ErrPermissionDenied, detail)
	case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError", "ConstraintNotSatisfiedError":
		return fmt.Errorf("%w: %s", capture.ErrDeviceNotFound, detail)
	case "InsecureContext":
		return fmt.Errorf("%w: %s", capture.ErrInsecureContext, detail)
	case "NotSupportedError", "TypeError", "Unsupported":
		return fmt.Errorf("%w: %s", capture.ErrUnsupported, detail)
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "secure"), strings.Contains(msg, "https"):
		return fmt.Errorf("%w: %s", capture.ErrInsecureContext, detail)
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"), strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %s", capture.ErrPermissionDenied, detail)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no device"), strings.Contains(msg, "requested device"):
		return fmt.Errorf("%w: %s", capture.ErrDeviceNotFound, detail)
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "does not support"):
		return fmt.Errorf("%w: %s", capture.ErrUnsupported, detail)
	}
	// NotReadableError and AbortError land here: the device exists but could
	// not be started, which no remediation message covers specifically.
	return fmt.Errorf("microphone error %s: %s", strings.TrimSpace(name), detail)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
