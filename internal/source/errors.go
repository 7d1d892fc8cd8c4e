package source

import (
	"errors"
	"strings"

	"beatline/internal/rhythm"
)

// Sentinel acquisition errors. Callers match with errors.Is; Classify
// maps them onto fallback reasons.
var (
	ErrNoInputDevices     = errors.New("no input devices available")
	ErrPermissionDenied   = errors.New("input permission denied")
	ErrDeviceBusy         = errors.New("input device busy")
	ErrUnsupported        = errors.New("unsupported capture configuration")
	ErrContextUnavailable = errors.New("audio context unavailable")
)

// Classify maps an acquisition error onto the fallback reason the engine
// reports. Sentinels take precedence; otherwise the error text is
// matched, since PortAudio surfaces platform failures as strings.
func Classify(err error) rhythm.Reason {
	switch {
	case err == nil:
		return rhythm.ReasonNone
	case errors.Is(err, ErrPermissionDenied):
		return rhythm.ReasonPermissionDenied
	case errors.Is(err, ErrNoInputDevices):
		return rhythm.ReasonNoDevices
	case errors.Is(err, ErrDeviceBusy):
		return rhythm.ReasonHardwareBusy
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrContextUnavailable):
		return rhythm.ReasonUnsupported
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"), strings.Contains(msg, "not allowed"):
		return rhythm.ReasonPermissionDenied
	case strings.Contains(msg, "no device"), strings.Contains(msg, "no default"), strings.Contains(msg, "no input"):
		return rhythm.ReasonNoDevices
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return rhythm.ReasonHardwareBusy
	default:
		return rhythm.ReasonUnsupported
	}
}
