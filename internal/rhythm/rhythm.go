// Package rhythm defines the domain types shared by the analysis core:
// input sources, fallback reasons, sample frames and the events the
// engine publishes to its consumers.
package rhythm

// Source identifies which input is feeding the analysis pipeline.
type Source string

const (
	// SourceIdle means no input is attached and nothing is being published.
	SourceIdle Source = "idle"
	// SourceMicrophone is live hardware capture.
	SourceMicrophone Source = "microphone"
	// SourceTrack is a decoded audio file played through the analyser.
	SourceTrack Source = "track"
	// SourceMetronome is the synthetic fallback clock.
	SourceMetronome Source = "metronome"
)

func (s Source) String() string { return string(s) }

// Live reports whether the source carries real signal that the detectors
// analyse, as opposed to the synthesized metronome or nothing at all.
func (s Source) Live() bool {
	return s == SourceMicrophone || s == SourceTrack
}

// Reason explains why the engine is running on the metronome fallback.
// ReasonNone is published whenever a live source is active.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonManual           Reason = "manual"
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonNoDevices        Reason = "no-devices"
	ReasonUnsupported      Reason = "unsupported"
	ReasonHardwareBusy     Reason = "hardware-busy"
	ReasonTrackFailed      Reason = "track-failed"
	ReasonSilence          Reason = "silence"
)

func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

// Recoverable reports whether the engine may leave the fallback on its own.
// Only the silence reason self-heals; every other reason requires an
// explicit retry from the caller.
func (r Reason) Recoverable() bool { return r == ReasonSilence }
