/*
Package source provides the audio inputs the engine arbitrates between:
- Microphone capture through PortAudio with an optional WAV recording tap
- Decoded track playback (WAV, MP3, FLAC) driven by wall-clock position
- A deterministic synthetic input for demos and tests

Every source feeds a dsp.Analyser and hands the engine one settled
SampleFrame per tick. Acquisition failures classify into the fallback
reason taxonomy in internal/rhythm.
*/
package source

import (
	"time"

	"beatline/internal/rhythm"
)

// Recorder is the optional capture-to-disk capability of a source.
// Only the microphone implements it.
type Recorder interface {
	StartRecording(filename string) error
	StopRecording() error
}

// Source is a single audio input owned by the engine. Start may block on
// hardware and is called off the tick goroutine; Frame and Close are
// called from the tick goroutine only.
type Source interface {
	// Kind reports which arbitration state this source drives.
	Kind() rhythm.Source

	// Label names the source for logs and UIs (device or file name).
	Label() string

	// Start begins producing samples.
	Start() error

	// Frame returns the current analysis window.
	Frame(now time.Time) rhythm.SampleFrame

	// Close releases the source. Safe to call more than once.
	Close() error
}
