package transport

import (
	"beatline/internal/event"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

// LogSink mirrors bus traffic into the log so a headless run can be
// tailed without any network consumer attached. Beats land at debug
// level; state changes and errors are loud enough to keep.
type LogSink struct {
	dispose []func()
}

// NewLogSink subscribes the sink to the bus.
func NewLogSink(bus *event.Bus) *LogSink {
	s := &LogSink{}
	s.dispose = append(s.dispose,
		bus.OnBeat(func(ev rhythm.BeatEvent) {
			applog.Debugf("Transport: beat %.0f BPM energy %.3f confidence %.2f (%s)",
				ev.BPM, ev.Energy, ev.Confidence, ev.Source)
		}),
		bus.OnStateChange(func(sc rhythm.StateChange) {
			applog.Infof("Transport: state %s -> %s (%s)", sc.Previous, sc.State, sc.Reason)
		}),
		bus.OnError(func(ev rhythm.ErrorEvent) {
			applog.Warnf("Transport: pipeline error: %s", ev.Message)
		}),
	)
	return s
}

// Start is a no-op; the sink is live from construction.
func (s *LogSink) Start() error { return nil }

// Close unsubscribes from the bus.
func (s *LogSink) Close() error {
	for _, d := range s.dispose {
		d()
	}
	return nil
}
