// Package transport carries rhythm events off the process. The
// WebSocket hub pushes framed JSON events to subscribers; the UDP
// publisher in transport/udp streams fixed-rate msgpack snapshots.
package transport

// Sink is anything that consumes engine output for the lifetime of a
// run. The cmd layer starts every configured sink and closes them all on
// shutdown.
type Sink interface {
	Start() error
	Close() error
}

var (
	_ Sink = (*Hub)(nil)
	_ Sink = (*LogSink)(nil)
)
