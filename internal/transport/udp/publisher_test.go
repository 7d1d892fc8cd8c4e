package udp

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"beatline/internal/rhythm"
)

func testSnapshot() rhythm.Snapshot {
	return rhythm.Snapshot{
		Timestamp: time.Unix(1700000000, 0),
		State:     rhythm.SourceMetronome,
		Reason:    rhythm.ReasonSilence,
		Energy:    0.42,
		Bands:     rhythm.Bands{Bass: 0.8, Mid: 0.5, Treble: 0.2},
		BPM:       128,
		Quality:   0.9,
		Flux:      0.07,
	}
}

// newLoopback wires a sender to a local receiver socket.
func newLoopback(t *testing.T) (net.PacketConn, *Sender) {
	t.Helper()
	recv, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { recv.Close() })

	sender, err := NewSender(recv.LocalAddr().String())
	if err != nil {
		t.Fatalf("sender failed: %v", err)
	}
	t.Cleanup(func() { sender.Close() })
	return recv, sender
}

func readPacket(t *testing.T, recv net.PacketConn) Packet {
	t.Helper()
	buf := make([]byte, 2048)
	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := recv.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var pkt Packet
	if err := msgpack.Unmarshal(buf[:n], &pkt); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return pkt
}

func TestPublisherStreamsSnapshots(t *testing.T) {
	recv, sender := newLoopback(t)

	pub, err := NewPublisher(5*time.Millisecond, sender, testSnapshot)
	if err != nil {
		t.Fatalf("publisher failed: %v", err)
	}
	if err := pub.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer pub.Close()

	want := testSnapshot()
	first := readPacket(t, recv)
	if first.BPM != want.BPM || first.State != string(want.State) || first.Reason != string(want.Reason) {
		t.Errorf("packet = %+v", first)
	}
	if first.Energy != want.Energy || first.Bass != want.Bands.Bass || first.Treble != want.Bands.Treble {
		t.Errorf("packet levels = %+v", first)
	}
	if first.Timestamp != want.Timestamp.UnixNano() {
		t.Errorf("timestamp = %d, want %d", first.Timestamp, want.Timestamp.UnixNano())
	}
	if first.Seq == 0 {
		t.Error("sequence numbers start at 1")
	}

	second := readPacket(t, recv)
	if second.Seq <= first.Seq {
		t.Errorf("sequence did not advance: %d then %d", first.Seq, second.Seq)
	}
}

func TestPublisherValidation(t *testing.T) {
	_, sender := newLoopback(t)

	if _, err := NewPublisher(time.Second, nil, testSnapshot); err == nil {
		t.Error("nil sender accepted")
	}
	if _, err := NewPublisher(time.Second, sender, nil); err == nil {
		t.Error("nil snapshot func accepted")
	}

	pub, err := NewPublisher(0, sender, testSnapshot)
	if err != nil {
		t.Fatalf("zero interval rejected: %v", err)
	}
	if pub.interval != DefaultInterval {
		t.Errorf("interval = %s, want %s", pub.interval, DefaultInterval)
	}
}

func TestPublisherLifecycle(t *testing.T) {
	recv, sender := newLoopback(t)

	pub, err := NewPublisher(10*time.Millisecond, sender, testSnapshot)
	if err != nil {
		t.Fatalf("publisher failed: %v", err)
	}

	// Stop before Start is a no-op.
	if err := pub.Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}

	if err := pub.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := pub.Start(); err != nil {
		t.Fatalf("double start: %v", err)
	}
	readPacket(t, recv)

	if err := pub.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := pub.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	// A stopped publisher restarts cleanly.
	if err := pub.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	readPacket(t, recv)
	if err := pub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestSenderSendAfterClose(t *testing.T) {
	_, sender := newLoopback(t)

	if err := sender.Send([]byte("ping")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sender.Send([]byte("pong")); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("send after close = %v", err)
	}
}

func TestSenderBadTarget(t *testing.T) {
	if _, err := NewSender("no-port-here"); err == nil {
		t.Error("bad target accepted")
	}
}
