// SPDX-License-Identifier: MIT

// Package udp streams engine snapshots to a fixed peer as msgpack
// datagrams. Loss is acceptable: every packet is a complete snapshot and
// the sequence number lets receivers measure gaps.
package udp

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

// DefaultInterval paces the publisher at roughly thirty packets a
// second.
const DefaultInterval = 33 * time.Millisecond

// Packet is the datagram layout. The tag names are the contract with
// non-Go consumers.
type Packet struct {
	Seq       uint32  `msgpack:"seq"`
	Timestamp int64   `msgpack:"ts"`
	Energy    float64 `msgpack:"energy"`
	Bass      float64 `msgpack:"bass"`
	Mid       float64 `msgpack:"mid"`
	Treble    float64 `msgpack:"treble"`
	BPM       float64 `msgpack:"bpm"`
	State     string  `msgpack:"state"`
	Reason    string  `msgpack:"reason,omitempty"`
	Quality   float64 `msgpack:"quality"`
	Flux      float64 `msgpack:"flux"`
	HasSignal bool    `msgpack:"signal"`
}

// Publisher ships one Packet per interval. It pulls through the snapshot
// func instead of subscribing to the bus, so its send rate is
// independent of the engine tick rate.
type Publisher struct {
	sender   *Sender
	snap     func() rhythm.Snapshot
	interval time.Duration

	mu       sync.Mutex
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	seq uint32
	buf bytes.Buffer
	enc *msgpack.Encoder
}

// NewPublisher wires a publisher to a sender and a snapshot supplier. A
// non-positive interval falls back to DefaultInterval.
func NewPublisher(interval time.Duration, sender *Sender, snap func() rhythm.Snapshot) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender is nil")
	}
	if snap == nil {
		return nil, fmt.Errorf("udp publisher: snapshot func is nil")
	}
	if interval <= 0 {
		applog.Warnf("Transport: invalid udp interval, using %s", DefaultInterval)
		interval = DefaultInterval
	}
	p := &Publisher{sender: sender, snap: snap, interval: interval}
	p.enc = msgpack.NewEncoder(&p.buf)
	return p, nil
}

// Start launches the send loop. Starting a running publisher is a no-op.
func (p *Publisher) Start() error {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Transport: udp publisher already running")
		return nil
	}
	p.ticker = time.NewTicker(p.interval)
	p.done = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker, done := p.ticker, p.done
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("Transport: udp publisher sending every %s", p.interval)
		for {
			select {
			case <-ticker.C:
				p.send()
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for it to exit. Safe to call twice; a
// stopped publisher can Start again.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.done)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Close implements the transport sink contract.
func (p *Publisher) Close() error { return p.Stop() }

// send packs the current snapshot and ships it. The buffer is reused
// across packets; an encode or socket error drops this packet and keeps
// the loop alive.
func (p *Publisher) send() {
	snap := p.snap()
	p.seq++
	pkt := Packet{
		Seq:       p.seq,
		Timestamp: snap.Timestamp.UnixNano(),
		Energy:    snap.Energy,
		Bass:      snap.Bands.Bass,
		Mid:       snap.Bands.Mid,
		Treble:    snap.Bands.Treble,
		BPM:       snap.BPM,
		State:     string(snap.State),
		Reason:    string(snap.Reason),
		Quality:   snap.Quality,
		Flux:      snap.Flux,
		HasSignal: snap.HasSignal,
	}

	p.buf.Reset()
	if err := p.enc.Encode(&pkt); err != nil {
		applog.Errorf("Transport: pack udp snapshot: %v", err)
		return
	}
	if err := p.sender.Send(p.buf.Bytes()); err != nil {
		applog.Debugf("Transport: %v", err)
	}
}
