// Package event implements the fan-out bus between the engine and its
// consumers. Four independent channels carry beats, per-tick energy
// payloads, source state changes and errors. Listeners are isolated from
// one another: a panicking listener is recovered and reported without
// stopping delivery to the rest.
package event

import (
	"fmt"
	"sync"

	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

type subscriber[T any] struct {
	id int
	fn func(T)
}

// registry is a copy-on-write subscriber list. Mutations build a fresh
// slice, so a publisher can iterate a loaded slice header without
// holding any lock and without per-publish copying.
type registry[T any] struct {
	nextID int
	subs   []subscriber[T]
}

func (r *registry[T]) add(fn func(T)) int {
	r.nextID++
	next := make([]subscriber[T], len(r.subs)+1)
	copy(next, r.subs)
	next[len(next)-1] = subscriber[T]{id: r.nextID, fn: fn}
	r.subs = next
	return r.nextID
}

func (r *registry[T]) remove(id int) {
	for i, s := range r.subs {
		if s.id != id {
			continue
		}
		next := make([]subscriber[T], 0, len(r.subs)-1)
		next = append(next, r.subs[:i]...)
		next = append(next, r.subs[i+1:]...)
		r.subs = next
		return
	}
}

// Bus is safe for concurrent use. Publishing preserves subscription
// order within each channel.
type Bus struct {
	mu     sync.Mutex
	beats  registry[rhythm.BeatEvent]
	energy registry[rhythm.EnergyPayload]
	states registry[rhythm.StateChange]
	errors registry[rhythm.ErrorEvent]
}

func NewBus() *Bus { return &Bus{} }

// OnBeat registers a beat listener and returns its disposer. Disposing
// twice is harmless.
func (b *Bus) OnBeat(fn func(rhythm.BeatEvent)) func() {
	b.mu.Lock()
	id := b.beats.add(fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.beats.remove(id)
		b.mu.Unlock()
	}
}

// OnEnergy registers a per-tick energy listener and returns its disposer.
func (b *Bus) OnEnergy(fn func(rhythm.EnergyPayload)) func() {
	b.mu.Lock()
	id := b.energy.add(fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.energy.remove(id)
		b.mu.Unlock()
	}
}

// OnStateChange registers a source state listener and returns its disposer.
func (b *Bus) OnStateChange(fn func(rhythm.StateChange)) func() {
	b.mu.Lock()
	id := b.states.add(fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.states.remove(id)
		b.mu.Unlock()
	}
}

// OnError registers an error listener and returns its disposer.
func (b *Bus) OnError(fn func(rhythm.ErrorEvent)) func() {
	b.mu.Lock()
	id := b.errors.add(fn)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.errors.remove(id)
		b.mu.Unlock()
	}
}

// PublishBeat delivers ev to every beat listener.
func (b *Bus) PublishBeat(ev rhythm.BeatEvent) {
	b.mu.Lock()
	subs := b.beats.subs
	b.mu.Unlock()
	for _, s := range subs {
		b.dispatch("beat", func() { s.fn(ev) })
	}
}

// PublishEnergy delivers p to every energy listener.
func (b *Bus) PublishEnergy(p rhythm.EnergyPayload) {
	b.mu.Lock()
	subs := b.energy.subs
	b.mu.Unlock()
	for _, s := range subs {
		b.dispatch("energy", func() { s.fn(p) })
	}
}

// PublishState delivers sc to every state listener.
func (b *Bus) PublishState(sc rhythm.StateChange) {
	b.mu.Lock()
	subs := b.states.subs
	b.mu.Unlock()
	for _, s := range subs {
		b.dispatch("state", func() { s.fn(sc) })
	}
}

// PublishError delivers ev to every error listener.
func (b *Bus) PublishError(ev rhythm.ErrorEvent) {
	b.mu.Lock()
	subs := b.errors.subs
	b.mu.Unlock()
	for _, s := range subs {
		b.dispatch("error", func() { s.fn(ev) })
	}
}

// dispatch runs one listener and contains its panic. Panics from the
// beat, energy and state channels are reported on the error channel;
// panics from error listeners are only logged, so a broken error
// listener cannot feed itself.
func (b *Bus) dispatch(channel string, fn func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		applog.Errorf("EventBus: %s listener panicked: %v", channel, rec)
		if channel != "error" {
			b.PublishError(rhythm.ErrorEvent{
				Message: fmt.Sprintf("%s listener panicked: %v", channel, rec),
			})
		}
	}()
	fn()
}
