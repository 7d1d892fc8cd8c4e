package engine

import (
	"time"

	"beatline/internal/config"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
	"beatline/internal/source"
)

// acquisition is the completion of one async source request. The
// generation token pins it to the request that spawned it; anything
// older is discarded unprocessed.
type acquisition struct {
	gen    uint64
	src    source.Source
	err    error
	reason rhythm.Reason
	req    request
}

// Seams over the source constructors, swapped in tests.
var (
	openMicrophone = func(cfg config.Capture) (source.Source, error) {
		return source.OpenMicrophone(cfg)
	}
	openTrack = func(path string, cfg config.Capture) (source.Source, error) {
		return source.LoadTrack(path, cfg)
	}
)

// StartMicrophone requests live capture. Device and stream setup run off
// the tick goroutine; the completion lands in the next Update.
func (e *Engine) StartMicrophone() {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.lastRequest = request{kind: rhythm.SourceMicrophone}
	cfg := e.cfg.Capture
	e.mu.Unlock()

	applog.Infof("Engine: acquiring microphone")
	go func() {
		src, err := openMicrophone(cfg)
		if err == nil {
			if err = src.Start(); err != nil {
				src.Close()
			}
		}

		acq := acquisition{gen: gen, req: request{kind: rhythm.SourceMicrophone}}
		if err != nil {
			acq.err = err
			acq.reason = source.Classify(err)
		} else {
			acq.src = src
		}
		e.deliver(acq)
	}()
}

// LoadTrack requests playback of an audio file. Decoding runs off the
// tick goroutine; any failure classifies as track-failed.
func (e *Engine) LoadTrack(path string) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.lastRequest = request{kind: rhythm.SourceTrack, path: path}
	cfg := e.cfg.Capture
	e.mu.Unlock()

	applog.Infof("Engine: loading track %s", path)
	go func() {
		src, err := openTrack(path, cfg)
		if err == nil {
			if err = src.Start(); err != nil {
				src.Close()
			}
		}

		acq := acquisition{gen: gen, req: request{kind: rhythm.SourceTrack, path: path}}
		if err != nil {
			acq.err = err
			acq.reason = rhythm.ReasonTrackFailed
		} else {
			acq.src = src
		}
		e.deliver(acq)
	}()
}

// deliver hands a completion to the tick goroutine without blocking the
// acquisition goroutine.
func (e *Engine) deliver(acq acquisition) {
	select {
	case e.pending <- acq:
	default:
		if acq.src != nil {
			acq.src.Close()
		}
		applog.Warnf("Engine: acquisition queue full, dropping %s completion", acq.req.kind)
	}
}

func (e *Engine) drainAcquisitionsLocked(now time.Time, states *[]rhythm.StateChange, errs *[]rhythm.ErrorEvent) {
	for {
		select {
		case acq := <-e.pending:
			e.applyAcquisitionLocked(now, acq, states, errs)
		default:
			return
		}
	}
}

func (e *Engine) applyAcquisitionLocked(now time.Time, acq acquisition, states *[]rhythm.StateChange, errs *[]rhythm.ErrorEvent) {
	if acq.gen != e.gen {
		if acq.src != nil {
			acq.src.Close()
		}
		applog.Debugf("Engine: discarding stale %s acquisition (gen %d, now %d)", acq.req.kind, acq.gen, e.gen)
		return
	}

	if acq.err != nil {
		e.lastErr = acq.err
		applog.Errorf("Engine: %s acquisition failed: %v", acq.req.kind, acq.err)
		*errs = append(*errs, rhythm.ErrorEvent{Message: acq.err.Error(), Err: acq.err})
		e.engageFallbackLocked(now, acq.reason, states)
		return
	}

	prev := e.state
	e.teardownLiveLocked()
	e.src = acq.src
	e.state = acq.req.kind
	e.reason = rhythm.ReasonNone
	e.saved = savedState{}
	e.silentSince = time.Time{}
	e.lastErr = nil
	e.resetAnalysisLocked()
	applog.Infof("Engine: %s active (%s)", e.state, acq.src.Label())
	*states = append(*states, rhythm.StateChange{State: e.state, Previous: prev})
}
