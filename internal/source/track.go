// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"

	"beatline/internal/config"
	"beatline/internal/dsp"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

// Track plays a decoded audio file against the wall clock. The whole
// file is decoded to mono up front; Frame advances the playhead to the
// elapsed position and feeds the analyser the samples in between. Past
// the end the track produces silence, which the engine's silence
// failover then picks up.
type Track struct {
	path    string
	label   string
	samples []float64
	rate    float64

	analyser *dsp.Analyser
	scratch  []float64

	startAt time.Time
	pos     int
}

// LoadTrack decodes the file at path. WAV decodes through go-audio;
// MP3 and FLAC through beep. The analyser runs at the track's own
// sample rate.
func LoadTrack(path string, cfg config.Capture) (*Track, error) {
	label := filepath.Base(path)

	samples, rate, err := decodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("track %q: %w", label, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("track %q: no audio frames", label)
	}

	windowFn, _ := dsp.ParseWindowFunc(cfg.FFTWindow)
	analyser, err := dsp.NewAnalyser(cfg.WindowSize, rate, windowFn)
	if err != nil {
		return nil, fmt.Errorf("track %q: %w", label, err)
	}
	analyser.SetGateThreshold(cfg.GateThreshold)
	analyser.SetSmoothing(cfg.SpectrumSmoothing)

	return &Track{
		path:     path,
		label:    label,
		samples:  samples,
		rate:     rate,
		analyser: analyser,
		scratch:  make([]float64, cfg.WindowSize),
	}, nil
}

func (t *Track) Kind() rhythm.Source { return rhythm.SourceTrack }
func (t *Track) Label() string       { return t.label }

func (t *Track) Start() error {
	seconds := float64(len(t.samples)) / t.rate
	applog.Infof("Track: playing %s (%.1fs at %.0f Hz)", t.label, seconds, t.rate)
	return nil
}

// Frame advances the playhead to now and returns the analysis window.
// A stall longer than one window skips ahead instead of replaying.
func (t *Track) Frame(now time.Time) rhythm.SampleFrame {
	if t.startAt.IsZero() {
		t.startAt = now
	}

	target := int(now.Sub(t.startAt).Seconds() * t.rate)
	if target < t.pos {
		target = t.pos
	}
	if n := target - t.pos; n > 0 {
		if n > len(t.scratch) {
			t.pos = target - len(t.scratch)
			n = len(t.scratch)
		}
		chunk := t.scratch[:n]
		for i := range chunk {
			if idx := t.pos + i; idx < len(t.samples) {
				chunk[i] = t.samples[idx]
			} else {
				chunk[i] = 0
			}
		}
		t.analyser.Push(chunk)
		t.pos = target
	}

	return t.analyser.Frame(now)
}

// Finished reports whether the playhead has passed the last sample.
func (t *Track) Finished() bool {
	return t.pos >= len(t.samples)
}

func (t *Track) Close() error {
	t.samples = nil
	return nil
}

func decodeFile(path string) ([]float64, float64, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		return decodeWAV(path)
	case ".mp3", ".flac":
		return decodeBeep(path, ext)
	default:
		return nil, 0, fmt.Errorf("unsupported track format %q", ext)
	}
}

func decodeWAV(path string) ([]float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	samples := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i+c])
		}
		samples = append(samples, sum/float64(channels)/scale)
	}
	return samples, float64(buf.Format.SampleRate), nil
}

func decodeBeep(path, ext string) ([]float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", strings.TrimPrefix(ext, "."), err)
	}
	defer streamer.Close()

	samples := make([]float64, 0, int(format.SampleRate)*4)
	chunk := make([][2]float64, 2048)
	for {
		n, ok := streamer.Stream(chunk)
		for i := 0; i < n; i++ {
			samples = append(samples, 0.5*(chunk[i][0]+chunk[i][1]))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed while streaming %s: %w", strings.TrimPrefix(ext, "."), err)
	}
	return samples, float64(format.SampleRate), nil
}
