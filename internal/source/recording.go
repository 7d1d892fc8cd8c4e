package source

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "beatline/internal/log"
)

// ErrAlreadyRecording reports a second StartRecording on a live tap.
var ErrAlreadyRecording = errors.New("already recording")

// recorder taps the mono capture path into a 16-bit WAV file. The
// active flag gates the hot path; encoder and buffers are only touched
// while it is set.
type recorder struct {
	active  int32 // atomic
	file    *os.File
	encoder *wav.Encoder
	buf     *audio.IntBuffer
}

// write appends a mono chunk to the recording, clipping to [-1, 1].
// Called from the stream callback; allocation free.
func (r *recorder) write(mono []float64) {
	if atomic.LoadInt32(&r.active) != 1 || r.encoder == nil {
		return
	}

	if len(mono) > cap(r.buf.Data) {
		mono = mono[:cap(r.buf.Data)]
	}
	r.buf.Data = r.buf.Data[:len(mono)]
	for i, s := range mono {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		r.buf.Data[i] = int(s * 32767)
	}

	if err := r.encoder.Write(r.buf); err != nil {
		applog.Errorf("Capture: WAV write failed: %v", err)
	}
}

// StartRecording begins writing the folded mono input to filename.
func (m *Microphone) StartRecording(filename string) error {
	if atomic.LoadInt32(&m.rec.active) == 1 {
		return ErrAlreadyRecording
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	m.rec.file = file
	m.rec.encoder = wav.NewEncoder(file, int(m.cfg.SampleRate), 16, 1, 1)
	m.rec.buf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  int(m.cfg.SampleRate),
		},
		Data:           make([]int, m.cfg.FramesPerBuffer),
		SourceBitDepth: 16,
	}

	atomic.StoreInt32(&m.rec.active, 1)
	applog.Infof("Capture: recording to %s", filename)
	return nil
}

// StopRecording finalizes the WAV file. A no-op when not recording.
func (m *Microphone) StopRecording() error {
	if atomic.LoadInt32(&m.rec.active) == 0 {
		return nil
	}
	atomic.StoreInt32(&m.rec.active, 0)

	if m.rec.encoder != nil {
		if err := m.rec.encoder.Close(); err != nil {
			return err
		}
		m.rec.encoder = nil
	}
	if m.rec.file != nil {
		if err := m.rec.file.Close(); err != nil {
			return err
		}
		m.rec.file = nil
	}
	return nil
}

// Recording reports whether the tap is active.
func (m *Microphone) Recording() bool {
	return atomic.LoadInt32(&m.rec.active) == 1
}
