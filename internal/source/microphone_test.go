package source

import (
	"testing"
	"time"

	"beatline/internal/config"
	"beatline/internal/dsp"
	"beatline/internal/rhythm"
)

// newTestMicrophone builds a Microphone without touching PortAudio.
func newTestMicrophone(t *testing.T, channels int) *Microphone {
	t.Helper()
	an, err := dsp.NewAnalyser(1024, 44100, dsp.Hann)
	if err != nil {
		t.Fatalf("NewAnalyser: %v", err)
	}
	return &Microphone{
		cfg: config.Capture{
			SampleRate:      44100,
			WindowSize:      1024,
			FramesPerBuffer: 256,
			Channels:        channels,
		},
		analyser: an,
		mono:     make([]float64, 256),
	}
}

func TestMicrophoneProcessMono(t *testing.T) {
	m := newTestMicrophone(t, 1)

	in := make([]float32, 256)
	for i := range in {
		in[i] = 0.5
	}
	m.process(in)

	frame := m.Frame(testBase)
	tail := frame.Samples[len(frame.Samples)-256:]
	for i, s := range tail {
		if s != 0.5 {
			t.Fatalf("sample %d = %v, want 0.5", i, s)
		}
	}
	if m.Kind() != rhythm.SourceMicrophone {
		t.Errorf("kind = %s, want microphone", m.Kind())
	}
}

func TestMicrophoneProcessFoldsFirstChannel(t *testing.T) {
	m := newTestMicrophone(t, 2)

	in := make([]float32, 512)
	for i := 0; i < 256; i++ {
		in[i*2] = 0.5
		in[i*2+1] = -0.25
	}
	m.process(in)

	frame := m.Frame(testBase.Add(time.Millisecond))
	tail := frame.Samples[len(frame.Samples)-256:]
	for i, s := range tail {
		if s != 0.5 {
			t.Fatalf("sample %d = %v, want the left channel only", i, s)
		}
	}
}

func TestMicrophoneProcessOversizeChunk(t *testing.T) {
	m := newTestMicrophone(t, 1)

	in := make([]float32, 1000)
	for i := range in {
		in[i] = 0.25
	}
	m.process(in)

	frame := m.Frame(testBase)
	tail := frame.Samples[len(frame.Samples)-256:]
	for i, s := range tail {
		if s != 0.25 {
			t.Fatalf("sample %d = %v, want the clamped chunk", i, s)
		}
	}
}

func TestMicrophoneProcessAllocs(t *testing.T) {
	m := newTestMicrophone(t, 1)
	in := make([]float32, 256)
	for i := range in {
		in[i] = 0.1
	}

	allocs := testing.AllocsPerRun(100, func() {
		m.process(in)
	})
	if allocs > 0 {
		t.Errorf("capture hot path allocated: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkMicrophoneProcess(b *testing.B) {
	an, err := dsp.NewAnalyser(1024, 44100, dsp.Hann)
	if err != nil {
		b.Fatal(err)
	}
	m := &Microphone{
		cfg:      config.Capture{SampleRate: 44100, WindowSize: 1024, FramesPerBuffer: 256, Channels: 2},
		analyser: an,
		mono:     make([]float64, 256),
	}
	in := make([]float32, 512)
	for i := range in {
		in[i] = 0.3
	}

	b.ReportAllocs()
	for b.Loop() {
		m.process(in)
	}
}
