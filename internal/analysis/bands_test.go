package analysis

import (
	"math"
	"testing"

	"beatline/internal/rhythm"
)

func TestBandsFromSpectrum(t *testing.T) {
	// 1025 bins is a 2048-point FFT, bin width 44100/2048 Hz.
	spec := make([]byte, 1025)
	spec[0] = 255 // DC must be ignored
	binWidth := 44100.0 / 2048.0
	for i := 1; i < len(spec); i++ {
		freq := float64(i) * binWidth
		switch {
		case freq >= 20 && freq < 250:
			spec[i] = 255
		case freq >= 250 && freq < 4000:
			spec[i] = 128
		}
	}

	b := BandsFromSpectrum(spec, 44100)
	if math.Abs(b.Bass-1) > 1e-9 {
		t.Errorf("bass %.4f, want 1.0", b.Bass)
	}
	if want := 128.0 / 255.0; math.Abs(b.Mid-want) > 1e-9 {
		t.Errorf("mid %.4f, want %.4f", b.Mid, want)
	}
	if b.Treble != 0 {
		t.Errorf("treble %.4f, want 0", b.Treble)
	}
}

func TestBandsDegenerateInput(t *testing.T) {
	tests := []struct {
		name string
		spec []byte
		rate float64
	}{
		{name: "nil spectrum", spec: nil, rate: 44100},
		{name: "single bin", spec: []byte{200}, rate: 44100},
		{name: "zero rate", spec: make([]byte, 65), rate: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BandsFromSpectrum(tt.spec, tt.rate); got != (rhythm.Bands{}) {
				t.Errorf("got %+v, want zero bands", got)
			}
		})
	}
}

func BenchmarkBandsFromSpectrum(b *testing.B) {
	spec := make([]byte, 1025)
	for i := range spec {
		spec[i] = byte(i % 251)
	}
	b.ReportAllocs()
	for b.Loop() {
		BandsFromSpectrum(spec, 44100)
	}
}
