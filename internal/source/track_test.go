package source

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"beatline/internal/config"
)

var testBase = time.Unix(1700000000, 0)

func testCapture() config.Capture {
	cfg := config.Defaults().Capture
	cfg.WindowSize = 1024
	return cfg
}

// writeWAV renders samples to a 16-bit WAV file, duplicating the value
// across channels.
func writeWAV(t *testing.T, path string, rate, channels int, left, right []float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           make([]int, len(left)*channels),
		SourceBitDepth: 16,
	}
	for i := range left {
		buf.Data[i*channels] = int(left[i] * 32767)
		if channels == 2 {
			buf.Data[i*channels+1] = int(right[i] * 32767)
		}
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func constant(n int, level float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestLoadTrackWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeWAV(t, path, 8000, 1, constant(8000, 0.5), nil)

	track, err := LoadTrack(path, testCapture())
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
	defer track.Close()

	if track.rate != 8000 {
		t.Errorf("rate = %.0f, want 8000", track.rate)
	}
	if len(track.samples) != 8000 {
		t.Errorf("decoded %d samples, want 8000", len(track.samples))
	}
	if math.Abs(track.samples[100]-0.5) > 1e-3 {
		t.Errorf("sample = %.5f, want 0.5 within 16-bit precision", track.samples[100])
	}
	if track.Kind().String() != "track" {
		t.Errorf("kind = %s, want track", track.Kind())
	}
	if track.Label() != "mono.wav" {
		t.Errorf("label = %q, want mono.wav", track.Label())
	}
}

func TestLoadTrackStereoFold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 8000, 2, constant(4000, 0.8), constant(4000, 0.4))

	track, err := LoadTrack(path, testCapture())
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
	defer track.Close()

	if len(track.samples) != 4000 {
		t.Fatalf("decoded %d mono samples, want 4000", len(track.samples))
	}
	if math.Abs(track.samples[500]-0.6) > 1e-3 {
		t.Errorf("folded sample = %.5f, want channel average 0.6", track.samples[500])
	}
}

func TestTrackFrameFollowsWallClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeWAV(t, path, 8000, 1, constant(8000, 0.4), nil)

	track, err := LoadTrack(path, testCapture())
	if err != nil {
		t.Fatalf("LoadTrack: %v", err)
	}
	defer track.Close()
	if err := track.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := track.Frame(testBase)
	for i, s := range first.Samples {
		if s != 0 {
			t.Fatalf("sample %d = %v before any playback elapsed", i, s)
		}
	}

	mid := track.Frame(testBase.Add(500 * time.Millisecond))
	for i, s := range mid.Samples {
		if math.Abs(s-0.4) > 1e-3 {
			t.Fatalf("sample %d = %.5f at 500ms, want 0.4", i, s)
		}
	}
	if track.pos != 4000 {
		t.Errorf("playhead = %d, want 4000", track.pos)
	}
	if track.Finished() {
		t.Error("track reported finished at the midpoint")
	}

	after := track.Frame(testBase.Add(3 * time.Second))
	for i, s := range after.Samples {
		if s != 0 {
			t.Fatalf("sample %d = %v past the end, want silence", i, s)
		}
	}
	if !track.Finished() {
		t.Error("track should report finished past the end")
	}
}

func TestLoadTrackErrors(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("not audio at all"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing file", filepath.Join(dir, "missing.wav"), "no such file"},
		{"unsupported extension", filepath.Join(dir, "tone.ogg"), "unsupported track format"},
		{"invalid wav", garbage, "not a valid WAV file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTrack(tt.path, testCapture())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}
