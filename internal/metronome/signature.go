package metronome

import "beatline/internal/rhythm"

// Signature describes one entry in the fallback catalog: a tempo, an
// energy curve the synthesizer walks beat by beat, a base band mix and
// presentation hints for renderers.
type Signature struct {
	ID           string
	Label        string
	BPM          float64
	Bands        rhythm.Bands
	EnergyCurve  []float64
	LevelPattern []int
	PaletteHue   float64
	Mood         string
}

// Catalog returns the built-in fallback signatures. The synthesizer
// walks them in order once a curve is exhausted, so adjacent entries are
// arranged to contrast with each other.
func Catalog() []Signature {
	return []Signature{
		{
			ID:           "steady-four",
			Label:        "Steady Four",
			BPM:          120,
			Bands:        rhythm.Bands{Bass: 0.72, Mid: 0.48, Treble: 0.30},
			EnergyCurve:  []float64{0.92, 0.50, 0.70, 0.50},
			LevelPattern: []int{2, 1, 2, 1},
			PaletteHue:   210,
			Mood:         "driving",
		},
		{
			ID:           "half-time-haze",
			Label:        "Half-Time Haze",
			BPM:          85,
			Bands:        rhythm.Bands{Bass: 0.80, Mid: 0.35, Treble: 0.22},
			EnergyCurve:  []float64{0.95, 0.30, 0.45, 0.30, 0.62, 0.30, 0.45, 0.30},
			LevelPattern: []int{3, 0, 1, 0, 2, 0, 1, 0},
			PaletteHue:   280,
			Mood:         "dreamy",
		},
		{
			ID:           "floor-filler",
			Label:        "Floor Filler",
			BPM:          128,
			Bands:        rhythm.Bands{Bass: 0.85, Mid: 0.55, Treble: 0.45},
			EnergyCurve:  []float64{0.95, 0.60, 0.80, 0.60},
			LevelPattern: []int{3, 2, 3, 2},
			PaletteHue:   330,
			Mood:         "euphoric",
		},
		{
			ID:           "breakbeat-cut",
			Label:        "Breakbeat Cut",
			BPM:          140,
			Bands:        rhythm.Bands{Bass: 0.68, Mid: 0.60, Treble: 0.52},
			EnergyCurve:  []float64{0.90, 0.35, 0.60, 0.85, 0.40, 0.70},
			LevelPattern: []int{3, 1, 2, 3, 1, 2},
			PaletteHue:   20,
			Mood:         "jittery",
		},
		{
			ID:           "waltz-drift",
			Label:        "Waltz Drift",
			BPM:          96,
			Bands:        rhythm.Bands{Bass: 0.55, Mid: 0.60, Treble: 0.35},
			EnergyCurve:  []float64{0.88, 0.42, 0.42},
			LevelPattern: []int{2, 1, 1},
			PaletteHue:   150,
			Mood:         "floating",
		},
		{
			ID:           "slow-pulse",
			Label:        "Slow Pulse",
			BPM:          72,
			Bands:        rhythm.Bands{Bass: 0.62, Mid: 0.30, Treble: 0.18},
			EnergyCurve:  []float64{0.85, 0.25},
			LevelPattern: []int{2, 0},
			PaletteHue:   240,
			Mood:         "calm",
		},
		{
			ID:           "double-time-rush",
			Label:        "Double-Time Rush",
			BPM:          160,
			Bands:        rhythm.Bands{Bass: 0.70, Mid: 0.65, Treble: 0.60},
			EnergyCurve:  []float64{0.92, 0.55, 0.75, 0.55},
			LevelPattern: []int{3, 2, 3, 2},
			PaletteHue:   0,
			Mood:         "urgent",
		},
		{
			ID:           "syncopated-sway",
			Label:        "Syncopated Sway",
			BPM:          110,
			Bands:        rhythm.Bands{Bass: 0.66, Mid: 0.52, Treble: 0.38},
			EnergyCurve:  []float64{0.86, 0.40, 0.66, 0.90, 0.36, 0.60, 0.44, 0.70},
			LevelPattern: []int{2, 1, 2, 3, 0, 2, 1, 2},
			PaletteHue:   45,
			Mood:         "swaying",
		},
	}
}
