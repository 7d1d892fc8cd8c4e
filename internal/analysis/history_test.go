package analysis

import (
	"math"
	"testing"
)

func TestHistoryStats(t *testing.T) {
	h := newHistory(8)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		h.Push(v)
	}
	mean, stddev := h.Stats()
	if mean != 5 {
		t.Errorf("mean %.3f, want 5", mean)
	}
	if math.Abs(stddev-2) > 1e-12 {
		t.Errorf("population stddev %.6f, want 2", stddev)
	}
}

func TestHistoryEviction(t *testing.T) {
	h := newHistory(4)
	for _, v := range []float64{10, 1, 2, 3, 4} {
		h.Push(v)
	}
	if h.Len() != 4 {
		t.Fatalf("len %d, want 4", h.Len())
	}
	mean, _ := h.Stats()
	if mean != 2.5 {
		t.Errorf("mean %.3f after eviction, want 2.5", mean)
	}
}

func TestHistoryEmpty(t *testing.T) {
	h := newHistory(4)
	if mean, stddev := h.Stats(); mean != 0 || stddev != 0 {
		t.Errorf("empty stats = (%.3f, %.3f), want zeros", mean, stddev)
	}
	if h.Len() != 0 {
		t.Errorf("len %d, want 0", h.Len())
	}
}

func TestHistoryReset(t *testing.T) {
	h := newHistory(4)
	h.Push(3)
	h.Push(7)
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("len %d after reset, want 0", h.Len())
	}
	h.Push(1)
	if mean, _ := h.Stats(); mean != 1 {
		t.Errorf("mean %.3f after reset and one push, want 1", mean)
	}
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := newHistory(0)
	if h.Cap() != DefaultHistorySize {
		t.Errorf("cap %d, want default %d", h.Cap(), DefaultHistorySize)
	}
}
