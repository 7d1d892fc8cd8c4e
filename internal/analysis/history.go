package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// history is a fixed-capacity ring of recent observations. Once full,
// each push evicts the oldest value, keeping the statistics window
// bounded no matter how long the stream runs.
type history struct {
	values []float64
	next   int
	count  int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{values: make([]float64, capacity)}
}

func (h *history) Push(v float64) {
	h.values[h.next] = v
	h.next = (h.next + 1) % len(h.values)
	if h.count < len(h.values) {
		h.count++
	}
}

func (h *history) Len() int { return h.count }

func (h *history) Cap() int { return len(h.values) }

// Stats returns the mean and population standard deviation of the
// current window. Ring order does not matter for either statistic, so
// the backing slice is passed to gonum directly without reordering.
func (h *history) Stats() (mean, stddev float64) {
	if h.count == 0 {
		return 0, 0
	}
	window := h.values[:h.count]
	mean = stat.Mean(window, nil)
	if h.count > 1 {
		stddev = stat.PopStdDev(window, nil)
	}
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		mean = 0
	}
	if math.IsNaN(stddev) || math.IsInf(stddev, 0) {
		stddev = 0
	}
	return mean, stddev
}

func (h *history) Reset() {
	h.next = 0
	h.count = 0
}
