// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the taper applied before the FFT.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	default:
		return "unknown"
	}
}

// ParseWindowFunc converts a name, case insensitively, to a WindowFunc.
// Unknown names return Hann along with an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function %q", name)
	}
}

// coefficients fills dst with the window's taper. The slice is seeded
// with ones first because the gonum window functions multiply in place.
func (w WindowFunc) coefficients(dst []float64) {
	for i := range dst {
		dst[i] = 1.0
	}
	switch w {
	case BartlettHann:
		window.BartlettHann(dst)
	case Blackman:
		window.Blackman(dst)
	case BlackmanNuttall:
		window.BlackmanNuttall(dst)
	case Hamming:
		window.Hamming(dst)
	case Lanczos:
		window.Lanczos(dst)
	case Nuttall:
		window.Nuttall(dst)
	default:
		window.Hann(dst)
	}
}
