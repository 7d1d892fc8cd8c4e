// SPDX-License-Identifier: MIT
package main

import (
	"runtime"

	"beatline/cmd"
	applog "beatline/internal/log"
	"beatline/internal/source"
)

func main() {
	// Two scheduler threads are plenty: the tick loop on one, UI and
	// transports on the other. The capture callback lives on a
	// PortAudio-owned thread either way.
	runtime.GOMAXPROCS(2)

	// A machine without a usable audio stack can still run the track
	// and simulate commands; microphone acquisition classifies the
	// failure and engages the fallback instead of aborting.
	if err := source.Initialize(); err != nil {
		applog.Warnf("Main: audio subsystem unavailable: %v", err)
	} else {
		defer source.Terminate()
	}

	if err := cmd.Execute(); err != nil {
		applog.Fatalf("Main: %v", err)
	}
}
