// SPDX-License-Identifier: MIT
//
// Package build exposes version metadata injected at link time. Release
// builds set the variables below through -ldflags; anything left unset
// identifies a development build.
package build

import "fmt"

// Populated via, for example:
//
//	go build -ldflags "\
//	  -X beatline/pkg/build.version=v0.3.0 \
//	  -X beatline/pkg/build.commit=$(git rev-parse --short HEAD) \
//	  -X beatline/pkg/build.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Info is the resolved build metadata for this binary.
type Info struct {
	Version string
	Commit  string
	Date    string
}

// Get returns the metadata baked into this binary.
func Get() Info {
	return Info{Version: version, Commit: commit, Date: date}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.Commit, i.Date)
}
