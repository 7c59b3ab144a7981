// Package internal holds build information of the DreamBig binaries.
package internal

import (
	"runtime/debug"
	"time"
)

// Build information, read from the vcs settings embedded by the Go toolchain.
var (
	BuildRevision      = "unknown"
	BuildRevisionTime  = time.Time{}
	BuildLocalModified = "unknown"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	readBuildSettings(info.Settings)
}

func readBuildSettings(settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			BuildRevision = setting.Value
		case "vcs.time":
			t, err := time.Parse(time.RFC3339, setting.Value)
			if err == nil {
				BuildRevisionTime = t
			}
		case "vcs.modified":
			BuildLocalModified = setting.Value
		}
	}
}

// Version identifies the build: a short revision, suffixed with "-dirty"
// when the binary was built from a modified working tree.
func Version() string {
	v := BuildRevision
	if len(v) > 12 {
		v = v[:12]
	}

	if BuildLocalModified == "true" {
		v += "-dirty"
	}

	return v
}
