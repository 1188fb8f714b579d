// Package version holds build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag, set via -ldflags.
	GitRelease = "dev"
	// GitCommit is the commit hash, set via -ldflags.
	GitCommit = "unknown"
	// GitCommitDate is the commit date, set via -ldflags.
	GitCommitDate = "unknown"
)

// GoInfo describes the toolchain and platform the binary was built with.
var GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
