package cli

import (
	"fmt"
	"runtime"
)

// Version is the toolchain release. Release builds override it with
// -ldflags "-X github.com/cinder-lang/cinder/internal/cli.Version=...".
var Version = "0.1.0-dev"

// Banner returns the one-line --version output shared by the tools.
func Banner(tool string) string {
	return fmt.Sprintf("%s %s (%s %s/%s)", tool, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
