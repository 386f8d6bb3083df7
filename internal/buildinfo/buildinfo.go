// Package buildinfo holds the version stamped into stores and printed by the CLIs.
package buildinfo

import (
	"os"
	"os/user"
)

// Version is overridden at build time with
// -ldflags "-X github.com/denismitr/pado/internal/buildinfo.Version=..."
var Version = "0.1.0"

// CurrentUser is the login name recorded as creator of datasets and stores.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
