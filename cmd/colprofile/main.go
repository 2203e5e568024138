// colprofile regenerates the elevation profiles of a col catalogue.
//
// Build with version information:
//
//	go build -ldflags "-X github.com/velocols/colprofile/internal/version.Version=v0.4.0 \
//	  -X github.com/velocols/colprofile/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	  ./cmd/colprofile
package main

import (
	"os"

	"github.com/velocols/colprofile/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
