package main

import (
	"fmt"
	"os"

	"github.com/tphakala/streamsplit/cmd"
	"github.com/tphakala/streamsplit/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	build := buildinfo.NewContext(version, buildDate, "")

	if err := cmd.RootCommand(build).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
