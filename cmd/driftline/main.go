// Package main provides the entry point for the driftline CLI.
package main

import (
	"os"

	"github.com/driftline/driftline/cmd/driftline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
