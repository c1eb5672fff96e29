// Package main provides the entry point for the nousd server.
package main

import (
	"os"

	"github.com/nousbase/nous/cmd/nousd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
