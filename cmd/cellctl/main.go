// Package main is the entry point for the cellplane CLI.
// cellctl is the operator terminal tool for inspecting and driving a
// document's execution queue.
package main

import (
	"os"

	"cellplane/cmd/cellctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
