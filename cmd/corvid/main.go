// Command corvid boots the MCP server core described by the runtime's
// internal packages: Content Store, JSONL Stream Engine, Binary Locator,
// Process Registry, Session Supervisor, Checkpoint Manager, and MCP
// Frontend. It does not implement MCP wire transport framing itself — that
// is an external collaborator this binary exists to be driven by.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		var exitErr *ExitCodeError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "corvid: %v\n", exitErr.Err)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "corvid: %v\n", err)
		os.Exit(exitInternal)
	}
}
