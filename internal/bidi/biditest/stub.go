package biditest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// StubClicker writes an executable standing in for the clicker binary. It
// announces s as its endpoint, exits on SIGTERM, and records its arguments
// in the returned args file.
func StubClicker(t testing.TB, s *Server) (binary, argsFile string) {
	t.Helper()
	return writeStub(t, s, `trap 'exit 0' TERM`)
}

// StubClickerIgnoringTERM is StubClicker for a hung clicker: SIGTERM is
// ignored, so only SIGKILL ends it.
func StubClickerIgnoringTERM(t testing.TB, s *Server) (binary, argsFile string) {
	t.Helper()
	return writeStub(t, s, `trap '' TERM`)
}

func writeStub(t testing.TB, s *Server, trap string) (binary, argsFile string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	binary = filepath.Join(dir, "clicker")
	argsFile = filepath.Join(dir, "args")

	script := fmt.Sprintf(`#!/bin/sh
echo "$@" > %q
%s
echo "Starting clicker"
echo "Server listening on ws://%s"
while true; do sleep 0.05; done
`, argsFile, trap, s.Addr())

	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub clicker: %v", err)
	}
	return binary, argsFile
}
