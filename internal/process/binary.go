package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// EnvClickerPath names the environment variable that overrides binary discovery.
const EnvClickerPath = "CLICKER_PATH"

// ErrBinaryNotFound is returned when no clicker binary can be located.
var ErrBinaryNotFound = errors.New("clicker binary not found")

// ResolveBinary returns the clicker binary to run.
//
// Search order:
//  1. explicit, when non-empty
//  2. $CLICKER_PATH, when it names an existing file
//  3. "clicker" on $PATH
//  4. clicker/bin/clicker relative to the working directory (development checkouts)
func ResolveBinary(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if envPath := os.Getenv(EnvClickerPath); envPath != "" {
		if fileExists(envPath) {
			return envPath, nil
		}
	}

	if path, err := exec.LookPath("clicker"); err == nil {
		return path, nil
	}

	if wd, err := os.Getwd(); err == nil {
		for _, rel := range []string{"clicker/bin/clicker", "../clicker/bin/clicker"} {
			candidate := filepath.Join(wd, rel)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%w: set %s or put clicker on PATH", ErrBinaryNotFound, EnvClickerPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
