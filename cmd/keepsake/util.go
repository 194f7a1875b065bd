package main

import (
	"fmt"
	"path/filepath"
)

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return filepath.Clean(abs), nil
}
