// Package x holds tiny generic helpers used across the app.
package x

import (
	"fmt"
	"os"
)

// Ternary returns a if cond is true, b otherwise.
func Ternary[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}

// GetUserHomeDir returns the current user's home directory.
func GetUserHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home dir: %w", err)
	}
	return home, nil
}

// Clamp limits v to the range [lo, hi].
func Clamp[T int | int64 | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
