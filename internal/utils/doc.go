// Package utils provides shared helper functions.
package utils

import (
	"fmt"
	"os"
	"time"
)

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// TruncateString truncates a string to maxLen, adding suffix if truncated.
func TruncateString(s string, maxLen int, suffix string) string {
	if len(s) <= maxLen {
		return s
	}
	if suffix == "" {
		suffix = "..."
	}
	cutoff := maxLen - len(suffix)
	if cutoff < 0 {
		cutoff = 0
	}
	return s[:cutoff] + suffix
}

// FormatMillis renders a duration as fractional milliseconds, e.g. "1.250ms".
func FormatMillis(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}
