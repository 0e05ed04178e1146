// Package security provides validation, sanitization, and limits for the taskqueue package.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jakke/taskqueue/pkg/core"
)

// Limits and configuration
const (
	// MaxTaskNameLength is the maximum length for task names
	MaxTaskNameLength = 255

	// MaxInputSize is the maximum size in bytes for job input (1MB)
	MaxInputSize = 1 << 20

	// MaxThreads is the hard limit for MultiProcessor worker budgets
	MaxThreads = 1000

	// MaxOutputLength is the maximum length for stored diagnostic output
	MaxOutputLength = 4096
)

// validTaskName matches alphanumeric, hyphens, underscores, and dots
var validTaskName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateTaskName validates a task name
func ValidateTaskName(name string) error {
	if name == "" {
		return core.ErrInvalidTaskName
	}
	if len(name) > MaxTaskNameLength {
		return core.ErrTaskNameTooLong
	}
	if !validTaskName.MatchString(name) {
		return core.ErrInvalidTaskName
	}
	return nil
}

// ValidateInput enforces the job input size limit
func ValidateInput(input []byte) error {
	if len(input) > MaxInputSize {
		return core.ErrInputTooLarge
	}
	return nil
}

// SanitizeDiagnostic truncates and sanitizes diagnostic strings before they
// are written to a job's terminal output
func SanitizeDiagnostic(msg string) string {
	if msg == "" {
		return ""
	}

	// Strip null bytes and control characters (except newlines/tabs)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxOutputLength {
		runes := []rune(result)
		result = string(runes[:MaxOutputLength-3]) + "..."
	}

	return result
}

// ClampThreads ensures a worker budget is within limits
func ClampThreads(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxThreads {
		return MaxThreads
	}
	return n
}
