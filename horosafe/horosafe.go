// Package horosafe holds the small input-safety helpers shared by the
// watchdog: topic validation, path guards for per-account directories, and
// bounded reads of remote bodies.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxResponseBody is the default cap for relay response bodies (1 MiB).
const MaxResponseBody int64 = 1 << 20

// MaxTopicLen matches the public relay's topic limit.
const MaxTopicLen = 64

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrResponseTooLarge is returned by LimitedReadAll when the limit is hit.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// SafePath joins base and userInput and rejects results that escape base.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateTopic rejects relay topic names the public relay would refuse:
// empty, longer than MaxTopicLen, or containing anything but ASCII
// letters, digits, '-' and '_'.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("horosafe: topic must not be empty")
	}
	if len(topic) > MaxTopicLen {
		return fmt.Errorf("horosafe: topic too long (max %d)", MaxTopicLen)
	}
	for _, r := range topic {
		if !isTopicChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in topic", r)
		}
	}
	return nil
}

// SanitizeSegment reduces s to letters, digits, '-' and '_' so it can be
// used as a single directory name. It returns fallback when nothing is left.
func SanitizeSegment(s, fallback string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

func isTopicChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-'
}
