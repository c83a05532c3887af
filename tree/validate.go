package tree

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength bounds a single path segment.
const MaxNameLength = 255

// ValidateName checks that name can be used as a single path segment.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds maximum length of %d", ErrInvalidName, MaxNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name contains invalid UTF-8", ErrInvalidName)
	}
	for _, r := range name {
		if r == '/' {
			return fmt.Errorf("%w: name contains forbidden character %q", ErrInvalidName, r)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control character", ErrInvalidName)
		}
	}
	return nil
}

// SplitPath splits a slash separated path into its non-empty segments.
func SplitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
