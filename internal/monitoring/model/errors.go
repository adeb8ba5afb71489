package model

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups of unknown nodes or alerts. Check with errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundf wraps ErrNotFound with context about what was missing.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}
