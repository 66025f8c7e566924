package storage

import (
	"fmt"
	"os"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ValidateAppend checks the arguments shared by every Append implementation.
func ValidateAppend(userID string, minutes int64) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrStorage)
	}
	if minutes < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidLength, minutes)
	}
	return nil
}

// Wrap marks err as a backend failure while keeping the original cause.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
