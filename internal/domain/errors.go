package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("fragment not found")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrDependencyTimeout    = errors.New("dependency timeout")
	ErrDimensionMismatch    = errors.New("vector dimension mismatch")
)

// IsTimeout reports whether err came from an expired deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDependencyTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify wraps a collaborator error into the taxonomy. Errors that already
// carry a sentinel are returned untouched; timeouts become ErrDependencyTimeout
// and everything else becomes fallback.
func Classify(op string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrInvalidInput, ErrNotFound, ErrEmbeddingUnavailable, ErrDependencyTimeout, ErrDimensionMismatch} {
		if errors.Is(err, known) {
			return err
		}
	}
	if IsTimeout(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrDependencyTimeout, err)
	}
	if fallback == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, fallback, err)
}
