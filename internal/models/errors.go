package models

import (
	"errors"
	"fmt"
)

// ErrConsistency marks fatal consistency violations: ledger corruption or an
// impossible broker state. Operations that detect one abort without writing;
// the condition must never be silently corrected.
var ErrConsistency = errors.New("consistency violation")

// Consistencyf builds an error matching ErrConsistency under errors.Is.
func Consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}

// IsConsistency reports whether err is a fatal consistency violation, as
// opposed to soft unavailability that callers retry on the next sync.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}
