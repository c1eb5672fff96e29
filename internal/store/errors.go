package store

import (
	"context"
	"errors"
	"strings"

	nouserr "github.com/nousbase/nous/internal/errors"
)

// classifyStoreError maps driver-level failures onto the retryable taxonomy.
// Lock contention and timeouts are transient; everything else passes through
// unchanged so callers can inspect the original error.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nouserr.New(nouserr.ErrCodeStoreTimeout, "store operation timed out", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return nouserr.New(nouserr.ErrCodeStoreUnavailable, "store is busy", err)
	}
	return err
}
