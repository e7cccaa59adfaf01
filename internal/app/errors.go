package app

import (
	"context"
	"errors"

	apperrors "github.com/mengy007/evv-poc/internal/platform/errors"
)

// storageError classifies an unexpected repository failure. Cancellation by
// the caller is reported as-is; everything else is treated as transient I/O.
func storageError(msg string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.TransientError(msg, err)
}

func positiveID(field string, v int64) error {
	if v <= 0 {
		return apperrors.ValidationError(field+" must be a positive integer").WithField("field", field)
	}
	return nil
}
