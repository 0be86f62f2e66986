package application

import "errors"

var (
	// ErrChargeNotFound is returned when no charge record exists for a key.
	ErrChargeNotFound = errors.New("charge run: charge record not found")
	// ErrRunCancelled is returned when a run is cancelled between batches.
	ErrRunCancelled = errors.New("charge run: cancelled")
)
