// Package errdefs defines the error taxonomy shared by the control plane.
// Callers classify failures with errors.Is against these sentinels; the
// concrete message is carried by wrapping with fmt.Errorf and %w.
package errdefs

import "errors"

var (
	// ErrInvalidConfig marks rejected configuration input, such as an
	// unknown role name or an out-of-range threshold.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound marks queries for agents or proposals that have never
	// been seen.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited marks trigger attempts blocked by an active cooldown
	// or by the daily trigger cap.
	ErrRateLimited = errors.New("rate limited")

	// ErrStore marks persistence backend failures.
	ErrStore = errors.New("store failure")
)
