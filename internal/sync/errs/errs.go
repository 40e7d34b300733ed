// Package errs names the error-kind taxonomy from spec §7. Kinds are
// sentinel-wrapped values, not distinct types, so callers can test with
// errors.Is while still carrying a specific message via %w.
package errs

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", KindX) to attach context
// while keeping errors.Is(err, KindX) true.
var (
	// PermanentInputError: the parser could not produce a valid record.
	// The record is skipped; the job continues.
	PermanentInputError = errors.New("permanent input error")

	// MirrorMissing: mirror validation failed before any work began.
	MirrorMissing = errors.New("mirror missing")

	// TransientDbError: the current operation aborts; callers decide
	// whether to propagate or retry.
	TransientDbError = errors.New("transient database error")

	// Conflict: expected on re-imports, silently absorbed.
	Conflict = errors.New("conflict")

	// CancelledByUser: terminal, no checkpoint advance.
	CancelledByUser = errors.New("job cancelled by user")

	// Corruption: cache version mismatch or malformed manifest.
	Corruption = errors.New("corruption")
)

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}
