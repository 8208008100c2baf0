package bundle

import "errors"

// Sentinel errors for Bundle and Savable decoding, per spec.md §4.2.
var (
	// ErrBundleFormat covers a missing meta.class_name, an unknown field
	// type hint, or any other structurally malformed Bundle.
	ErrBundleFormat = errors.New("malformed bundle")

	// ErrCrossInstanceMethod is returned when a Savable attempts to persist
	// a method field whose receiver is not the Savable instance itself.
	ErrCrossInstanceMethod = errors.New("method field receiver is not the owning instance")
)
