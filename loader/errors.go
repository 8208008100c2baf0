package loader

import "errors"

// Sentinel errors for the Object Loader, matching the taxonomy in spec.md §4.1.
var (
	// ErrInvalidIdentifier is returned by Identify when the object is not
	// addressable by a stable name (an anonymous closure, a local function).
	ErrInvalidIdentifier = errors.New("object is not addressable by a stable identifier")

	// ErrMalformedIdentifier is returned by Load when the identifier string
	// does not parse into a registry key.
	ErrMalformedIdentifier = errors.New("malformed identifier")

	// ErrModuleLoad is returned by Load when the identifier's package has no
	// registered entries at all (the Go analogue of "module cannot be imported").
	ErrModuleLoad = errors.New("no entries registered for package")

	// ErrAttributeLookup is returned by Load when the identifier's package is
	// known but the named symbol is not registered under it.
	ErrAttributeLookup = errors.New("identifier not found in registry")
)
