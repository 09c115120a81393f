package registry

import "errors"

var (
	// ErrValidation is returned when an add lacks name or url, or when a
	// URL-changing update fails its probe.
	ErrValidation = errors.New("registry: validation failed")

	ErrDuplicateSource  = errors.New("registry: source already exists")
	ErrCapacityExceeded = errors.New("registry: source limit reached")
	ErrNotFound         = errors.New("registry: source not found")

	// ErrImportParse is returned when an import payload is not a JSON array.
	ErrImportParse = errors.New("registry: import payload is not an array")
)
