package disclosure

import "errors"

var (
	// ErrRegistryUnavailable means the market registry could not be loaded and
	// market filtering is skipped for the run.
	ErrRegistryUnavailable = errors.New("market registry unavailable")
	// ErrObjectExists is returned by create-only writes when the key is taken.
	ErrObjectExists = errors.New("object already exists")
	// ErrInvalidDate rejects trigger dates that are not YYYYMMDD.
	ErrInvalidDate = errors.New("invalid date")
)
