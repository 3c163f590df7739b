package keyvalue

import "errors"

var (
	// ErrUnsupportedScheme indicates that no backend is registered for the store URL scheme.
	ErrUnsupportedScheme = errors.New("keyvalue.unsupported_scheme")
	// ErrEmptyKey indicates that an operation was attempted with a blank key.
	ErrEmptyKey = errors.New("keyvalue.empty_key")

	errEmptyStoreURL       = errors.New("keyvalue.empty_store_url")
	errSQLiteEmptyPath     = errors.New("keyvalue.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("keyvalue.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("keyvalue.unsupported_no_scheme")
)
