package repository

import "errors"

var (
	// ErrValidation is returned for input the backend would reject (empty or
	// oversized text, bad paging). It is never worth retrying.
	ErrValidation = errors.New("validation failed")
	// ErrAuth means the bearer credential is missing, expired or not allowed.
	ErrAuth = errors.New("not authorized")
	// ErrNetwork covers transport failures and server errors. Fetches may be retried.
	ErrNetwork = errors.New("network error")
	// ErrNotFound is returned when the discussion or thread does not exist.
	ErrNotFound = errors.New("not found")
)
