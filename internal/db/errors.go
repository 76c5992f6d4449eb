package db

import "errors"

// Sentinel errors for type-safe error checking
// Use errors.Is() instead of string comparison
var (
	// File errors
	ErrFileNotFound = errors.New("file not found")
	ErrForbidden    = errors.New("forbidden")

	// Stats errors
	ErrStatsNotFound = errors.New("stats not computed")

	// API key errors
	ErrAPIKeyNotFound   = errors.New("API key not found")
	ErrAPIKeyNameExists = errors.New("API key with this name already exists")
)
