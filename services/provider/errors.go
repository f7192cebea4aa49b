package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrNoFiles indicates a code-gen response with zero valid file entries.
	ErrNoFiles = errors.New("code-gen response contained no valid files")

	// ErrEmptyResponse indicates the model returned no content at all.
	ErrEmptyResponse = errors.New("provider returned empty response")

	// ErrMissingAPIKey indicates no API key was configured.
	ErrMissingAPIKey = errors.New("provider api key not set")
)
