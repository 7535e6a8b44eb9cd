// Package errors defines the sentinel errors shared across modules.
package errors

import "errors"

var (
	// ErrMissingChannels is returned when no notification channel is configured.
	ErrMissingChannels = errors.New("at least one notify URL is required")

	// ErrCookiesNotFound is returned when the exported cookies file is missing.
	ErrCookiesNotFound = errors.New("cookies file not found")

	// ErrCredentialExpired is returned when the Patreon session cookies no
	// longer authenticate (upstream answers 401/403).
	ErrCredentialExpired = errors.New("patreon session cookies have expired")

	// ErrAuthFailed is returned for authentication failures other than
	// missing or expired credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnsupportedChannel is returned for notify URLs with an unknown scheme.
	ErrUnsupportedChannel = errors.New("unsupported notification channel")
)
