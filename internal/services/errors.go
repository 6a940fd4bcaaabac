// Package services defines the business logic for verification and guides.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Verification failures are not listed here: the flows return
// *verification.Error values whose Kind is a verification sentinel, and the
// services pass them through unchanged.
package services

import "errors"

var (
	// ErrUnsupportedMessenger is returned when the client names a messenger
	// that this deployment does not serve.
	ErrUnsupportedMessenger = errors.New("unsupported messenger")

	// ErrHandleRequired is returned by Telegram operations called without a
	// handle.
	ErrHandleRequired = errors.New("telegram username is required")

	// ErrProfileUpdate wraps a failure to store a verified identifier after
	// the code itself was accepted and consumed.
	ErrProfileUpdate = errors.New("update profile")

	// ErrGuideNotFound indicates that the requested guide does not exist or
	// is not accessible to the current user.
	ErrGuideNotFound = errors.New("guide not found")

	// ErrEmptyTitle is returned when a guide is created without a title.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrTitleTooLong is returned when a guide title exceeds the limit.
	ErrTitleTooLong = errors.New("title too long")

	// ErrInvalidLimit is returned for a popular-tags limit outside 1..100.
	ErrInvalidLimit = errors.New("limit must be between 1 and 100")
)
