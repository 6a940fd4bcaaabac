// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Verification codes distinguish "request a new code" (code_not_found,
//     code_expired, too_many_attempts) from "try again" (invalid_code).
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_code",
//	  "message": "the code is incorrect; 2 attempts remaining"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Verification:
	ErrCodeInvalidRecipient     = "invalid_recipient"
	ErrCodeInvalidCodeFormat    = "invalid_code_format"
	ErrCodeUnsupportedMessenger = "unsupported_messenger"
	ErrCodeResendTooSoon        = "resend_too_soon"
	ErrCodeCodeNotFound         = "code_not_found"
	ErrCodeCodeExpired          = "code_expired"
	ErrCodeTooManyAttempts      = "too_many_attempts"
	ErrCodeInvalidCode          = "invalid_code"
	ErrCodeCodeNotDelivered     = "code_not_delivered"
	ErrCodeDeliveryFailed       = "delivery_failed"
	ErrCodeProfileUpdateFailed  = "profile_update_failed"

	// Guides:
	ErrCodeCreateFailed = "create_failed"
	ErrCodeListFailed   = "list_failed"
)
