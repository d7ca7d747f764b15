package model

import "errors"

var (
	// ErrMalformedSubmission is returned by the admission gate when a required field is missing or unusable.
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrSignatureInvalid is returned by the admission gate when the payload signature does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrInvariantViolation marks a mutation the core refuses to perform.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrStorageFailure wraps ledger errors surfaced to callers.
	ErrStorageFailure = errors.New("storage failure")
)
