package ism

import "errors"

// Errors carry the protocol's revert reasons so callers and logs can match
// them against other implementations.
var (
	ErrDecode            = errors.New("ism: malformed metadata")
	ErrMerkleMismatch    = errors.New("ism: !merkle")
	ErrNoValidatorSet    = errors.New("ism: no validator set")
	ErrSignatureMismatch = errors.New("ism: !signatures")
	ErrZeroAddress       = errors.New("ism: zero address")
	ErrAlreadyEnrolled   = errors.New("ism: enrolled")
	ErrNotEnrolled       = errors.New("ism: !enrolled")
	ErrInvalidThreshold  = errors.New("ism: !range")
	ErrLengthMismatch    = errors.New("ism: !length")
)
