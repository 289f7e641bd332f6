package auth

import (
	"errors"
	"fmt"
)

// ErrNoCredential is returned when a request carries no credential at all.
var ErrNoCredential = errors.New("no credential provided")

// ErrInvalidCredential is the root of every "the caller presented a bad credential"
// error. Validators wrap it so the Authenticator can classify with errors.Is.
var ErrInvalidCredential = errors.New("invalid credential")

// Specific invalid-credential causes. All match ErrInvalidCredential with errors.Is.
var (
	ErrMalformedCredential = fmt.Errorf("%w: malformed", ErrInvalidCredential)
	ErrExpiredCredential   = fmt.Errorf("%w: expired", ErrInvalidCredential)
	ErrSignatureInvalid    = fmt.Errorf("%w: signature verification failed", ErrInvalidCredential)
	ErrRevokedCredential   = fmt.Errorf("%w: revoked", ErrInvalidCredential)
	ErrUnknownCredential   = fmt.Errorf("%w: unknown", ErrInvalidCredential)
	ErrValidationTimeout   = fmt.Errorf("%w: validation timed out", ErrInvalidCredential)
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")
