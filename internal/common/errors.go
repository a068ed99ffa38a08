// Package common defines shared constants and sentinel errors used across
// the licensing server and the admin console. Callers should use errors.Is
// to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrConflict)

	// Service-level errors.
	ErrorInternal   = errors.New("internal error")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidCode  = fmt.Errorf("%w: invalid redeem code", ErrInvalidInput)

	// Auth errors.
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidCredentials  = fmt.Errorf("%w: invalid username or password", ErrUnauthenticated)
	ErrInvalidToken        = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrTokenExpired        = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrForbidden           = errors.New("forbidden")
	ErrInsufficientScope   = fmt.Errorf("%w: admin scope required", ErrForbidden)
	ErrBackupNotConfigured = errors.New("backup storage is not configured")

	// Licensing decisions. All of them are forbidden outcomes.
	ErrQuotaExceeded   = fmt.Errorf("%w: trial quota for this machine is exhausted", ErrForbidden)
	ErrWrongMachine    = fmt.Errorf("%w: account was registered on another machine", ErrForbidden)
	ErrMachineMismatch = fmt.Errorf("%w: account is bound to another machine", ErrForbidden)
	ErrTrialExpired    = fmt.Errorf("%w: trial period has ended", ErrForbidden)
	ErrExpired         = fmt.Errorf("%w: license has expired", ErrForbidden)
)
