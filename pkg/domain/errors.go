package domain

import "errors"

// Error kinds. Concrete errors below wrap one of these so callers can
// branch with errors.Is on the kind alone.
var (
	ErrNotFound           = errors.New("not found")
	ErrExpired            = errors.New("expired")
	ErrAttemptsExhausted  = errors.New("too many failed attempts")
	ErrMismatch           = errors.New("code mismatch")
	ErrRateLimited        = errors.New("rate limited")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDispatchFailure    = errors.New("email dispatch failed")
)

// Account errors
var (
	ErrUserNotFound       = wrapKind(ErrNotFound, "user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = wrapKind(ErrNotFound, "session not found")
	ErrInvalidToken       = errors.New("invalid token")
	ErrEmailNotVerified   = wrapKind(ErrPreconditionFailed, "email not verified")
)

// Email verification errors
var (
	ErrVerificationNotFound          = wrapKind(ErrNotFound, "verification code not found")
	ErrVerificationExpired           = wrapKind(ErrExpired, "verification code expired")
	ErrVerificationAttemptsExhausted = wrapKind(ErrAttemptsExhausted, "verification code attempts exhausted")
	ErrVerificationMismatch          = wrapKind(ErrMismatch, "verification code mismatch")
	ErrVerificationAlreadyUsed       = wrapKind(ErrNotFound, "verification code already used")
	ErrUnknownPurpose                = errors.New("unknown verification purpose")
	ErrResendTooSoon                 = wrapKind(ErrRateLimited, "Please wait at least 1 minute before requesting a new code.")
)

// MFA errors
var (
	ErrMFANotConfigured        = wrapKind(ErrNotFound, "MFA is not configured for this account")
	ErrTOTPAlreadyEnabled      = wrapKind(ErrPreconditionFailed, "TOTP is already enabled")
	ErrTOTPNotPending          = wrapKind(ErrPreconditionFailed, "TOTP setup has not been started")
	ErrTOTPNotEnabled          = wrapKind(ErrPreconditionFailed, "TOTP is not enabled")
	ErrEmailMFAAlreadyEnabled  = wrapKind(ErrPreconditionFailed, "email MFA is already enabled")
	ErrEmailMFANotEnabled      = wrapKind(ErrPreconditionFailed, "email MFA is not enabled")
	ErrMFANotEnabled           = wrapKind(ErrPreconditionFailed, "MFA is not enabled for this account")
	ErrInvalidVerificationCode = errors.New("the verification code is invalid")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func wrapKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
