package hub

import (
	"net/http"

	"github.com/goliatone/go-auth-hub/social"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthenticated              = "unauthenticated"
	TextCodeLoginRequired                = "login_required"
	TextCodeServiceAuthRequired          = "service_auth_required"
	TextCodeForbidden                    = "forbidden"
	TextCodeNotRegistered                = "not_registered"
	TextCodeRegistrationClosed           = "registration_closed"
	TextCodeInvalidState                 = "invalid_state"
	TextCodeMissingCodeOrState           = "missing_code_or_state"
	TextCodeMissingClientInfo            = "missing_client_info"
	TextCodeNotLinked                    = "not_linked"
	TextCodeRefreshFailed                = "refresh_failed"
	TextCodeInvalidNonce                 = "invalid_nonce"
	TextCodeExpiredNonce                 = "expired_nonce"
	TextCodeMaxAttemptsReached           = "max_attempts_reached"
	TextCodeAlreadyLinked                = "already_linked"
	TextCodeInvalidExternalID            = "invalid_telegram_user_id"
	TextCodeTelegramVerificationRequired = "telegram_verification_required"
	TextCodeNoContent                    = "no_content"
	TextCodeNotFound                     = "not_found"
	TextCodeExchangeFailed               = "exchange_failed"
	TextCodeUpstreamUnavailable          = "upstream_unavailable"
	TextCodeInvalidToken                 = social.TextCodeInvalidToken
	TextCodeMissingSubject               = social.TextCodeMissingSubject
	TextCodeUnknownProvider              = "unknown_provider"
	TextCodeInvalidRequest               = "invalid_request"
	TextCodeInternal                     = "internal_error"
)

// ErrUnauthenticated is returned for bad, missing or expired sessions and
// shared secrets. It never says which check failed.
var ErrUnauthenticated = errors.New("unauthenticated", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrLoginRequired is returned when a session route has no bearer token.
var ErrLoginRequired = errors.New("login required", errors.CategoryAuth).
	WithTextCode(TextCodeLoginRequired).
	WithCode(errors.CodeUnauthorized)

// ErrServiceAuthRequired is returned when a service route has no valid credential.
var ErrServiceAuthRequired = errors.New("service authentication required", errors.CategoryAuth).
	WithTextCode(TextCodeServiceAuthRequired).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned when the caller is not entitled to the target resource.
var ErrForbidden = errors.New("forbidden", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

var ErrNotRegistered = errors.New("user not registered", errors.CategoryAuthz).
	WithTextCode(TextCodeNotRegistered).
	WithCode(errors.CodeForbidden)

var ErrRegistrationClosed = errors.New("registration closed", errors.CategoryAuthz).
	WithTextCode(TextCodeRegistrationClosed).
	WithCode(errors.CodeForbidden)

var ErrInvalidState = errors.New("invalid oauth state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

var ErrMissingCodeOrState = errors.New("missing code or state", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingCodeOrState).
	WithCode(errors.CodeBadRequest)

var ErrMissingClientInfo = errors.New("missing provider client credentials", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingClientInfo).
	WithCode(errors.CodeBadRequest)

var ErrNotLinked = errors.New("provider account not linked", errors.CategoryBadInput).
	WithTextCode(TextCodeNotLinked).
	WithCode(errors.CodeBadRequest)

// ErrRefreshFailed means the provider rejected the refresh token and the
// user has to link the account again.
var ErrRefreshFailed = errors.New("token refresh failed", errors.CategoryBadInput).
	WithTextCode(TextCodeRefreshFailed).
	WithCode(errors.CodeBadRequest)

var ErrInvalidNonce = errors.New("invalid nonce", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidNonce).
	WithCode(errors.CodeBadRequest)

var ErrExpiredNonce = errors.New("expired nonce", errors.CategoryBadInput).
	WithTextCode(TextCodeExpiredNonce).
	WithCode(errors.CodeBadRequest)

var ErrMaxAttemptsReached = errors.New("max attempts reached", errors.CategoryRateLimit).
	WithTextCode(TextCodeMaxAttemptsReached).
	WithCode(errors.CodeBadRequest)

// ErrAlreadyLinked is returned when a messaging handle belongs to another user.
var ErrAlreadyLinked = errors.New("handle already linked to another user", errors.CategoryConflict).
	WithTextCode(TextCodeAlreadyLinked).
	WithCode(errors.CodeConflict)

var ErrInvalidExternalID = errors.New("invalid external user id", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidExternalID).
	WithCode(errors.CodeBadRequest)

var ErrVerificationRequired = errors.New("messaging handle requires verification", errors.CategoryValidation).
	WithTextCode(TextCodeTelegramVerificationRequired).
	WithCode(errors.CodeBadRequest)

var ErrNoContent = errors.New("no content to publish", errors.CategoryBadInput).
	WithTextCode(TextCodeNoContent).
	WithCode(errors.CodeBadRequest)

var ErrNotFound = errors.New("record not found", errors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(errors.CodeNotFound)

var ErrExchangeFailed = errors.New("provider exchange failed", errors.CategoryOperation).
	WithTextCode(TextCodeExchangeFailed).
	WithCode(http.StatusBadGateway)

var ErrUpstreamUnavailable = errors.New("provider unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeUpstreamUnavailable).
	WithCode(http.StatusBadGateway)

var ErrInvalidToken = social.ErrInvalidToken

var ErrMissingSubject = social.ErrMissingSubject

var ErrUnknownProvider = errors.New("unknown provider", errors.CategoryNotFound).
	WithTextCode(TextCodeUnknownProvider).
	WithCode(errors.CodeNotFound)

var ErrInvalidRequest = errors.New("invalid request", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(errors.CodeBadRequest)

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// withMetadata clones a sentinel before attaching request specific details.
func withMetadata(base *errors.Error, meta map[string]any) *errors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// validationError turns an ozzo validation failure into ErrInvalidRequest.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	clone := ErrInvalidRequest.Clone()
	if clone == nil {
		clone = ErrInvalidRequest
	}
	clone.Source = err
	return clone.WithMetadata(map[string]any{"fields": err.Error()})
}

var ErrInternal = errors.New("internal error", errors.CategoryInternal).
	WithTextCode(TextCodeInternal).
	WithCode(errors.CodeInternal)
