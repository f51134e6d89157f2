package social

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidToken   = "invalid_token"
	TextCodeMissingSubject = "missing_subject"
)

// ErrInvalidToken is returned when an identity token fails issuer,
// audience, signature or nonce checks.
var ErrInvalidToken = errors.New("invalid identity token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(errors.CodeUnauthorized)

// ErrMissingSubject is returned when a provider profile lacks a subject.
var ErrMissingSubject = errors.New("provider profile has no subject", errors.CategoryOperation).
	WithTextCode(TextCodeMissingSubject).
	WithCode(http.StatusBadGateway)

// InvalidToken clones ErrInvalidToken keeping the cause.
func InvalidToken(provider string, cause error) error {
	return wrapProviderError(ErrInvalidToken, provider, "verify", cause)
}

// MissingSubject clones ErrMissingSubject for the provider.
func MissingSubject(provider string) error {
	return wrapProviderError(ErrMissingSubject, provider, "subject", nil)
}
