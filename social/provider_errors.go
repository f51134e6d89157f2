package social

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderError captures normalized provider response details.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

// NewProviderError builds a ProviderError for provider and operation.
func NewProviderError(provider, operation string, status int, code, description string, err error, raw map[string]any) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := e.Provider
	if scope == "" {
		scope = "provider"
	}
	if e.Operation != "" {
		scope = fmt.Sprintf("%s %s", scope, e.Operation)
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed (status %d): %s", scope, e.Status, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed (status %d): %s", scope, e.Status, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}

	return fmt.Sprintf("%s failed (status %d)", scope, e.Status)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Rejected reports whether the provider answered and refused the request,
// as opposed to a response we could not understand.
func (e *ProviderError) Rejected() bool {
	if e == nil {
		return false
	}
	if e.Status >= http.StatusBadRequest {
		return true
	}
	return e.Code != "" && e.Code != CodeInvalidResponse && e.Code != CodeMissingAccessToken
}

func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}

	return meta
}

// Codes used by providers for malformed responses
const (
	CodeInvalidResponse    = "invalid_response"
	CodeMissingAccessToken = "missing_access_token"
)

// AsProviderError unwraps err into a ProviderError
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr, true
	}
	return nil, false
}

// WrapProviderError clones base and attaches provider metadata and the cause.
func WrapProviderError(base *goerrors.Error, provider, operation string, err error) *goerrors.Error {
	return wrapProviderError(base, provider, operation, err)
}

func wrapProviderError(base *goerrors.Error, provider, operation string, err error) *goerrors.Error {
	meta := map[string]any{}
	if provider != "" {
		meta["provider"] = provider
	}
	if operation != "" {
		meta["operation"] = operation
	}

	if perr, ok := AsProviderError(err); ok {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}

	return clone
}
