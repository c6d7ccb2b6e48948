package core

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorOAuthStateInvalid  = "MARKETPLACE_OAUTH_STATE_INVALID"
	ServiceErrorManagerAccount     = "MARKETPLACE_MANAGER_ACCOUNT"
	ServiceErrorRateLimited        = "MARKETPLACE_RATE_LIMITED"
	ServiceErrorTokenExpired       = "MARKETPLACE_TOKEN_EXPIRED"
	ServiceErrorRemote             = "MARKETPLACE_ERROR"
	ServiceErrorBadInput           = "MARKETPLACE_BAD_INPUT"
	ServiceErrorSiteUnknown        = "MARKETPLACE_SITE_UNKNOWN"
	ServiceErrorConnectionNotFound = "MARKETPLACE_CONNECTION_NOT_FOUND"
	ServiceErrorRefreshLocked      = "MARKETPLACE_REFRESH_LOCKED"
	ServiceErrorInternal           = "MARKETPLACE_INTERNAL_ERROR"
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var typed *goerrors.Error
	if goerrors.As(err, &typed) {
		return ensureServiceErrorEnvelope(typed)
	}

	var convertible interface{ ToServiceError() *goerrors.Error }
	if errors.As(err, &convertible) {
		return ensureServiceErrorEnvelope(convertible.ToServiceError())
	}

	message := err.Error()

	// Sentinels first; message text is a fallback for errors raised outside
	// this package.
	switch {
	case errors.Is(err, ErrOAuthFlowNotFound), errors.Is(err, ErrOAuthFlowExpired):
		return newServiceError(message, goerrors.CategoryAuth, ServiceErrorOAuthStateInvalid)
	case errors.Is(err, ErrRefreshLockHeld):
		return newServiceError(message, goerrors.CategoryConflict, ServiceErrorRefreshLocked)
	case errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrActiveCredentialNotFound):
		return newServiceError(message, goerrors.CategoryNotFound, ServiceErrorConnectionNotFound)
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "oauth state"), strings.Contains(lower, "oauth flow"):
		return newServiceError(message, goerrors.CategoryAuth, ServiceErrorOAuthStateInvalid)
	case strings.Contains(lower, "unknown site"), strings.Contains(lower, "site is not supported"):
		return newServiceError(message, goerrors.CategoryBadInput, ServiceErrorSiteUnknown)
	case strings.Contains(lower, "lock already held"), strings.Contains(lower, "refresh lock"):
		return newServiceError(message, goerrors.CategoryConflict, ServiceErrorRefreshLocked)
	case strings.Contains(lower, "throttl"), strings.Contains(lower, "rate limit"):
		return newServiceError(message, goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(lower, "connection not found"),
		strings.Contains(lower, "connection is disconnected"),
		strings.Contains(lower, "credential not found"):
		return newServiceError(message, goerrors.CategoryNotFound, ServiceErrorConnectionNotFound)
	case strings.Contains(lower, "required"),
		strings.Contains(lower, "invalid"),
		strings.Contains(lower, "mismatch"):
		return newServiceError(message, goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	return ensureServiceErrorEnvelope(goerrors.MapToError(err, nil))
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(goerrors.New(message, category).WithTextCode(textCode))
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.TextCode == "" {
		err = err.WithTextCode(defaultServiceTextCode(err.Category))
	}
	if err.Code == 0 {
		err = err.WithCode(serviceHTTPStatus(err.Category))
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryAuth:
		return ServiceErrorTokenExpired
	case goerrors.CategoryAuthz:
		return ServiceErrorManagerAccount
	case goerrors.CategoryNotFound:
		return ServiceErrorConnectionNotFound
	case goerrors.CategoryConflict:
		return ServiceErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return ServiceErrorRemote
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return 401
	case goerrors.CategoryAuthz:
		return 403
	case goerrors.CategoryNotFound:
		return 404
	case goerrors.CategoryConflict:
		return 409
	case goerrors.CategoryRateLimit:
		return 429
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return 400
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return 502
	default:
		return 500
	}
}
