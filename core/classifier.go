package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultRetryAfterHint is applied when a throttled response carries no
// Retry-After header.
const DefaultRetryAfterHint = 60 * time.Second

const managerAccountGuidance = "sign in with the seller's manager account; collaborator and operator accounts cannot authorize this integration"

const (
	metadataKeyStatusCode        = "status_code"
	metadataKeyRetryAfterSeconds = "retry_after_seconds"
	metadataKeyGuidance          = "guidance"
	metadataKeyRemoteError       = "remote_error"
	metadataKeyRemoteMessage     = "remote_message"
	metadataKeySiteID            = "site_id"
)

// MarketplaceResponse is the raw material the classifier works from. Body may
// be empty, truncated, or not JSON at all; classification never fails on it.
type MarketplaceResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

type remoteErrorPayload struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	Status     int    `json:"status"`
	RetryAfter any    `json:"retry_after"`
	Cause      []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"cause"`
}

// ClassifyMarketplaceError maps a non-success provider response onto the
// service error taxonomy. The raw status code always survives in metadata.
func ClassifyMarketplaceError(res MarketplaceResponse) *goerrors.Error {
	payload := parseRemoteErrorPayload(res.Body)
	remoteErr := strings.ToLower(strings.TrimSpace(payload.Error))
	remoteMsg := strings.ToLower(strings.TrimSpace(payload.Message))

	meta := map[string]any{
		metadataKeyStatusCode: res.StatusCode,
	}
	if payload.Error != "" {
		meta[metadataKeyRemoteError] = payload.Error
	}
	if payload.Message != "" {
		meta[metadataKeyRemoteMessage] = payload.Message
	}

	switch {
	case isRateLimitedResponse(res.StatusCode, remoteErr, remoteMsg):
		// The hint may arrive in the Retry-After header or in the JSON body.
		retryAfter := retryAfterFromHeaders(res.Headers)
		if retryAfter <= 0 {
			retryAfter = retryAfterFromPayload(payload)
		}
		if retryAfter <= 0 {
			retryAfter = DefaultRetryAfterHint
		}
		meta[metadataKeyRetryAfterSeconds] = int64(retryAfter / time.Second)
		return ensureServiceErrorEnvelope(goerrors.New("marketplace rate limit reached", goerrors.CategoryRateLimit).
			WithTextCode(ServiceErrorRateLimited).
			WithMetadata(meta))

	case isExpiredGrantResponse(res.StatusCode, remoteErr, remoteMsg):
		return ensureServiceErrorEnvelope(goerrors.New("marketplace grant is expired or revoked", goerrors.CategoryAuth).
			WithTextCode(ServiceErrorTokenExpired).
			WithMetadata(meta))

	case isManagerAccountResponse(res.StatusCode, remoteErr, remoteMsg):
		meta[metadataKeyGuidance] = managerAccountGuidance
		return ensureServiceErrorEnvelope(goerrors.New("marketplace account cannot authorize this integration", goerrors.CategoryAuthz).
			WithTextCode(ServiceErrorManagerAccount).
			WithMetadata(meta))
	}

	message := fmt.Sprintf("marketplace request failed with status %d", res.StatusCode)
	return ensureServiceErrorEnvelope(goerrors.New(message, goerrors.CategoryExternal).
		WithTextCode(ServiceErrorRemote).
		WithCode(res.StatusCode).
		WithMetadata(meta))
}

// NewManagerAccountError is raised when the authenticated identity turns out
// to be a collaborator or operator rather than the seller's manager account.
func NewManagerAccountError(siteID, accountType string) *goerrors.Error {
	meta := map[string]any{
		metadataKeyGuidance: managerAccountGuidance,
	}
	if strings.TrimSpace(siteID) != "" {
		meta[metadataKeySiteID] = siteID
	}
	if strings.TrimSpace(accountType) != "" {
		meta["account_type"] = accountType
	}
	return ensureServiceErrorEnvelope(goerrors.New("marketplace account cannot authorize this integration", goerrors.CategoryAuthz).
		WithTextCode(ServiceErrorManagerAccount).
		WithMetadata(meta))
}

func parseRemoteErrorPayload(body []byte) remoteErrorPayload {
	payload := remoteErrorPayload{}
	if len(body) == 0 {
		return payload
	}
	_ = json.Unmarshal(body, &payload)
	return payload
}

func isRateLimitedResponse(status int, remoteErr, remoteMsg string) bool {
	if status == 429 {
		return true
	}
	switch remoteErr {
	case "too_many_requests", "local_rate_limited":
		return true
	}
	return strings.Contains(remoteMsg, "too many requests")
}

func isExpiredGrantResponse(status int, remoteErr, remoteMsg string) bool {
	if status != 400 && status != 401 {
		return false
	}
	if remoteErr == "invalid_grant" || remoteErr == "invalid_token" {
		return true
	}
	return strings.Contains(remoteMsg, "invalid_grant") ||
		strings.Contains(remoteMsg, "expired") ||
		strings.Contains(remoteMsg, "revoked")
}

func isManagerAccountResponse(status int, remoteErr, remoteMsg string) bool {
	if status != 400 && status != 403 {
		return false
	}
	hints := []string{"operator", "collaborator", "invalid_operator_user_id"}
	for _, hint := range hints {
		if strings.Contains(remoteErr, hint) || strings.Contains(remoteMsg, hint) {
			return true
		}
	}
	return false
}

// IsRetryableMarketplaceError reports whether a refresh attempt may retry the
// call. Only transport failures and provider 5xx responses qualify.
func IsRetryableMarketplaceError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var typed *goerrors.Error
	if goerrors.As(err, &typed) {
		switch typed.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz,
			goerrors.CategoryRateLimit, goerrors.CategoryBadInput,
			goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return false
		}
		if status, ok := statusCodeFromMetadata(typed.Metadata); ok {
			return status >= 500
		}
		return typed.Category == goerrors.CategoryExternal || typed.Category == goerrors.CategoryOperation
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryAfterHint extracts the throttle hint a rate limited error carries.
func RetryAfterHint(err error) (time.Duration, bool) {
	var typed *goerrors.Error
	if !goerrors.As(err, &typed) || typed.Metadata == nil {
		return 0, false
	}
	seconds, ok := readMetadataInt64(typed.Metadata, metadataKeyRetryAfterSeconds)
	if !ok || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// ResponseMetaFromError rebuilds the transport facts for rate limit
// accounting after a failed call.
func ResponseMetaFromError(err error) ProviderResponseMeta {
	meta := ProviderResponseMeta{}
	var typed *goerrors.Error
	if !goerrors.As(err, &typed) {
		return meta
	}
	if status, ok := statusCodeFromMetadata(typed.Metadata); ok {
		meta.StatusCode = status
	}
	if retryAfter, ok := RetryAfterHint(err); ok {
		meta.RetryAfter = &retryAfter
	}
	return meta
}

func statusCodeFromMetadata(meta map[string]any) (int, bool) {
	value, ok := readMetadataInt64(meta, metadataKeyStatusCode)
	if !ok {
		return 0, false
	}
	return int(value), true
}

func readMetadataInt64(meta map[string]any, key string) (int64, bool) {
	if meta == nil {
		return 0, false
	}
	switch value := meta[key].(type) {
	case int:
		return int64(value), true
	case int64:
		return value, true
	case float64:
		return int64(value), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func retryAfterFromHeaders(headers map[string]string) time.Duration {
	value := headerValue(headers, "Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if at, err := time.Parse(layout, value); err == nil {
			until := time.Until(at)
			if until > 0 {
				return until
			}
			return 0
		}
	}
	return 0
}

func retryAfterFromPayload(payload remoteErrorPayload) time.Duration {
	switch value := payload.RetryAfter.(type) {
	case float64:
		if value > 0 {
			return time.Duration(value) * time.Second
		}
	case string:
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
