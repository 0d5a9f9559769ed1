package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind categorizes why a provider request failed, driving retry
// decisions and usage accounting.
type FailureKind string

const (
	// KindBilling indicates payment or quota problems (HTTP 402).
	KindBilling FailureKind = "billing"

	// KindRateLimit indicates rate limiting (HTTP 429).
	KindRateLimit FailureKind = "rate_limit"

	// KindAuth indicates authentication failure (HTTP 401, 403).
	KindAuth FailureKind = "auth"

	// KindTimeout indicates a request timeout.
	KindTimeout FailureKind = "timeout"

	// KindServerError indicates a server-side fault (HTTP 5xx).
	KindServerError FailureKind = "server_error"

	// KindInvalidRequest indicates a client-side fault (HTTP 400).
	KindInvalidRequest FailureKind = "invalid_request"

	// KindModelUnavailable indicates the requested model does not exist
	// or cannot be served.
	KindModelUnavailable FailureKind = "model_unavailable"

	// KindContentFilter indicates the request was blocked by safety
	// filtering.
	KindContentFilter FailureKind = "content_filter"

	// KindUnknown is the fallback for unclassified errors.
	KindUnknown FailureKind = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (k FailureKind) IsRetryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM backend. It keeps the
// context needed for retry decisions and for the usage ledger.
type ProviderError struct {
	Kind     FailureKind
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause with provider and model context, classifying
// the failure from the error text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     KindUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = Classify(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Kind = classifyStatus(status)
	return e
}

// WithCode records a provider-specific error code and reclassifies when the
// code is recognised.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if kind := classifyCode(code); kind != KindUnknown {
		e.Kind = kind
	}
	return e
}

// WithMessage overrides the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// Classify inspects an error's text and returns the matching FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context deadline"):
		return KindTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return KindAuth
	case strings.Contains(msg, "billing"),
		strings.Contains(msg, "payment"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "402"):
		return KindBilling
	case strings.Contains(msg, "content_filter"),
		strings.Contains(msg, "content policy"),
		strings.Contains(msg, "safety"):
		return KindContentFilter
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "unavailable"):
		return KindModelUnavailable
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return KindServerError
	default:
		return KindUnknown
	}
}

func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired:
		return KindBilling
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest:
		return KindInvalidRequest
	case status == http.StatusNotFound:
		return KindModelUnavailable
	case status >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}

func classifyCode(code string) FailureKind {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return KindRateLimit
	case "authentication_error", "invalid_api_key":
		return KindAuth
	case "billing_error", "insufficient_quota":
		return KindBilling
	case "model_not_found", "model_not_available":
		return KindModelUnavailable
	case "content_policy_violation", "content_filter":
		return KindContentFilter
	case "server_error", "internal_error":
		return KindServerError
	case "invalid_request_error":
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether the request behind err is worth retrying.
func IsRetryable(err error) bool {
	if pe, ok := GetProviderError(err); ok {
		return pe.Kind.IsRetryable()
	}
	return Classify(err).IsRetryable()
}
