package llm

import "fmt"

// SDKError is the base error type for all client errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// APIError represents an error returned by a provider API.
type APIError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from a Retry-After header
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ APIError }
type InvalidRequestError struct{ APIError }
type RateLimitError struct{ APIError }
type ServerError struct{ APIError }

// Non-provider errors.

type NetworkError struct{ SDKError }
type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type InvalidResponseError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	ae := APIError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 404, 422:
		ae.Retryable = false
		return &InvalidRequestError{APIError: ae}
	case 401, 403:
		ae.Retryable = false
		return &AuthenticationError{APIError: ae}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 429:
		ae.Retryable = true
		return &RateLimitError{APIError: ae}
	case 500, 502, 503, 504:
		ae.Retryable = true
		return &ServerError{APIError: ae}
	default:
		// Unknown status codes default to retryable.
		ae.Retryable = true
		return &ae
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *APIError:
		return e.Retryable
	case *AuthenticationError:
		return false
	case *InvalidRequestError:
		return false
	case *ConfigurationError:
		return false
	case *AbortError:
		return false
	case *RateLimitError:
		return true
	case *ServerError:
		return true
	case *NetworkError:
		return true
	case *RequestTimeoutError:
		return true
	case *InvalidResponseError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}
