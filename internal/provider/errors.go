package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorType classifies gateway failures
type ErrorType string

const (
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeAPIError        ErrorType = "api_error"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeAuth            ErrorType = "auth_error"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeCanceled        ErrorType = "canceled"
)

// StatusError is returned by HTTPGateway for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ClassifiedError wraps a gateway error with classification
type ClassifiedError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Original   error
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// Context overflow detection patterns from various providers
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`prompt is too long`),
	regexp.MustCompile(`exceeds the model'?s maximum context`),
	regexp.MustCompile(`maximum context length`),
	regexp.MustCompile(`context_length_exceeded`),
	regexp.MustCompile(`exceeds the maximum number of tokens`),
	regexp.MustCompile(`Input is too long`),
	regexp.MustCompile(`Request too large`),
	regexp.MustCompile(`(?i)context.*(?:too long|overflow|exceeded)`),
}

// IsContextOverflow checks if an error message indicates context overflow
func IsContextOverflow(msg string) bool {
	for _, pat := range overflowPatterns {
		if pat.MatchString(msg) {
			return true
		}
	}
	return false
}

// StatusCode extracts an HTTP status from the known gateway error types, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// ClassifyError classifies an error returned by a gateway call. Classification
// only shapes the message shown to the user; it never triggers a retry.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	msg := err.Error()
	lowerMsg := strings.ToLower(msg)
	statusCode := StatusCode(err)

	classified := func(t ErrorType, message string) *ClassifiedError {
		return &ClassifiedError{Type: t, Message: message, StatusCode: statusCode, Original: err}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return classified(ErrorTypeCanceled, "Request canceled")
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return classified(ErrorTypeTimeout, "The gateway did not answer in time")
	case IsContextOverflow(msg):
		return classified(ErrorTypeContextOverflow, "Conversation is too long for this model's context window")
	case statusCode == 429 || strings.Contains(lowerMsg, "rate_limit") ||
		strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "quota"):
		return classified(ErrorTypeRateLimit, "Rate limited by the gateway")
	case statusCode == 401 || statusCode == 403:
		return classified(ErrorTypeAuth, fmt.Sprintf("Authentication failed (%d)", statusCode))
	case statusCode == 404:
		return classified(ErrorTypeNotFound, "Model or endpoint not found")
	case statusCode >= 500:
		return classified(ErrorTypeAPIError, fmt.Sprintf("Gateway server error (%d)", statusCode))
	case strings.Contains(lowerMsg, "overloaded") || strings.Contains(lowerMsg, "unavailable"):
		return classified(ErrorTypeAPIError, "Provider is overloaded")
	default:
		return classified(ErrorTypeAPIError, msg)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// FriendlyMessage renders err as a single line suitable for a chat panel.
func FriendlyMessage(err error) string {
	ce := ClassifyError(err)
	if ce == nil {
		return ""
	}
	if ce.Type == ErrorTypeAPIError && ce.Message == err.Error() {
		return ce.Message
	}
	return fmt.Sprintf("%s: %s", ce.Message, err.Error())
}
