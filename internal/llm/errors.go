package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Category is the machine-readable classification of an upstream failure.
type Category string

const (
	CategoryAuthentication    Category = "authentication"
	CategoryModelUnavailable  Category = "model_unavailable"
	CategoryContextTooLong    Category = "context_too_long"
	CategoryRateLimited       Category = "rate_limited"
	CategoryMalformedResponse Category = "malformed_response"
	CategoryNetwork           Category = "network"
	CategoryEmptyCompletion   Category = "empty_completion"
	CategoryUnknown           Category = "unknown"
)

// Error is a classified upstream failure. Detail is operator-facing; the
// user only ever sees the fixed message for the category.
type Error struct {
	Category Category
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Detail + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the fixed user-facing string for the error's category.
// No raw upstream error text is ever surfaced.
func (e *Error) UserMessage() string {
	switch e.Category {
	case CategoryAuthentication:
		return "I'm having trouble authenticating with my AI service. Please notify the bot administrator."
	case CategoryModelUnavailable:
		return "The AI model is temporarily unavailable. Please try again in a few minutes."
	case CategoryContextTooLong:
		return "The conversation is too long. Please try clearing your history."
	case CategoryRateLimited:
		return "Too many requests. Please wait a moment before trying again."
	case CategoryMalformedResponse:
		return "I received an invalid response from the AI service. Please try again."
	case CategoryNetwork:
		return "I'm having trouble connecting to the AI service. Please try again in a moment."
	case CategoryEmptyCompletion:
		return "The AI model returned an empty response. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// Classify converts any error from the completion client into an *Error with
// a category the caller can map to a user message.
func Classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Category: categoryForStatus(apiErr.HTTPStatusCode, apiErr.Message), Detail: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode > 0 {
			return &Error{Category: categoryForStatus(reqErr.HTTPStatusCode, ""), Detail: reqErr.Error(), Err: err}
		}
		return &Error{Category: CategoryNetwork, Detail: reqErr.Error(), Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Category: CategoryMalformedResponse, Detail: err.Error(), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Category: CategoryNetwork, Detail: err.Error(), Err: err}
	}

	return &Error{Category: CategoryUnknown, Detail: err.Error(), Err: err}
}

func categoryForStatus(status int, message string) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuthentication
	case status == 429:
		return CategoryRateLimited
	case status == 400 && strings.Contains(strings.ToLower(message), "context"):
		return CategoryContextTooLong
	case status >= 500:
		return CategoryModelUnavailable
	default:
		return CategoryUnknown
	}
}

// UserMessage maps any error to its user-facing string, falling back to the
// generic retry message for unclassified errors.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return (&Error{Category: CategoryUnknown}).UserMessage()
}
