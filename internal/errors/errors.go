// Package errors holds the error taxonomy of the chat gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors, one per kind. Use errors.Is against a *ChatError.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limited")
	ErrConfiguration = errors.New("configuration error")
	ErrUpstream      = errors.New("upstream error")
)

// User-facing messages.
const (
	MsgInvalidInput  = "Format de messages invalide"
	MsgRateLimited   = "Limite de requêtes atteinte. Réessayez plus tard."
	MsgConfiguration = "Erreur de configuration API"
	MsgUnknown       = "Erreur inconnue"
)

// Kind classifies a chat failure.
type Kind int

const (
	KindInvalidInput Kind = iota
	KindRateLimited
	KindConfiguration
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRateLimited:
		return "rate_limited"
	case KindConfiguration:
		return "configuration_error"
	case KindUpstream:
		return "upstream_error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ChatError is a terminal failure of one chat request.
type ChatError struct {
	Kind Kind
	// Message is what the caller sees.
	Message string
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *ChatError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrUpstream:
		return e.Kind == KindUpstream
	}
	return false
}

// StatusCode is the HTTP status the gateway answers with.
func (e *ChatError) StatusCode() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidInput wraps a decoding failure of the request body.
func NewInvalidInput(err error) *ChatError {
	return &ChatError{Kind: KindInvalidInput, Message: MsgInvalidInput, Err: err}
}

// NewRateLimited is used both for provider rate limits and the local limiter.
func NewRateLimited(err error) *ChatError {
	return &ChatError{Kind: KindRateLimited, Message: MsgRateLimited, Err: err}
}

// Classify maps a provider failure to its kind. Matching is on the error
// text because providers do not agree on error types.
func Classify(err error) *ChatError {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce
	}

	text := err.Error()
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "rate limit"):
		return NewRateLimited(err)
	case strings.Contains(lower, "api key"):
		return &ChatError{Kind: KindConfiguration, Message: MsgConfiguration, Err: err}
	case text == "":
		return &ChatError{Kind: KindUpstream, Message: MsgUnknown, Err: err}
	default:
		return &ChatError{Kind: KindUpstream, Message: "Erreur: " + text, Err: err}
	}
}

// GatewayError is a non-200 answer from the chat gateway as seen by a client.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error [%d]", e.StatusCode)
	}
	return e.Message
}

// Is lets callers test a gateway answer against the server-side kinds.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrConfiguration:
		return e.StatusCode == http.StatusInternalServerError && e.Message == MsgConfiguration
	case ErrUpstream:
		return e.StatusCode >= http.StatusInternalServerError && e.Message != MsgConfiguration
	}
	return false
}
