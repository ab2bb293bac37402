package core

import (
	"errors"
	"fmt"
	"strings"
)

// FaultKind categorizes generator failures. Every kind maps to a distinct
// user-facing message, and all of them are terminal for the send that
// triggered them.
type FaultKind string

const (
	FaultCredential  FaultKind = "credential"
	FaultQuota       FaultKind = "quota"
	FaultTimeout     FaultKind = "timeout"
	FaultUnavailable FaultKind = "unavailable"
	FaultEmptyReply  FaultKind = "empty_reply"
	FaultUnknown     FaultKind = "unknown"
)

type GenerationFault struct {
	Kind FaultKind
	Err  error
}

func (f *GenerationFault) Error() string {
	return fmt.Sprintf("generation fault (%s): %v", f.Kind, f.Err)
}

func (f *GenerationFault) Unwrap() error { return f.Err }

var faultMessages = map[FaultKind]string{
	FaultCredential:  "Invalid API key: the assistant is not configured correctly. Please contact support.",
	FaultQuota:       "API quota exceeded: the free tier limit has been reached. Please wait a moment and try again.",
	FaultTimeout:     "Request timeout: the server took too long to respond. Please try again.",
	FaultUnavailable: "Service temporarily unavailable: the assistant is currently unreachable. Please try again in a few moments.",
	FaultEmptyReply:  "I received an empty response, please try rephrasing your question.",
	FaultUnknown:     "I apologize, but I'm having trouble processing your request right now. Please try again.",
}

// UserMessage returns the explanation shown in the conversation log in place
// of a reply.
func (f *GenerationFault) UserMessage() string {
	return faultMessages[f.Kind]
}

// ClassifyGenerationError inspects an error from the generator and returns a
// typed fault. Already-classified faults pass through unchanged.
func ClassifyGenerationError(err error) *GenerationFault {
	var fault *GenerationFault
	if errors.As(err, &fault) {
		return fault
	}

	raw := err.Error()
	switch {
	case containsAny(raw, "api key", "401", "unauthorized", "permission_denied", "permission denied"):
		return &GenerationFault{Kind: FaultCredential, Err: err}
	case containsAny(raw, "resource_exhausted", "quota", "429", "rate limit", "too many requests"):
		return &GenerationFault{Kind: FaultQuota, Err: err}
	case containsAny(raw, "deadline exceeded", "timeout", "context canceled"):
		return &GenerationFault{Kind: FaultTimeout, Err: err}
	case containsAny(raw, "unavailable", "503", "overloaded", "temporarily"):
		return &GenerationFault{Kind: FaultUnavailable, Err: err}
	default:
		return &GenerationFault{Kind: FaultUnknown, Err: err}
	}
}

func containsAny(s string, patterns ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
