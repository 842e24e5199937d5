package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the failure taxonomy.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorNetwork
	ErrorPermission
	ErrorSDK
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNetwork:
		return "network"
	case ErrorPermission:
		return "permission"
	case ErrorSDK:
		return "sdk"
	default:
		return "unknown"
	}
}

// ServiceError is an ephemeral classified failure: emitted to
// subscribers, never retained.
type ServiceError struct {
	Kind        ErrorKind
	Message     string
	Code        string
	Cause       error
	Recoverable bool
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// Coder exposes a provider error code without importing the provider's
// error shape.
type Coder interface {
	ErrorCode() string
}

var networkIndicators = []string{
	"network",
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"socket",
	"broken pipe",
	"reset by peer",
}

var permissionIndicators = []string{
	"permission",
	"denied",
	"not allowed",
	"unauthorized",
	"forbidden",
}

var sdkIndicators = []string{
	"haven't joined",
	"not joined",
	"invalid operation",
	"invalid parameter",
	"not ready",
}

var networkCodes = map[string]bool{
	"NETWORK_ERROR":   true,
	"NETWORK_TIMEOUT": true,
}

var permissionCodes = map[string]bool{
	"PERMISSION_DENIED": true,
	"NOT_AUTHORIZED":    true,
}

var sdkCodes = map[string]bool{
	"INVALID_OPERATION": true,
	"INVALID_PARAMS":    true,
	"NOT_READY":         true,
}

// Classify maps a raw failure into the taxonomy with a recoverability
// flag. Pure and stateless; unrecognized errors default to recoverable
// so a single odd error never becomes silently fatal.
func Classify(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var serr *ServiceError
	if errors.As(err, &serr) {
		return serr
	}

	code := ""
	var coder Coder
	if errors.As(err, &coder) {
		code = coder.ErrorCode()
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case permissionCodes[code] || containsAny(lower, permissionIndicators):
		return &ServiceError{Kind: ErrorPermission, Message: msg, Code: code, Cause: err, Recoverable: false}
	case networkCodes[code] || containsAny(lower, networkIndicators) || errors.Is(err, context.DeadlineExceeded):
		return &ServiceError{Kind: ErrorNetwork, Message: msg, Code: code, Cause: err, Recoverable: true}
	case sdkCodes[code] || containsAny(lower, sdkIndicators):
		return &ServiceError{Kind: ErrorSDK, Message: msg, Code: code, Cause: err, Recoverable: true}
	default:
		return &ServiceError{Kind: ErrorUnknown, Message: msg, Code: code, Cause: err, Recoverable: true}
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
