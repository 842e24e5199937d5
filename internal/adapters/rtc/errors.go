package rtc

import "fmt"

// ProviderError carries a provider-style error code alongside the
// message so the session classifier can branch on it.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) ErrorCode() string { return e.Code }

func providerErr(code, format string, args ...any) *ProviderError {
	return &ProviderError{Code: code, Message: fmt.Sprintf(format, args...)}
}
