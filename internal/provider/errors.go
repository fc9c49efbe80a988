package provider

import (
	"fmt"
	"strings"
)

// AllProvidersFailedError is raised when a Manager exhausts every adapter
// in one Execute call, either because each one was tried and failed or
// because each one's circuit was open.
type AllProvidersFailedError struct {
	Type   Type
	Errors map[string]error
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for name, err := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return fmt.Sprintf("all %s providers failed: %s", e.Type, strings.Join(parts, "; "))
}

// ProviderUnavailableError is raised by ExecuteWith when the named
// adapter's circuit is open.
type ProviderUnavailableError struct {
	Type Type
	Name string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("%s provider %q is unavailable (circuit open)", e.Type, e.Name)
}

// CircuitOpenError marks a failure as caused by a fast-failed circuit,
// so callers that care can classify it without string matching.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q", e.Name)
}
