package router

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoProvidersAvailable is returned when the router has no providers.
	ErrNoProvidersAvailable = errors.New("no quote providers available")
	// ErrAllProvidersFailed matches every *AllProvidersFailedError.
	ErrAllProvidersFailed = errors.New("all quote providers failed")
)

// ProviderError attributes a failure to the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("%s: %s", e.Provider, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError carries one error per registered provider, in
// registration order.
type AllProvidersFailedError struct {
	Errs []error
}

func (e *AllProvidersFailedError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrAllProvidersFailed, strings.Join(msgs, "; "))
}

func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

func (e *AllProvidersFailedError) Unwrap() []error { return e.Errs }
