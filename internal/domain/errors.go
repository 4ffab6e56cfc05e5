package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrInvalidSymbol indicates the caller supplied an empty or malformed ticker.
type ErrInvalidSymbol struct {
	Symbol string
}

func (e ErrInvalidSymbol) Error() string {
	if e.Symbol == "" {
		return "invalid symbol: empty"
	}
	return fmt.Sprintf("invalid symbol: %q", e.Symbol)
}

// ErrMissingAPIKey indicates a provider requiring a token has none configured.
type ErrMissingAPIKey struct {
	Provider string
}

func (e ErrMissingAPIKey) Error() string {
	return fmt.Sprintf("%s: no API key configured", e.Provider)
}

// ErrSessionAcquisition indicates the cookie/crumb bootstrap failed.
type ErrSessionAcquisition struct {
	Reason string
	Err    error
}

func (e ErrSessionAcquisition) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session acquisition failed: %s", e.Reason)
}

func (e ErrSessionAcquisition) Unwrap() error { return e.Err }

// ErrInvalidSession indicates the upstream rejected our cookie or crumb.
// Callers retry exactly once with a forced session refresh.
type ErrInvalidSession struct {
	Detail string
}

func (e ErrInvalidSession) Error() string {
	if e.Detail == "" {
		return "upstream rejected session"
	}
	return fmt.Sprintf("upstream rejected session: %s", e.Detail)
}

// ErrUpstreamHTTP indicates a non-session HTTP failure from a provider.
type ErrUpstreamHTTP struct {
	Provider string
	Status   int
}

func (e ErrUpstreamHTTP) Error() string {
	return fmt.Sprintf("%s: upstream returned HTTP %d", e.Provider, e.Status)
}

// ErrDataIncomplete indicates the provider answered but the payload lacks the
// series needed to build a snapshot.
type ErrDataIncomplete struct {
	Provider string
	Missing  string
}

func (e ErrDataIncomplete) Error() string {
	return fmt.Sprintf("%s: incomplete data: %s", e.Provider, e.Missing)
}

// ErrTimeout wraps a deadline or network timeout on an upstream call.
type ErrTimeout struct {
	Provider string
	Err      error
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
}

func (e ErrTimeout) Unwrap() error { return e.Err }

// ErrAggregateFetch reports that every provider failed for a symbol. The
// message names both providers; credentials never appear in either branch.
type ErrAggregateFetch struct {
	Symbol string
	SimFin error
	Yahoo  error
}

func (e ErrAggregateFetch) Error() string {
	return fmt.Sprintf("all providers failed for %s: simfin: %v; yahoo: %v",
		e.Symbol, e.SimFin, e.Yahoo)
}

// WrapTimeout converts context deadline and net timeout errors into
// ErrTimeout, leaving everything else untouched.
func WrapTimeout(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Provider: provider, Err: err}
	}
	return err
}
