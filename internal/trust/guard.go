package trust

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			// a missing domain is an answer, not a lookup failure
			return err == nil || errors.Is(err, ErrNXDomain)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Lookup circuit breaker changed state",
				zap.String("lookup", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	v, _ := out.(T)
	return v, err
}

// guardedDNS fails fast after repeated resolver failures
type guardedDNS struct {
	next DNSLookup
	cb   *gobreaker.CircuitBreaker
}

// GuardDNS wraps a resolver in a circuit breaker
func GuardDNS(next DNSLookup, logger *zap.Logger) DNSLookup {
	if !next.Available() {
		return next
	}
	return &guardedDNS{next: next, cb: newBreaker("dns", logger)}
}

func (g *guardedDNS) Available() bool { return true }

func (g *guardedDNS) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return execute(g.cb, func() ([]string, error) { return g.next.LookupTXT(ctx, name) })
}

func (g *guardedDNS) LookupMX(ctx context.Context, name string) ([]string, error) {
	return execute(g.cb, func() ([]string, error) { return g.next.LookupMX(ctx, name) })
}

func (g *guardedDNS) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	return execute(g.cb, func() ([]net.IP, error) { return g.next.LookupA(ctx, name) })
}

func (g *guardedDNS) LookupPTR(ctx context.Context, ip net.IP) ([]string, error) {
	return execute(g.cb, func() ([]string, error) { return g.next.LookupPTR(ctx, ip) })
}

type guardedCerts struct {
	next CertInspector
	cb   *gobreaker.CircuitBreaker
}

// GuardCerts wraps a certificate inspector in a circuit breaker
func GuardCerts(next CertInspector, logger *zap.Logger) CertInspector {
	if !next.Available() {
		return next
	}
	return &guardedCerts{next: next, cb: newBreaker("tls", logger)}
}

func (g *guardedCerts) Available() bool { return true }

func (g *guardedCerts) Inspect(ctx context.Context, domain string) (*CertInfo, error) {
	return execute(g.cb, func() (*CertInfo, error) { return g.next.Inspect(ctx, domain) })
}

type guardedRegistrant struct {
	next RegistrantLookup
	cb   *gobreaker.CircuitBreaker
}

// GuardRegistrant wraps a registrant lookup in a circuit breaker
func GuardRegistrant(next RegistrantLookup, logger *zap.Logger) RegistrantLookup {
	if !next.Available() {
		return next
	}
	return &guardedRegistrant{next: next, cb: newBreaker("registrant", logger)}
}

func (g *guardedRegistrant) Available() bool { return true }

func (g *guardedRegistrant) Lookup(ctx context.Context, domain string) (*Registration, error) {
	return execute(g.cb, func() (*Registration, error) { return g.next.Lookup(ctx, domain) })
}

type guardedGeo struct {
	next GeoLookup
	cb   *gobreaker.CircuitBreaker
}

// GuardGeo wraps a geolocation lookup in a circuit breaker
func GuardGeo(next GeoLookup, logger *zap.Logger) GeoLookup {
	if !next.Available() {
		return next
	}
	return &guardedGeo{next: next, cb: newBreaker("geo", logger)}
}

func (g *guardedGeo) Available() bool { return true }

func (g *guardedGeo) Country(ctx context.Context, ip net.IP) (string, error) {
	return execute(g.cb, func() (string, error) { return g.next.Country(ctx, ip) })
}
