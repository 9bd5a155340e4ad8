package trust

import (
	"context"
	"errors"
	"net"
	"time"
)

var (
	// ErrUnavailable is returned by capabilities that are not configured
	ErrUnavailable = errors.New("lookup capability unavailable")
	// ErrNXDomain is returned when a lookup authoritatively reports the name does not exist
	ErrNXDomain = errors.New("domain does not exist")
)

// DNSLookup resolves the records the authentication and network dimensions need.
// An empty answer with a nil error means the record does not exist.
type DNSLookup interface {
	Available() bool
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]string, error)
	LookupA(ctx context.Context, name string) ([]net.IP, error)
	LookupPTR(ctx context.Context, ip net.IP) ([]string, error)
}

// CertInfo describes the certificate a domain presents
type CertInfo struct {
	Issuer    string    `json:"issuer"`
	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Valid     bool      `json:"valid"`
}

// CertInspector fetches a domain's TLS certificate
type CertInspector interface {
	Available() bool
	Inspect(ctx context.Context, domain string) (*CertInfo, error)
}

// Registration is the registrant record of a domain
type Registration struct {
	Registrar string    `json:"registrar"`
	Country   string    `json:"country"`
	Created   time.Time `json:"created"`
}

// RegistrantLookup fetches registrant data for a domain
type RegistrantLookup interface {
	Available() bool
	Lookup(ctx context.Context, domain string) (*Registration, error)
}

// GeoLookup maps a hosting address to an ISO country code
type GeoLookup interface {
	Available() bool
	Country(ctx context.Context, ip net.IP) (string, error)
}

// Capabilities bundles the optional lookups. Nil members are replaced with
// no-op implementations once, when the scorer is built.
type Capabilities struct {
	DNS        DNSLookup
	Certs      CertInspector
	Registrant RegistrantLookup
	Geo        GeoLookup
}

func (c Capabilities) withDefaults() Capabilities {
	if c.DNS == nil {
		c.DNS = NoopDNS{}
	}
	if c.Certs == nil {
		c.Certs = NoopCerts{}
	}
	if c.Registrant == nil {
		c.Registrant = NoopRegistrant{}
	}
	if c.Geo == nil {
		c.Geo = NoopGeo{}
	}
	return c
}

// NoopDNS is the DNSLookup used when no resolver is configured
type NoopDNS struct{}

func (NoopDNS) Available() bool { return false }

func (NoopDNS) LookupTXT(context.Context, string) ([]string, error) { return nil, ErrUnavailable }

func (NoopDNS) LookupMX(context.Context, string) ([]string, error) { return nil, ErrUnavailable }

func (NoopDNS) LookupA(context.Context, string) ([]net.IP, error) { return nil, ErrUnavailable }

func (NoopDNS) LookupPTR(context.Context, net.IP) ([]string, error) { return nil, ErrUnavailable }

// NoopCerts is the CertInspector used when TLS inspection is disabled
type NoopCerts struct{}

func (NoopCerts) Available() bool { return false }

func (NoopCerts) Inspect(context.Context, string) (*CertInfo, error) { return nil, ErrUnavailable }

// NoopRegistrant is the RegistrantLookup used when no registrant source is configured
type NoopRegistrant struct{}

func (NoopRegistrant) Available() bool { return false }

func (NoopRegistrant) Lookup(context.Context, string) (*Registration, error) {
	return nil, ErrUnavailable
}

// NoopGeo is the GeoLookup used when no geolocation source is configured
type NoopGeo struct{}

func (NoopGeo) Available() bool { return false }

func (NoopGeo) Country(context.Context, net.IP) (string, error) { return "", ErrUnavailable }
