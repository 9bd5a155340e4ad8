package trust

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-msgauth/dmarc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/mail-classifier/internal/metrics"
)

// Lookup names, used in DomainIntel.Status, logs and metrics
const (
	LookupSPF        = "spf"
	LookupDKIM       = "dkim"
	LookupDMARC      = "dmarc"
	LookupA          = "a"
	LookupMX         = "mx"
	LookupPTR        = "ptr"
	LookupTLS        = "tls"
	LookupRegistrant = "registrant"
	LookupGeo        = "geo"
)

var allLookups = []string{
	LookupSPF, LookupDKIM, LookupDMARC, LookupA, LookupMX,
	LookupPTR, LookupTLS, LookupRegistrant, LookupGeo,
}

// LookupStatus is the outcome of one lookup
type LookupStatus string

// Lookup outcomes
const (
	StatusOK          LookupStatus = "ok"
	StatusFailed      LookupStatus = "failed"
	StatusUnavailable LookupStatus = "unavailable"
)

// DomainIntel is everything the network lookups learned about a domain. It is
// cached as JSON per domain.
type DomainIntel struct {
	Domain        string                  `json:"domain"`
	NXDomain      bool                    `json:"nxdomain"`
	SPF           string                  `json:"spf,omitempty"`
	DMARCPolicy   string                  `json:"dmarc_policy,omitempty"`
	DKIMSelectors []string                `json:"dkim_selectors,omitempty"`
	A             []string                `json:"a,omitempty"`
	MX            []string                `json:"mx,omitempty"`
	PTR           []string                `json:"ptr,omitempty"`
	Cert          *CertInfo               `json:"cert,omitempty"`
	Registration  *Registration           `json:"registration,omitempty"`
	Country       string                  `json:"country,omitempty"`
	Status        map[string]LookupStatus `json:"status"`
	FetchedAt     time.Time               `json:"fetched_at"`
}

// OK reports whether the named lookup produced an answer
func (d *DomainIntel) OK(lookup string) bool {
	return d != nil && d.Status[lookup] == StatusOK
}

// Availability is the share of lookups that produced an answer
func (d *DomainIntel) Availability() float64 {
	if d == nil {
		return 0
	}
	ok := 0
	for _, l := range allLookups {
		if d.Status[l] == StatusOK {
			ok++
		}
	}
	return float64(ok) / float64(len(allLookups))
}

// SPFQualifier returns the qualifier of the record's "all" mechanism, or ""
func (d *DomainIntel) SPFQualifier() string {
	for _, term := range strings.Fields(strings.ToLower(d.SPF)) {
		switch term {
		case "-all", "~all", "?all", "+all", "all":
			if term == "all" {
				return "+"
			}
			return term[:1]
		}
	}
	return ""
}

type gatherer struct {
	caps      Capabilities
	timeout   time.Duration
	selectors []string
	logger    *zap.Logger
}

// gather runs every lookup for domain concurrently. org is the registrable
// domain, consulted for the DMARC organizational policy. Lookups never fail
// the call; their outcome is recorded in Status.
func (g *gatherer) gather(ctx context.Context, domain, org string) *DomainIntel {
	intel := &DomainIntel{
		Domain:    domain,
		Status:    make(map[string]LookupStatus, len(allLookups)),
		FetchedAt: time.Now(),
	}
	var mu sync.Mutex
	record := func(lookup string, err error) bool {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			intel.Status[lookup] = StatusOK
			return true
		case errors.Is(err, ErrNXDomain):
			intel.Status[lookup] = StatusOK
			intel.NXDomain = true
			return false
		case errors.Is(err, ErrUnavailable):
			intel.Status[lookup] = StatusUnavailable
			return false
		default:
			intel.Status[lookup] = StatusFailed
			metrics.IncrementLookupFailure(lookup)
			g.logger.Warn("Trust lookup failed, using default score",
				zap.String("domain", domain),
				zap.String("lookup", lookup),
				zap.Error(err))
			return false
		}
	}

	grp, gctx := errgroup.WithContext(ctx)
	run := func(fn func(ctx context.Context)) {
		grp.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, g.timeout)
			defer cancel()
			fn(lctx)
			return nil
		})
	}

	run(func(ctx context.Context) {
		txt, err := g.caps.DNS.LookupTXT(ctx, domain)
		if record(LookupSPF, err) {
			spf := findSPF(txt)
			mu.Lock()
			intel.SPF = spf
			mu.Unlock()
		}
	})
	run(func(ctx context.Context) {
		policy, err := g.lookupDMARC(ctx, domain, org)
		if record(LookupDMARC, err) {
			mu.Lock()
			intel.DMARCPolicy = policy
			mu.Unlock()
		}
	})
	run(func(ctx context.Context) {
		found, err := g.lookupDKIM(ctx, domain)
		if record(LookupDKIM, err) {
			mu.Lock()
			intel.DKIMSelectors = found
			mu.Unlock()
		}
	})
	run(func(ctx context.Context) {
		mx, err := g.caps.DNS.LookupMX(ctx, domain)
		if len(mx) == 0 && err == nil && org != "" && org != domain {
			mx, err = g.caps.DNS.LookupMX(ctx, org)
		}
		if record(LookupMX, err) {
			mu.Lock()
			intel.MX = mx
			mu.Unlock()
		}
	})
	run(func(ctx context.Context) {
		cert, err := g.caps.Certs.Inspect(ctx, domain)
		if record(LookupTLS, err) {
			mu.Lock()
			intel.Cert = cert
			mu.Unlock()
		}
	})
	run(func(ctx context.Context) {
		target := org
		if target == "" {
			target = domain
		}
		reg, err := g.caps.Registrant.Lookup(ctx, target)
		if record(LookupRegistrant, err) {
			mu.Lock()
			intel.Registration = reg
			mu.Unlock()
		}
	})

	var addrs []net.IP
	run(func(ctx context.Context) {
		ips, err := g.caps.DNS.LookupA(ctx, domain)
		if record(LookupA, err) {
			mu.Lock()
			addrs = ips
			for _, ip := range ips {
				intel.A = append(intel.A, ip.String())
			}
			mu.Unlock()
		}
	})

	_ = grp.Wait()

	if len(addrs) == 0 {
		// PTR and geolocation need a hosting address
		status := StatusUnavailable
		if intel.OK(LookupA) {
			status = StatusOK
		}
		intel.Status[LookupPTR] = status
		intel.Status[LookupGeo] = status
		return intel
	}

	grp, gctx = errgroup.WithContext(ctx)
	run(func(ctx context.Context) {
		names, err := g.caps.DNS.LookupPTR(ctx, addrs[0])
		if record(LookupPTR, err) {
			mu.Lock()
			intel.PTR = names
			mu.Unlock()
		}
	})
	run(func(ctx context.Context) {
		country, err := g.caps.Geo.Country(ctx, addrs[0])
		if record(LookupGeo, err) {
			mu.Lock()
			intel.Country = strings.ToLower(country)
			mu.Unlock()
		}
	})
	_ = grp.Wait()

	return intel
}

func (g *gatherer) lookupDMARC(ctx context.Context, domain, org string) (string, error) {
	names := []string{"_dmarc." + domain}
	if org != "" && org != domain {
		names = append(names, "_dmarc."+org)
	}
	for _, name := range names {
		txt, err := g.caps.DNS.LookupTXT(ctx, name)
		if err != nil && !errors.Is(err, ErrNXDomain) {
			return "", err
		}
		for _, t := range txt {
			if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "v=dmarc1") {
				continue
			}
			rec, err := dmarc.Parse(t)
			if err != nil {
				continue
			}
			return string(rec.Policy), nil
		}
	}
	return "", nil
}

func (g *gatherer) lookupDKIM(ctx context.Context, domain string) ([]string, error) {
	var found []string
	var lastErr error
	answered := false
	for _, sel := range g.selectors {
		txt, err := g.caps.DNS.LookupTXT(ctx, sel+"._domainkey."+domain)
		if err != nil && !errors.Is(err, ErrNXDomain) {
			lastErr = err
			continue
		}
		answered = true
		for _, t := range txt {
			if strings.Contains(strings.ToLower(t), "p=") {
				found = append(found, sel)
				break
			}
		}
	}
	if !answered && lastErr != nil {
		return nil, lastErr
	}
	return found, nil
}

func findSPF(txt []string) string {
	for _, t := range txt {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "v=spf1") {
			return t
		}
	}
	return ""
}
