package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/trust"
)

// Config configures the resolver. Servers take precedence over ResolvConf.
type Config struct {
	Servers    []string
	ResolvConf string
	Timeout    time.Duration
}

// Resolver implements trust.DNSLookup with direct queries to recursive servers
type Resolver struct {
	servers []string
	client  *mdns.Client
	logger  *zap.Logger
}

// NewResolver builds a resolver from explicit servers or a resolv.conf file
func NewResolver(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		path := cfg.ResolvConf
		if path == "" {
			path = "/etc/resolv.conf"
		}
		conf, err := mdns.ClientConfigFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read resolver config %s: %w", path, err)
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no DNS servers configured")
	}

	logger.Info("DNS resolver configured", zap.Strings("servers", servers))
	return &Resolver{
		servers: servers,
		client:  &mdns.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Available reports whether the resolver has servers to query
func (r *Resolver) Available() bool { return len(r.servers) > 0 }

// LookupTXT returns the TXT strings of name, each record's chunks joined
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg, err := r.query(ctx, name, mdns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ans := range msg.Answer {
		if t, ok := ans.(*mdns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	return out, nil
}

// LookupMX returns mail exchanger hosts ordered by preference
func (r *Resolver) LookupMX(ctx context.Context, name string) ([]string, error) {
	msg, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return nil, err
	}
	type mx struct {
		host string
		pref uint16
	}
	var found []mx
	for _, ans := range msg.Answer {
		if m, ok := ans.(*mdns.MX); ok {
			found = append(found, mx{host: strings.TrimSuffix(strings.ToLower(m.Mx), "."), pref: m.Preference})
		}
	}
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].pref < found[j-1].pref; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	out := make([]string, len(found))
	for i, m := range found {
		out[i] = m.host
	}
	return out, nil
}

// LookupA returns the IPv4 addresses of name
func (r *Resolver) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	msg, err := r.query(ctx, name, mdns.TypeA)
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, ans := range msg.Answer {
		if a, ok := ans.(*mdns.A); ok {
			out = append(out, a.A)
		}
	}
	return out, nil
}

// LookupPTR returns the reverse names of ip
func (r *Resolver) LookupPTR(ctx context.Context, ip net.IP) ([]string, error) {
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", ip, err)
	}
	msg, err := r.query(ctx, arpa, mdns.TypePTR)
	if err != nil {
		if errors.Is(err, trust.ErrNXDomain) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, ans := range msg.Answer {
		if p, ok := ans.(*mdns.PTR); ok {
			out = append(out, strings.TrimSuffix(strings.ToLower(p.Ptr), "."))
		}
	}
	return out, nil
}

// query asks each server in turn until one gives an authoritative answer
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			r.logger.Debug("DNS query failed",
				zap.String("server", server),
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		switch resp.Rcode {
		case mdns.RcodeSuccess:
			return resp, nil
		case mdns.RcodeNameError:
			return nil, trust.ErrNXDomain
		default:
			lastErr = fmt.Errorf("%s lookup for %s: %s", mdns.TypeToString[qtype], name, mdns.RcodeToString[resp.Rcode])
		}
	}
	return nil, lastErr
}
