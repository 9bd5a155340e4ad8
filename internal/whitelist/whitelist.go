package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker matches sender domains against an allow-list. An entry matches
// itself and every subdomain below it.
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new allow-list checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}

	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = normalize(domain)
		if domain != "" {
			normalized[domain] = struct{}{}
		}
	}

	if len(normalized) > 0 {
		logger.Debug("Initialized allow-list checker", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// Len returns the number of allow-listed domains
func (c *Checker) Len() int {
	return len(c.domains)
}

// Match returns the allow-list entry covering domain, walking up the parent chain
func (c *Checker) Match(domain string) (string, bool) {
	domain = normalize(domain)
	for domain != "" {
		if _, ok := c.domains[domain]; ok {
			return domain, true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return "", false
}

// IsListed reports whether domain or one of its parents is allow-listed
func (c *Checker) IsListed(domain string) bool {
	_, ok := c.Match(domain)
	return ok
}

// IsWhitelisted checks if the sender address belongs to an allow-listed domain
func (c *Checker) IsWhitelisted(from string) bool {
	if len(c.domains) == 0 {
		return false
	}

	at := strings.LastIndex(from, "@")
	if at < 0 {
		return false
	}
	domain := strings.TrimRight(from[at+1:], "> ")

	entry, ok := c.Match(domain)
	if ok {
		c.logger.Debug("Domain is whitelisted",
			zap.String("domain", domain),
			zap.String("entry", entry),
			zap.String("email", from))
	}
	return ok
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
