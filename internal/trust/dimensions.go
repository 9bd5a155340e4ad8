package trust

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"strings"
	"unicode"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-msgauth/authres"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/rules"
)

// Defaults used when the lookups behind a dimension could not run
const (
	DefaultAuthentication = 0.5
	DefaultNetwork        = 0.5
	DefaultGeographic     = 0.3
)

// Authentication component maxima. A component whose lookup failed scores
// half its maximum, so a fully failed lookup set lands on DefaultAuthentication.
const (
	spfMax   = 0.35
	dkimMax  = 0.30
	dmarcMax = 0.35
)

// evidence is what the receiving MTA recorded in Authentication-Results
type evidence struct {
	spf, dkim, dmarc authres.ResultValue
}

func (e evidence) empty() bool {
	return e.spf == "" && e.dkim == "" && e.dmarc == ""
}

// parseAuthResults reads the Authentication-Results fields of a raw header block
func parseAuthResults(headers string) evidence {
	var ev evidence
	if !strings.Contains(strings.ToLower(headers), "authentication-results") {
		return ev
	}
	block := strings.TrimRight(headers, "\r\n") + "\r\n\r\n"
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
	if err != nil {
		return ev
	}
	fields := h.FieldsByKey("Authentication-Results")
	for fields.Next() {
		v := strings.NewReplacer("\r\n", "", "\n", "").Replace(fields.Value())
		_, results, err := authres.Parse(v)
		if err != nil {
			continue
		}
		for _, r := range results {
			switch res := r.(type) {
			case *authres.SPFResult:
				ev.spf = stronger(ev.spf, res.Value)
			case *authres.DKIMResult:
				ev.dkim = stronger(ev.dkim, res.Value)
			case *authres.DMARCResult:
				ev.dmarc = stronger(ev.dmarc, res.Value)
			}
		}
	}
	return ev
}

// stronger keeps a pass over anything else and a fail over neutral outcomes
func stronger(have, next authres.ResultValue) authres.ResultValue {
	rank := func(v authres.ResultValue) int {
		switch v {
		case authres.ResultPass:
			return 3
		case authres.ResultFail:
			return 2
		case "":
			return 0
		default:
			return 1
		}
	}
	if rank(next) > rank(have) {
		return next
	}
	return have
}

func evidenceDelta(v authres.ResultValue) float64 {
	switch v {
	case authres.ResultPass:
		return 0.1
	case authres.ResultFail:
		return -0.2
	case authres.ResultSoftFail:
		return -0.1
	}
	return 0
}

func authentication(intel *DomainIntel, ev evidence, reasons *[]string) float64 {
	var score float64
	switch {
	case intel == nil:
		score = DefaultAuthentication
		*reasons = append(*reasons, "Sender has no resolvable domain")
	case intel.NXDomain:
		score = 0
		*reasons = append(*reasons, "Sending domain does not exist")
	case !intel.OK(LookupSPF) && !intel.OK(LookupDKIM) && !intel.OK(LookupDMARC):
		score = DefaultAuthentication
		*reasons = append(*reasons, "Authentication lookups failed")
	default:
		score += spfScore(intel, reasons)
		score += dkimScore(intel, reasons)
		score += dmarcScore(intel, reasons)
	}

	if !ev.empty() {
		score += evidenceDelta(ev.spf) + evidenceDelta(ev.dkim) + evidenceDelta(ev.dmarc)
		*reasons = append(*reasons, fmt.Sprintf("Receiver authentication results: spf=%s dkim=%s dmarc=%s",
			orNone(ev.spf), orNone(ev.dkim), orNone(ev.dmarc)))
	}
	return clamp(score)
}

func spfScore(intel *DomainIntel, reasons *[]string) float64 {
	if !intel.OK(LookupSPF) {
		return spfMax / 2
	}
	if intel.SPF == "" {
		*reasons = append(*reasons, "No SPF record")
		return 0
	}
	switch intel.SPFQualifier() {
	case "-":
		return spfMax
	case "~":
		return 0.3
	case "?", "+":
		*reasons = append(*reasons, "SPF record does not restrict senders")
		return 0.15
	default:
		return 0.2
	}
}

func dkimScore(intel *DomainIntel, reasons *[]string) float64 {
	if !intel.OK(LookupDKIM) {
		return dkimMax / 2
	}
	if len(intel.DKIMSelectors) == 0 {
		*reasons = append(*reasons, "No DKIM key under common selectors")
		return 0
	}
	return dkimMax
}

func dmarcScore(intel *DomainIntel, reasons *[]string) float64 {
	if !intel.OK(LookupDMARC) {
		return dmarcMax / 2
	}
	switch intel.DMARCPolicy {
	case "reject":
		return dmarcMax
	case "quarantine":
		return 0.3
	case "none":
		*reasons = append(*reasons, "DMARC policy is monitor-only")
		return 0.15
	default:
		*reasons = append(*reasons, "No DMARC policy")
		return 0
	}
}

func business(p core.DomainProfile, display string, intel *DomainIntel, lib *patterns.Compiled, reasons *[]string) float64 {
	if !p.IsValid {
		*reasons = append(*reasons, "Sender address is unparseable")
		return 0
	}
	score := 0.5

	if p.IsLegitimate {
		score += 0.3
		*reasons = append(*reasons, "Domain is on the legitimate allow-list")
	}
	if lib.IsCorporateTLD(p.Suffix) {
		score += 0.1
	}
	if lib.IsHighAbuseTLD(p.Suffix) {
		score -= 0.25
		*reasons = append(*reasons, fmt.Sprintf("High-abuse TLD .%s", p.Suffix))
	}
	if p.IsGibberish {
		score -= 0.25
		*reasons = append(*reasons, fmt.Sprintf("Domain name %q looks machine-generated", p.Name))
	}
	if p.IsSuspicious {
		score -= 0.15
	}
	if p.Subdomain != "" {
		first := strings.SplitN(p.Subdomain, ".", 2)[0]
		for _, prefix := range lib.BulkMailPrefixes() {
			if first == prefix {
				score += 0.05
				break
			}
		}
	}

	if folded := rules.Normalize(display); folded != "" {
		for _, brand := range lib.Brands() {
			if !brand.Mentioned(folded) {
				continue
			}
			if brand.OwnsDomain(p.Domain) {
				score += 0.1
			} else {
				score -= 0.4
				*reasons = append(*reasons, fmt.Sprintf("Display name claims %s but domain is %s", brand.Name, p.Domain))
			}
			break
		}
	}

	if intel != nil {
		if intel.NXDomain {
			score -= 0.3
		}
		if hostsMatch(append(append([]string{}, intel.MX...), intel.PTR...), lib.BulkMailInfrastructure()) {
			score += 0.1
			*reasons = append(*reasons, "Sent through known bulk-mail infrastructure")
		}
		if intel.OK(LookupTLS) && intel.Cert != nil {
			switch {
			case !intel.Cert.Valid:
				score -= 0.1
				*reasons = append(*reasons, "TLS certificate is invalid")
			case containsAny(intel.Cert.Issuer, lib.ReputableCertIssuers()):
				score += 0.1
			default:
				score += 0.05
			}
		}
	}
	return clamp(score)
}

func content(subject, display string, lib *patterns.Compiled, reasons *[]string) float64 {
	folded := rules.Normalize(subject)

	entropyRisk := 0.0
	if len([]rune(folded)) >= 8 {
		entropyRisk = clamp(ShannonEntropy(folded) - 4.0)
	}
	lookalike := rules.LookalikeRatio(display)
	if lookalike > 0 {
		*reasons = append(*reasons, fmt.Sprintf("%.0f%% of display-name letters are lookalikes", lookalike*100))
	}

	urgency := 0.0
	if n := lib.Keywords(patterns.SetUrgency).Count(folded); n > 0 {
		urgency = math.Min(0.2*float64(n), 0.4)
		*reasons = append(*reasons, "Subject uses pressure language")
	}
	greeting := 0.0
	if lib.Keywords(patterns.SetGenericGreeting).Match(folded) {
		greeting = 0.1
	}
	shouting := 0.0
	if strings.Contains(subject, "!!!") || upperRatio(subject) > 0.6 {
		shouting = 0.1
	}

	return clamp(0.25*entropyRisk + 0.5*lookalike + urgency + greeting + shouting)
}

func geographic(intel *DomainIntel, lib *patterns.Compiled, reasons *[]string) float64 {
	if intel == nil {
		return DefaultGeographic
	}
	var tiers []float64
	if intel.Registration != nil {
		if v, ok := lib.CountryRisk(intel.Registration.Country); ok {
			tiers = append(tiers, v)
		}
		if v, ok := lib.RegistrarRisk(intel.Registration.Registrar); ok {
			tiers = append(tiers, v)
		}
	}
	if intel.Country != "" {
		if v, ok := lib.CountryRisk(intel.Country); ok {
			tiers = append(tiers, v)
		}
	}

	score := DefaultGeographic
	if len(tiers) > 0 {
		sum := 0.0
		for _, t := range tiers {
			sum += t
		}
		score = sum / float64(len(tiers))
	}

	for _, a := range intel.A {
		if ip := net.ParseIP(a); ip != nil && IsReservedIP(ip) {
			score = math.Max(score, 0.9)
			*reasons = append(*reasons, fmt.Sprintf("Domain resolves to reserved address %s", a))
			break
		}
	}
	if score >= 0.7 {
		*reasons = append(*reasons, "High-risk registration or hosting jurisdiction")
	}
	return clamp(score)
}

func network(intel *DomainIntel, lib *patterns.Compiled, reasons *[]string) float64 {
	if intel == nil {
		return DefaultNetwork
	}
	if intel.NXDomain {
		return 0
	}
	if !intel.OK(LookupA) && !intel.OK(LookupMX) && !intel.OK(LookupSPF) {
		return DefaultNetwork
	}

	score := 0.0
	if len(intel.A) > 0 {
		score += 0.2
	}
	if len(intel.MX) > 0 {
		score += 0.2
	} else if intel.OK(LookupMX) {
		*reasons = append(*reasons, "Domain has no MX records")
	}
	if intel.SPF != "" {
		score += 0.15
	}
	if intel.DMARCPolicy != "" {
		score += 0.15
	}
	if c := intel.Cert; c != nil && c.Valid {
		score += 0.15
		if containsAny(c.Issuer, lib.ReputableCertIssuers()) {
			score += 0.05
		}
	}
	if hostsMatch(intel.PTR, lib.ReputableHosting()) {
		score += 0.1
	}
	return clamp(score)
}

// ShannonEntropy returns the per-character entropy of s in bits
func ShannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

var reservedNets = mustCIDRs(
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8",
	"169.254.0.0/16", "172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24",
	"192.168.0.0/16", "198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24",
	"224.0.0.0/4", "240.0.0.0/4", "::1/128", "fc00::/7", "fe80::/10", "2001:db8::/32",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// IsReservedIP reports whether ip is in a private, loopback, documentation or otherwise reserved range
func IsReservedIP(ip net.IP) bool {
	if ip.IsUnspecified() {
		return true
	}
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func hostsMatch(hosts, entries []string) bool {
	for _, h := range hosts {
		h = strings.TrimSuffix(strings.ToLower(h), ".")
		for _, e := range entries {
			if strings.Contains(h, e) {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, entries []string) bool {
	s = strings.ToLower(s)
	for _, e := range entries {
		if strings.Contains(s, e) {
			return true
		}
	}
	return false
}

func upperRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < 10 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func orNone(v authres.ResultValue) string {
	if v == "" {
		return "none"
	}
	return string(v)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
