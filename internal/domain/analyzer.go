// Package domain parses sender addresses into registrable-domain parts and
// flags gibberish, suspicious and known-legitimate domains.
package domain

import (
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
)

var (
	lettersDigitsRe = regexp.MustCompile(`^[a-z]+\d+[a-z]+\d*$`)
	digitRunRe      = regexp.MustCompile(`\d+`)
	alternationRe   = regexp.MustCompile(`\d[a-z]\d`)
)

// Analyzer implements core.DomainAnalyzer. It performs no network I/O.
type Analyzer struct {
	patterns patterns.Source
}

// NewAnalyzer creates an analyzer reading heuristics tables from src
func NewAnalyzer(src patterns.Source) *Analyzer {
	return &Analyzer{patterns: src}
}

// Analyze parses sender and flags the domain
func (a *Analyzer) Analyze(sender string) core.DomainProfile {
	domain := DomainOf(sender)
	if domain == "" {
		return invalidProfile()
	}
	return a.analyzeDomain(domain)
}

// DomainOf returns the lower-cased domain of sender, or "" when it has none
func DomainOf(sender string) string {
	addr := ExtractAddress(sender)
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(addr[at+1:])), ".")
	if strings.ContainsAny(domain, " @") {
		return ""
	}
	return domain
}

// AnalyzeDomain flags a bare domain
func (a *Analyzer) AnalyzeDomain(domain string) core.DomainProfile {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return invalidProfile()
	}
	return a.analyzeDomain(domain)
}

func (a *Analyzer) analyzeDomain(domain string) core.DomainProfile {
	lib := a.patterns.Current()

	suffix, _ := publicsuffix.PublicSuffix(domain)
	registrable, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		registrable = domain
	}
	name := strings.TrimSuffix(registrable, "."+suffix)
	if name == registrable && suffix == registrable {
		name = ""
	}
	subdomain := ""
	if domain != registrable {
		subdomain = strings.TrimSuffix(domain, "."+registrable)
	}

	gibberish := IsGibberish(name, lib.WordFragments())
	return core.DomainProfile{
		Domain:       domain,
		Subdomain:    subdomain,
		Name:         name,
		Suffix:       suffix,
		Registrable:  registrable,
		IsGibberish:  gibberish,
		IsSuspicious: isSuspicious(name, suffix, gibberish, lib),
		IsLegitimate: lib.IsLegitimate(domain),
		IsValid:      true,
	}
}

func invalidProfile() core.DomainProfile {
	return core.DomainProfile{IsValid: false, IsSuspicious: true, IsGibberish: true}
}

// ExtractAddress returns the bare address of a "Name <addr>" sender
func ExtractAddress(sender string) string {
	sender = strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(sender); err == nil {
		return parsed.Address
	}
	if open := strings.LastIndex(sender, "<"); open >= 0 {
		rest := sender[open+1:]
		if end := strings.Index(rest, ">"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return sender
}

// DisplayName returns the display-name part of a "Name <addr>" sender
func DisplayName(sender string) string {
	if parsed, err := mail.ParseAddress(strings.TrimSpace(sender)); err == nil {
		return parsed.Name
	}
	if open := strings.LastIndex(sender, "<"); open > 0 {
		return strings.Trim(strings.TrimSpace(sender[:open]), `"`)
	}
	return ""
}

// IsGibberish reports whether a registrable name looks machine-generated
func IsGibberish(name string, fragments []string) bool {
	name = strings.ToLower(name)
	if len(name) <= 3 {
		return true
	}
	if len(name) > 12 && !containsFragment(name, fragments) {
		return true
	}
	if lettersDigitsRe.MatchString(name) || len(digitRunRe.FindAllString(name, -1)) >= 2 {
		return true
	}

	signals := 0
	if hasRepeatedChunk(name) {
		signals++
	}
	if maxRun(name, isConsonant) >= 4 {
		signals++
	}
	if maxRun(name, isVowel) >= 3 {
		signals++
	}
	if signals >= 2 {
		return true
	}

	return len(name) > 6 && consonantRatio(name) > 0.8
}

func isSuspicious(name, suffix string, gibberish bool, lib *patterns.Compiled) bool {
	if lib.IsHighAbuseTLD(suffix) && (len(name) > 10 || gibberish) {
		return true
	}
	digits := 0
	for _, r := range name {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 3 || alternationRe.MatchString(name)
}

func containsFragment(name string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// hasRepeatedChunk reports a 2 or 3 letter substring occurring twice without overlap
func hasRepeatedChunk(name string) bool {
	for size := 2; size <= 3; size++ {
		for i := 0; i+size <= len(name); i++ {
			chunk := name[i : i+size]
			if !isLetters(chunk) {
				continue
			}
			if strings.Contains(name[i+size:], chunk) {
				return true
			}
		}
	}
	return false
}

func isLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isConsonant(b byte) bool {
	return b >= 'a' && b <= 'z' && !isVowel(b)
}

func maxRun(s string, pred func(byte) bool) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if pred(s[i]) {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}

func consonantRatio(s string) float64 {
	letters, consonants := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] >= 'a' && s[i] <= 'z' {
			letters++
			if isConsonant(s[i]) {
				consonants++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(consonants) / float64(letters)
}
