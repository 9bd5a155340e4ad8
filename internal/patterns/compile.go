package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/whitelist"
)

// Source yields the library currently in use
type Source interface {
	Current() *Compiled
}

// Vendor categories with built-in preference defaults
const (
	VendorFinancial = "financial"
	VendorEcommerce = "ecommerce"
	VendorUtilities = "utilities"
	VendorStreaming = "streaming"
	VendorOther     = "other"
)

var vendorCategories = map[string]bool{
	VendorFinancial: true,
	VendorEcommerce: true,
	VendorUtilities: true,
	VendorStreaming: true,
	VendorOther:     true,
}

var subcategoryFields = map[string]bool{
	FieldSubject: true,
	FieldSender:  true,
	FieldBody:    true,
	FieldDomain:  true,
}

var (
	errEmpty       = errors.New("empty value")
	errMissingSet  = errors.New("required set missing")
	errBadWeight   = errors.New("weight must be positive")
	errBadField    = errors.New("unknown field")
	errBadCategory = errors.New("unknown category")
	errBadIntent   = errors.New("unknown intent")
	errBadRisk     = errors.New("risk must be within [0,1]")
	errNoDomains   = errors.New("no domains")
)

// Matcher finds whole-word occurrences of a set of phrases
type Matcher struct {
	re    *regexp.Regexp
	terms []string
}

// NewMatcher compiles terms into a single case-insensitive alternation.
// Word boundaries are only asserted next to word characters, so emoji and
// symbols like "$$$" still match.
func NewMatcher(terms []string) (*Matcher, error) {
	if len(terms) == 0 {
		return &Matcher{}, nil
	}
	parts := make([]string, 0, len(terms))
	// longest first so overlapping phrases report the most specific hit
	sorted := append([]string(nil), terms...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, t := range sorted {
		parts = append(parts, termExpr(t))
	}
	re, err := regexp.Compile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
	if err != nil {
		return nil, err
	}
	return &Matcher{re: re, terms: terms}, nil
}

func termExpr(term string) string {
	q := strings.ReplaceAll(regexp.QuoteMeta(term), " ", `\s+`)
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)
	if isWordRune(first) {
		q = `\b` + q
	}
	if isWordRune(last) {
		q += `\b`
	}
	return q
}

func isWordRune(r rune) bool {
	return r == '_' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

// Match reports whether any term occurs in text
func (m *Matcher) Match(text string) bool {
	if m == nil || m.re == nil {
		return false
	}
	return m.re.MatchString(text)
}

// Find returns the distinct terms occurring in text, in order of appearance
func (m *Matcher) Find(text string) []string {
	if m == nil || m.re == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, hit := range m.re.FindAllString(text, -1) {
		hit = strings.Join(strings.Fields(strings.ToLower(hit)), " ")
		if seen[hit] {
			continue
		}
		seen[hit] = true
		out = append(out, hit)
	}
	return out
}

// Count returns the number of distinct terms occurring in text
func (m *Matcher) Count(text string) int {
	return len(m.Find(text))
}

// Terms returns the phrases the matcher was built from
func (m *Matcher) Terms() []string {
	if m == nil {
		return nil
	}
	return m.terms
}

// CompiledBrand is a brand with its name matcher
type CompiledBrand struct {
	Name              string
	LegitimateDomains []string
	names             *Matcher
}

// Mentioned reports whether the brand name or an alias occurs in text
func (b *CompiledBrand) Mentioned(text string) bool {
	return b.names.Match(text)
}

// OwnsDomain reports whether domain equals or is a subdomain of a legitimate brand domain
func (b *CompiledBrand) OwnsDomain(domain string) bool {
	return MatchesDomain(domain, b.LegitimateDomains)
}

// SubcategoryRule is one compiled weighted subcategory pattern
type SubcategoryRule struct {
	Subcategory string
	Field       string
	Pattern     string
	Weight      float64
	Re          *regexp.Regexp
}

// CompiledIntent is a compiled sender/keyword/regex pattern set
type CompiledIntent struct {
	Senders  []string
	Keywords []*Matcher
	Regexes  []*regexp.Regexp
}

// CompiledVendor is a vendor with compiled intent tables
type CompiledVendor struct {
	Name          string
	Category      string
	Domains       []string
	Aliases       []string
	Transactional CompiledIntent
	Marketing     CompiledIntent
}

// Compiled is a validated library with every matcher prepared. It is
// immutable and safe for concurrent use.
type Compiled struct {
	Version string

	source *Library

	legitimate     []string
	allow          *whitelist.Checker
	webmail        map[string]bool
	highAbuseTLDs  map[string]bool
	corporateTLDs  map[string]bool
	scamNewsletter []string
	fragments      []string
	brands         []*CompiledBrand
	keywords       map[string]*Matcher
	regexes        map[string][]*regexp.Regexp
	political      *Matcher
	personas       *Matcher
	bulkPrefixes   []string
	bulkInfra      []string
	certIssuers    []string
	hosting        []string
	countryRisk    map[string]float64
	registrarRisk  map[string]float64
	subcategories  map[core.Category][]SubcategoryRule
	vendors        []*CompiledVendor
	universal      map[core.Intent]CompiledIntent
	consolidation  map[string]core.Category
}

// Compile validates the library and prepares its matchers. The first
// malformed entry is returned as a *core.PatternError.
func Compile(lib *Library) (*Compiled, error) {
	src := lib.Clone()
	src.Normalize()

	c := &Compiled{
		Version:        src.Version,
		source:         src,
		legitimate:     src.LegitimateDomains,
		allow:          whitelist.NewChecker(src.LegitimateDomains, nil),
		webmail:        toSet(src.PersonalWebmailDomains),
		highAbuseTLDs:  toSet(src.HighAbuseTLDs),
		corporateTLDs:  toSet(src.CorporateTLDs),
		scamNewsletter: src.ScamNewsletterDomains,
		bulkPrefixes:   src.BulkMailPrefixes,
		bulkInfra:      src.BulkMailInfrastructure,
		certIssuers:    src.ReputableCertIssuers,
		hosting:        src.ReputableHosting,
		keywords:       make(map[string]*Matcher, len(src.Keywords)),
		regexes:        make(map[string][]*regexp.Regexp, len(src.Regexes)),
		subcategories:  make(map[core.Category][]SubcategoryRule, len(src.Subcategories)),
		universal:      make(map[core.Intent]CompiledIntent, len(src.UniversalIntents)),
		consolidation:  make(map[string]core.Category, len(src.CategoryConsolidation)),
	}

	for _, f := range src.CommonWordFragments {
		if len(f) >= 3 {
			c.fragments = append(c.fragments, f)
		}
	}

	for i, b := range src.Brands {
		if b.Name == "" {
			return nil, &core.PatternError{Table: "brands", Index: i, Field: "name", Err: errEmpty}
		}
		if len(b.LegitimateDomains) == 0 {
			return nil, &core.PatternError{Table: "brands", Index: i, Field: "legitimate_domains", Err: errNoDomains}
		}
		m, err := NewMatcher(append([]string{b.Name}, b.Aliases...))
		if err != nil {
			return nil, &core.PatternError{Table: "brands", Index: i, Field: "name", Err: err}
		}
		c.brands = append(c.brands, &CompiledBrand{Name: b.Name, LegitimateDomains: b.LegitimateDomains, names: m})
	}

	for _, name := range RequiredKeywordSets {
		if len(src.Keywords[name]) == 0 {
			return nil, &core.PatternError{Table: "keywords", Index: -1, Field: name, Err: errMissingSet}
		}
	}
	for _, name := range src.KeywordSetNames() {
		m, err := NewMatcher(src.Keywords[name])
		if err != nil {
			return nil, &core.PatternError{Table: "keywords", Index: -1, Field: name, Err: err}
		}
		c.keywords[name] = m
	}

	for name, exprs := range src.Regexes {
		compiled := make([]*regexp.Regexp, 0, len(exprs))
		for i, expr := range exprs {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, &core.PatternError{Table: "regexes." + name, Index: i, Err: err}
			}
			compiled = append(compiled, re)
		}
		c.regexes[name] = compiled
	}

	var err error
	if c.political, err = NewMatcher(src.PoliticalFigures); err != nil {
		return nil, &core.PatternError{Table: "political_figures", Index: -1, Field: "terms", Err: err}
	}
	if c.personas, err = NewMatcher(src.ScamPersonas); err != nil {
		return nil, &core.PatternError{Table: "scam_personas", Index: -1, Field: "terms", Err: err}
	}

	if c.countryRisk, err = checkRisk("country_risk", src.CountryRisk); err != nil {
		return nil, err
	}
	if c.registrarRisk, err = checkRisk("registrar_risk", src.RegistrarRisk); err != nil {
		return nil, err
	}

	for catName, entries := range src.Subcategories {
		cat, ok := core.ParseCategory(catName)
		if !ok {
			return nil, &core.PatternError{Table: "subcategories", Index: -1, Field: catName, Err: errBadCategory}
		}
		rules := make([]SubcategoryRule, 0, len(entries))
		for i, e := range entries {
			table := "subcategories." + catName
			if e.Subcategory == "" {
				return nil, &core.PatternError{Table: table, Index: i, Field: "subcategory", Err: errEmpty}
			}
			if !subcategoryFields[e.Field] {
				return nil, &core.PatternError{Table: table, Index: i, Field: "field", Err: fmt.Errorf("%w: %q", errBadField, e.Field)}
			}
			if e.Weight <= 0 {
				return nil, &core.PatternError{Table: table, Index: i, Field: "weight", Err: errBadWeight}
			}
			re, err := regexp.Compile("(?i)" + e.Pattern)
			if err != nil || e.Pattern == "" {
				if err == nil {
					err = errEmpty
				}
				return nil, &core.PatternError{Table: table, Index: i, Field: "pattern", Err: err}
			}
			rules = append(rules, SubcategoryRule{
				Subcategory: e.Subcategory,
				Field:       e.Field,
				Pattern:     e.Pattern,
				Weight:      e.Weight,
				Re:          re,
			})
		}
		c.subcategories[cat] = rules
	}

	for i, v := range src.Vendors {
		if v.Name == "" {
			return nil, &core.PatternError{Table: "vendors", Index: i, Field: "name", Err: errEmpty}
		}
		if len(v.Domains) == 0 {
			return nil, &core.PatternError{Table: "vendors", Index: i, Field: "domains", Err: errNoDomains}
		}
		if v.Category == "" {
			v.Category = VendorOther
		}
		if !vendorCategories[v.Category] {
			return nil, &core.PatternError{Table: "vendors", Index: i, Field: "category", Err: fmt.Errorf("%w: %q", errBadCategory, v.Category)}
		}
		tx, err := compileIntent(v.Transactional)
		if err != nil {
			return nil, &core.PatternError{Table: "vendors", Index: i, Field: "transactional", Err: err}
		}
		mk, err := compileIntent(v.Marketing)
		if err != nil {
			return nil, &core.PatternError{Table: "vendors", Index: i, Field: "marketing", Err: err}
		}
		c.vendors = append(c.vendors, &CompiledVendor{
			Name:          v.Name,
			Category:      v.Category,
			Domains:       v.Domains,
			Aliases:       v.Aliases,
			Transactional: tx,
			Marketing:     mk,
		})
	}

	for name, p := range src.UniversalIntents {
		intent := core.Intent(name)
		if !knownIntent(intent) {
			return nil, &core.PatternError{Table: "universal_intents", Index: -1, Field: name, Err: errBadIntent}
		}
		ci, err := compileIntent(p)
		if err != nil {
			return nil, &core.PatternError{Table: "universal_intents", Index: -1, Field: name, Err: err}
		}
		c.universal[intent] = ci
	}

	for raw, canonical := range src.CategoryConsolidation {
		cat, ok := core.ParseCategory(canonical)
		if !ok {
			return nil, &core.PatternError{Table: "category_consolidation", Index: -1, Field: raw, Err: fmt.Errorf("%w: %q", errBadCategory, canonical)}
		}
		c.consolidation[raw] = cat
	}

	return c, nil
}

func compileIntent(p IntentPatterns) (CompiledIntent, error) {
	ci := CompiledIntent{Senders: p.Senders}
	for _, kw := range p.Keywords {
		m, err := NewMatcher([]string{kw})
		if err != nil {
			return ci, fmt.Errorf("keyword %q: %w", kw, err)
		}
		ci.Keywords = append(ci.Keywords, m)
	}
	for _, expr := range p.Regexes {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return ci, fmt.Errorf("regex %q: %w", expr, err)
		}
		ci.Regexes = append(ci.Regexes, re)
	}
	return ci, nil
}

func knownIntent(i core.Intent) bool {
	for _, known := range core.Intents {
		if i == known {
			return true
		}
	}
	return false
}

func checkRisk(table string, in map[string]float64) (map[string]float64, error) {
	for k, v := range in {
		if v < 0 || v > 1 {
			return nil, &core.PatternError{Table: table, Index: -1, Field: k, Err: errBadRisk}
		}
	}
	return in, nil
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[s] = true
	}
	return out
}

// MatchesDomain reports whether domain equals an entry or is a subdomain of one
func MatchesDomain(domain string, entries []string) bool {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	for _, e := range entries {
		if domain == e || strings.HasSuffix(domain, "."+e) {
			return true
		}
	}
	return false
}

// Library returns a copy of the normalized source tables
func (c *Compiled) Library() *Library {
	return c.source.Clone()
}

// Current returns c, so a fixed library can stand in for a Holder
func (c *Compiled) Current() *Compiled { return c }

// LegitimateDomains returns the allow-list
func (c *Compiled) LegitimateDomains() []string { return c.legitimate }

// IsLegitimate reports whether domain is, or is below, an allow-listed domain
func (c *Compiled) IsLegitimate(domain string) bool {
	return c.allow.IsListed(domain)
}

// IsPersonalWebmail reports whether domain is a free personal mailbox provider
func (c *Compiled) IsPersonalWebmail(domain string) bool {
	return c.webmail[strings.ToLower(domain)]
}

// IsHighAbuseTLD reports whether the public suffix is commonly abused
func (c *Compiled) IsHighAbuseTLD(suffix string) bool {
	return c.highAbuseTLDs[strings.TrimPrefix(strings.ToLower(suffix), ".")]
}

// IsCorporateTLD reports whether the public suffix is conventional for companies
func (c *Compiled) IsCorporateTLD(suffix string) bool {
	return c.corporateTLDs[strings.TrimPrefix(strings.ToLower(suffix), ".")]
}

// IsScamNewsletterDomain reports whether domain belongs to a known scam newsletter
func (c *Compiled) IsScamNewsletterDomain(domain string) bool {
	return MatchesDomain(domain, c.scamNewsletter)
}

// WordFragments returns the recognizable word fragments (length >= 3)
func (c *Compiled) WordFragments() []string { return c.fragments }

// Brands returns the brand table in declaration order
func (c *Compiled) Brands() []*CompiledBrand { return c.brands }

// Keywords returns the named keyword matcher; unknown names yield an empty matcher
func (c *Compiled) Keywords(name string) *Matcher {
	if m, ok := c.keywords[name]; ok {
		return m
	}
	return &Matcher{}
}

// MatchRegex reports whether any expression of the named regex set matches text
func (c *Compiled) MatchRegex(name, text string) bool {
	for _, re := range c.regexes[name] {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// FindRegex returns every match of the named regex set in text
func (c *Compiled) FindRegex(name, text string) []string {
	var out []string
	for _, re := range c.regexes[name] {
		out = append(out, re.FindAllString(text, -1)...)
	}
	return out
}

// PoliticalFigures returns the political-figure matcher
func (c *Compiled) PoliticalFigures() *Matcher { return c.political }

// ScamPersonas returns the scam-newsletter persona matcher
func (c *Compiled) ScamPersonas() *Matcher { return c.personas }

// BulkMailPrefixes returns subdomain labels typical of bulk senders
func (c *Compiled) BulkMailPrefixes() []string { return c.bulkPrefixes }

// BulkMailInfrastructure returns known bulk-mail sending hosts
func (c *Compiled) BulkMailInfrastructure() []string { return c.bulkInfra }

// ReputableCertIssuers returns issuer organization fragments considered reputable
func (c *Compiled) ReputableCertIssuers() []string { return c.certIssuers }

// ReputableHosting returns reverse-DNS fragments of reputable hosting providers
func (c *Compiled) ReputableHosting() []string { return c.hosting }

// CountryRisk returns the risk tier for an ISO country code and whether it is known
func (c *Compiled) CountryRisk(code string) (float64, bool) {
	v, ok := c.countryRisk[strings.ToLower(code)]
	return v, ok
}

// RegistrarRisk returns the risk tier of a registrar whose name contains a known key
func (c *Compiled) RegistrarRisk(registrar string) (float64, bool) {
	registrar = strings.ToLower(registrar)
	keys := make([]string, 0, len(c.registrarRisk))
	for k := range c.registrarRisk {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(registrar, k) {
			return c.registrarRisk[k], true
		}
	}
	return 0, false
}

// Subcategories returns the ordered weighted pattern table for category
func (c *Compiled) Subcategories(category core.Category) []SubcategoryRule {
	return c.subcategories[category]
}

// Vendors returns the vendor table in declaration order
func (c *Compiled) Vendors() []*CompiledVendor { return c.vendors }

// Universal returns the cross-vendor pattern set for intent
func (c *Compiled) Universal(intent core.Intent) CompiledIntent {
	return c.universal[intent]
}

// Consolidate maps a raw category label to its canonical category
func (c *Compiled) Consolidate(raw string) (core.Category, bool) {
	if cat, ok := core.ParseCategory(raw); ok {
		return cat, true
	}
	cat, ok := c.consolidation[strings.ToLower(strings.TrimSpace(raw))]
	return cat, ok
}

// ConsolidationTable returns a copy of the raw-to-canonical label map
func (c *Compiled) ConsolidationTable() map[string]core.Category {
	out := make(map[string]core.Category, len(c.consolidation))
	for raw, cat := range c.consolidation {
		out[raw] = cat
	}
	return out
}
