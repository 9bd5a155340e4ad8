// Package patterns holds the versioned, data-driven tables used by every
// rule-based component: brand names, allow-lists, keyword sets, regular
// expressions, subcategory weights and vendor intent tables.
//
// A Library is plain data that round-trips through YAML or TOML. Compile
// validates it and returns a Compiled value with every matcher prepared;
// malformed tables fail at load time rather than at classification time.
package patterns

import (
	"sort"
	"strings"
)

// Library is the serializable form of the pattern tables
type Library struct {
	Version                string                          `yaml:"version" toml:"version"`
	LegitimateDomains      []string                        `yaml:"legitimate_domains" toml:"legitimate_domains"`
	PersonalWebmailDomains []string                        `yaml:"personal_webmail_domains" toml:"personal_webmail_domains"`
	HighAbuseTLDs          []string                        `yaml:"high_abuse_tlds" toml:"high_abuse_tlds"`
	CorporateTLDs          []string                        `yaml:"corporate_tlds" toml:"corporate_tlds"`
	CommonWordFragments    []string                        `yaml:"common_word_fragments" toml:"common_word_fragments"`
	Brands                 []Brand                         `yaml:"brands" toml:"brands"`
	Keywords               map[string][]string             `yaml:"keywords" toml:"keywords"`
	Regexes                map[string][]string             `yaml:"regexes" toml:"regexes"`
	PoliticalFigures       []string                        `yaml:"political_figures" toml:"political_figures"`
	ScamNewsletterDomains  []string                        `yaml:"scam_newsletter_domains" toml:"scam_newsletter_domains"`
	ScamPersonas           []string                        `yaml:"scam_personas" toml:"scam_personas"`
	BulkMailPrefixes       []string                        `yaml:"bulk_mail_prefixes" toml:"bulk_mail_prefixes"`
	BulkMailInfrastructure []string                        `yaml:"bulk_mail_infrastructure" toml:"bulk_mail_infrastructure"`
	ReputableCertIssuers   []string                        `yaml:"reputable_cert_issuers" toml:"reputable_cert_issuers"`
	ReputableHosting       []string                        `yaml:"reputable_hosting" toml:"reputable_hosting"`
	CountryRisk            map[string]float64              `yaml:"country_risk" toml:"country_risk"`
	RegistrarRisk          map[string]float64              `yaml:"registrar_risk" toml:"registrar_risk"`
	Subcategories          map[string][]SubcategoryPattern `yaml:"subcategories" toml:"subcategories"`
	Vendors                []Vendor                        `yaml:"vendors" toml:"vendors"`
	UniversalIntents       map[string]IntentPatterns       `yaml:"universal_intents" toml:"universal_intents"`
	CategoryConsolidation  map[string]string               `yaml:"category_consolidation" toml:"category_consolidation"`
}

// Brand is a recognizable brand and the domains it legitimately sends from
type Brand struct {
	Name              string   `yaml:"name" toml:"name"`
	Aliases           []string `yaml:"aliases,omitempty" toml:"aliases,omitempty"`
	LegitimateDomains []string `yaml:"legitimate_domains" toml:"legitimate_domains"`
}

// SubcategoryPattern is one weighted entry of a category's subcategory table
type SubcategoryPattern struct {
	Subcategory string  `yaml:"subcategory" toml:"subcategory"`
	Field       string  `yaml:"field" toml:"field"`
	Pattern     string  `yaml:"pattern" toml:"pattern"`
	Weight      float64 `yaml:"weight" toml:"weight"`
}

// IntentPatterns groups the sender, keyword and regex lists of one intent
type IntentPatterns struct {
	Senders  []string `yaml:"senders,omitempty" toml:"senders,omitempty"`
	Keywords []string `yaml:"keywords,omitempty" toml:"keywords,omitempty"`
	Regexes  []string `yaml:"regexes,omitempty" toml:"regexes,omitempty"`
}

// Vendor is a known sender organization and its intent tables
type Vendor struct {
	Name          string         `yaml:"name" toml:"name"`
	Category      string         `yaml:"category" toml:"category"`
	Domains       []string       `yaml:"domains" toml:"domains"`
	Aliases       []string       `yaml:"aliases,omitempty" toml:"aliases,omitempty"`
	Transactional IntentPatterns `yaml:"transactional" toml:"transactional"`
	Marketing     IntentPatterns `yaml:"marketing" toml:"marketing"`
}

// Subcategory fields
const (
	FieldSubject = "subject"
	FieldSender  = "sender"
	FieldBody    = "body"
	FieldDomain  = "domain"
)

// Keyword set names the detectors depend on
const (
	SetAdultTerms            = "adult_terms"
	SetAdultPhrases          = "adult_phrases"
	SetAdultEmoji            = "adult_emoji"
	SetAdultEmojiKeywords    = "adult_emoji_keywords"
	SetCredentialTheft       = "credential_theft"
	SetBilling               = "billing"
	SetPrize                 = "prize"
	SetDelivery              = "delivery"
	SetUrgency               = "urgency"
	SetFreeOffer             = "free_offer"
	SetCrisis                = "crisis"
	SetFinancialBusiness     = "financial_business"
	SetHealth                = "health"
	SetExaggeration          = "exaggeration"
	SetGambling              = "gambling"
	SetRealEstate            = "real_estate"
	SetInvestmentOpportunity = "investment_opportunity"
	SetLegal                 = "legal"
	SetScamIndicator         = "scam_indicator"
	SetPromotional           = "promotional"
	SetGenericGreeting       = "generic_greeting"
)

// Regex set names the detectors depend on
const (
	RegexNewsletterSubject = "newsletter_subject"
	RegexFreeOffer         = "free_offer"
	RegexMoney             = "money"
)

// RequiredKeywordSets lists the keyword sets every library must define
var RequiredKeywordSets = []string{
	SetAdultTerms, SetAdultPhrases, SetAdultEmoji, SetAdultEmojiKeywords,
	SetCredentialTheft, SetBilling, SetPrize, SetDelivery, SetUrgency,
	SetFreeOffer, SetCrisis, SetFinancialBusiness, SetHealth, SetExaggeration,
	SetGambling, SetRealEstate, SetInvestmentOpportunity, SetLegal,
	SetScamIndicator, SetPromotional, SetGenericGreeting,
}

// Normalize lower-cases and de-duplicates every list, preserving first-seen order.
// Two libraries describing the same effective pattern set normalize to equal values.
func (l *Library) Normalize() {
	l.Version = strings.TrimSpace(l.Version)
	l.LegitimateDomains = dedupe(l.LegitimateDomains)
	l.PersonalWebmailDomains = dedupe(l.PersonalWebmailDomains)
	l.HighAbuseTLDs = dedupeTLDs(l.HighAbuseTLDs)
	l.CorporateTLDs = dedupeTLDs(l.CorporateTLDs)
	l.CommonWordFragments = dedupe(l.CommonWordFragments)
	l.PoliticalFigures = dedupe(l.PoliticalFigures)
	l.ScamNewsletterDomains = dedupe(l.ScamNewsletterDomains)
	l.ScamPersonas = dedupe(l.ScamPersonas)
	l.BulkMailPrefixes = dedupe(l.BulkMailPrefixes)
	l.BulkMailInfrastructure = dedupe(l.BulkMailInfrastructure)
	l.ReputableCertIssuers = dedupe(l.ReputableCertIssuers)
	l.ReputableHosting = dedupe(l.ReputableHosting)

	brands := make([]Brand, 0, len(l.Brands))
	seenBrand := make(map[string]int)
	for _, b := range l.Brands {
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if idx, ok := seenBrand[name]; ok {
			brands[idx].Aliases = dedupe(append(brands[idx].Aliases, b.Aliases...))
			brands[idx].LegitimateDomains = dedupe(append(brands[idx].LegitimateDomains, b.LegitimateDomains...))
			continue
		}
		seenBrand[name] = len(brands)
		brands = append(brands, Brand{
			Name:              name,
			Aliases:           dedupe(b.Aliases),
			LegitimateDomains: dedupe(b.LegitimateDomains),
		})
	}
	l.Brands = nilIfEmptyBrands(brands)

	l.Keywords = normalizeSets(l.Keywords)
	l.Regexes = normalizeRegexSets(l.Regexes)
	l.CountryRisk = normalizeRisk(l.CountryRisk)
	l.RegistrarRisk = normalizeRisk(l.RegistrarRisk)

	if len(l.Subcategories) == 0 {
		l.Subcategories = nil
	} else {
		subs := make(map[string][]SubcategoryPattern, len(l.Subcategories))
		for cat, entries := range l.Subcategories {
			seen := make(map[SubcategoryPattern]bool)
			var out []SubcategoryPattern
			for _, e := range entries {
				e.Subcategory = strings.TrimSpace(e.Subcategory)
				e.Field = strings.ToLower(strings.TrimSpace(e.Field))
				e.Pattern = strings.TrimSpace(e.Pattern)
				if seen[e] {
					continue
				}
				seen[e] = true
				out = append(out, e)
			}
			subs[strings.TrimSpace(cat)] = out
		}
		l.Subcategories = subs
	}

	vendors := make([]Vendor, 0, len(l.Vendors))
	seenVendor := make(map[string]bool)
	for _, v := range l.Vendors {
		key := strings.ToLower(strings.TrimSpace(v.Name))
		if seenVendor[key] {
			continue
		}
		seenVendor[key] = true
		v.Name = strings.TrimSpace(v.Name)
		v.Category = strings.ToLower(strings.TrimSpace(v.Category))
		v.Domains = dedupe(v.Domains)
		v.Aliases = dedupe(v.Aliases)
		v.Transactional = v.Transactional.normalized()
		v.Marketing = v.Marketing.normalized()
		vendors = append(vendors, v)
	}
	if len(vendors) == 0 {
		vendors = nil
	}
	l.Vendors = vendors

	if len(l.UniversalIntents) == 0 {
		l.UniversalIntents = nil
	} else {
		ui := make(map[string]IntentPatterns, len(l.UniversalIntents))
		for intent, p := range l.UniversalIntents {
			ui[strings.ToUpper(strings.TrimSpace(intent))] = p.normalized()
		}
		l.UniversalIntents = ui
	}

	if len(l.CategoryConsolidation) == 0 {
		l.CategoryConsolidation = nil
	} else {
		cc := make(map[string]string, len(l.CategoryConsolidation))
		for raw, canonical := range l.CategoryConsolidation {
			cc[strings.ToLower(strings.TrimSpace(raw))] = strings.TrimSpace(canonical)
		}
		l.CategoryConsolidation = cc
	}
}

func (p IntentPatterns) normalized() IntentPatterns {
	return IntentPatterns{
		Senders:  dedupe(p.Senders),
		Keywords: dedupe(p.Keywords),
		Regexes:  dedupeExact(p.Regexes),
	}
}

// Clone returns a deep copy
func (l *Library) Clone() *Library {
	out := *l
	out.LegitimateDomains = cloneStrings(l.LegitimateDomains)
	out.PersonalWebmailDomains = cloneStrings(l.PersonalWebmailDomains)
	out.HighAbuseTLDs = cloneStrings(l.HighAbuseTLDs)
	out.CorporateTLDs = cloneStrings(l.CorporateTLDs)
	out.CommonWordFragments = cloneStrings(l.CommonWordFragments)
	out.PoliticalFigures = cloneStrings(l.PoliticalFigures)
	out.ScamNewsletterDomains = cloneStrings(l.ScamNewsletterDomains)
	out.ScamPersonas = cloneStrings(l.ScamPersonas)
	out.BulkMailPrefixes = cloneStrings(l.BulkMailPrefixes)
	out.BulkMailInfrastructure = cloneStrings(l.BulkMailInfrastructure)
	out.ReputableCertIssuers = cloneStrings(l.ReputableCertIssuers)
	out.ReputableHosting = cloneStrings(l.ReputableHosting)

	if l.Brands != nil {
		out.Brands = make([]Brand, len(l.Brands))
		for i, b := range l.Brands {
			out.Brands[i] = Brand{Name: b.Name, Aliases: cloneStrings(b.Aliases), LegitimateDomains: cloneStrings(b.LegitimateDomains)}
		}
	}
	out.Keywords = cloneSets(l.Keywords)
	out.Regexes = cloneSets(l.Regexes)
	if l.CountryRisk != nil {
		out.CountryRisk = make(map[string]float64, len(l.CountryRisk))
		for k, v := range l.CountryRisk {
			out.CountryRisk[k] = v
		}
	}
	if l.RegistrarRisk != nil {
		out.RegistrarRisk = make(map[string]float64, len(l.RegistrarRisk))
		for k, v := range l.RegistrarRisk {
			out.RegistrarRisk[k] = v
		}
	}
	if l.Subcategories != nil {
		out.Subcategories = make(map[string][]SubcategoryPattern, len(l.Subcategories))
		for k, v := range l.Subcategories {
			out.Subcategories[k] = append([]SubcategoryPattern(nil), v...)
		}
	}
	if l.Vendors != nil {
		out.Vendors = make([]Vendor, len(l.Vendors))
		for i, v := range l.Vendors {
			cp := v
			cp.Domains = cloneStrings(v.Domains)
			cp.Aliases = cloneStrings(v.Aliases)
			cp.Transactional = v.Transactional.clone()
			cp.Marketing = v.Marketing.clone()
			out.Vendors[i] = cp
		}
	}
	if l.UniversalIntents != nil {
		out.UniversalIntents = make(map[string]IntentPatterns, len(l.UniversalIntents))
		for k, v := range l.UniversalIntents {
			out.UniversalIntents[k] = v.clone()
		}
	}
	if l.CategoryConsolidation != nil {
		out.CategoryConsolidation = make(map[string]string, len(l.CategoryConsolidation))
		for k, v := range l.CategoryConsolidation {
			out.CategoryConsolidation[k] = v
		}
	}
	return &out
}

func (p IntentPatterns) clone() IntentPatterns {
	return IntentPatterns{
		Senders:  cloneStrings(p.Senders),
		Keywords: cloneStrings(p.Keywords),
		Regexes:  cloneStrings(p.Regexes),
	}
}

// KeywordSetNames returns the sorted names of the keyword sets
func (l *Library) KeywordSetNames() []string {
	names := make([]string, 0, len(l.Keywords))
	for name := range l.Keywords {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// dedupeExact keeps case, since regex flags like \S are case-sensitive
func dedupeExact(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func dedupeTLDs(in []string) []string {
	trimmed := make([]string, len(in))
	for i, s := range in {
		trimmed[i] = strings.TrimPrefix(strings.TrimSpace(s), ".")
	}
	return dedupe(trimmed)
}

func normalizeSets(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for name, terms := range in {
		key := strings.ToLower(strings.TrimSpace(name))
		out[key] = dedupe(append(out[key], terms...))
	}
	return out
}

func normalizeRegexSets(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for name, exprs := range in {
		key := strings.ToLower(strings.TrimSpace(name))
		out[key] = dedupeExact(append(out[key], exprs...))
	}
	return out
}

func normalizeRisk(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func nilIfEmptyBrands(b []Brand) []Brand {
	if len(b) == 0 {
		return nil
	}
	return b
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneSets(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = cloneStrings(v)
	}
	return out
}
