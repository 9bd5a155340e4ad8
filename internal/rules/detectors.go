package rules

import (
	"fmt"
	"strings"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
)

// Rule names
const (
	RuleAdult       = "adult_content"
	RuleBrand       = "brand_impersonation"
	RulePhishing    = "phishing_payment_scam"
	RuleFinancial   = "financial_investment"
	RuleHealth      = "health_medical"
	RuleGambling    = "gambling"
	RuleRealEstate  = "real_estate"
	RuleLegal       = "legal_compensation"
	RulePromotional = "legitimate_promotional"
	RuleDefault     = core.RuleDefault
)

// DefaultRules returns the detector chain in priority order
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleAdult, Stage: 1, Kind: KindImmediate, Eval: detectAdult},
		{Name: RuleBrand, Stage: 2, Kind: KindEarlyExit, Eval: detectBrandImpersonation},
		{Name: RulePhishing, Stage: 3, Kind: KindEarlyExit, Eval: detectPhishing},
		{Name: RuleFinancial, Stage: 4, Kind: KindContent, Eval: detectFinancial},
		{Name: RuleHealth, Stage: 5, Kind: KindContent, Eval: detectHealth},
		{Name: RuleGambling, Stage: 6, Kind: KindContent, Eval: detectGambling},
		{Name: RuleRealEstate, Stage: 7, Kind: KindContent, Eval: detectRealEstate},
		{Name: RuleLegal, Stage: 8, Kind: KindContent, Eval: detectLegal},
		{Name: RulePromotional, Stage: 9, Kind: KindFallback, Eval: detectPromotional},
		{Name: RuleDefault, Stage: 10, Kind: KindFallback, Eval: func(*Input) (Match, bool) {
			d := DefaultVerdict()
			return Match{Category: d.Category, Confidence: d.Confidence, Reason: d.Reason}, true
		}},
	}
}

func detectAdult(in *Input) (Match, bool) {
	lib := in.Patterns
	if terms := lib.Keywords(patterns.SetAdultTerms).Find(in.Text); len(terms) > 0 {
		return Match{
			Category:   core.CategoryAdult,
			Confidence: 0.95,
			Reason:     "Explicit adult terms: " + list(terms),
		}, true
	}
	if phrases := lib.Keywords(patterns.SetAdultPhrases).Find(in.Text); len(phrases) > 0 {
		return Match{
			Category:   core.CategoryAdult,
			Confidence: 0.90,
			Reason:     "Adult/dating phrases: " + list(phrases),
		}, true
	}
	emoji := lib.Keywords(patterns.SetAdultEmoji).Find(in.Text)
	if len(emoji) > 0 {
		if kw := lib.Keywords(patterns.SetAdultEmojiKeywords).Find(in.Text); len(kw) > 0 {
			return Match{
				Category:   core.CategoryAdult,
				Confidence: 0.90,
				Reason:     fmt.Sprintf("Suggestive emoji %s with %s", strings.Join(emoji, ""), list(kw)),
			}, true
		}
	}
	return Match{}, false
}

func detectBrandImpersonation(in *Input) (Match, bool) {
	lib := in.Patterns
	for _, brand := range lib.Brands() {
		if !brand.Mentioned(in.BrandText) || brand.OwnsDomain(in.Profile.Domain) {
			continue
		}

		boost := 0.0
		if in.Profile.IsGibberish || in.Profile.IsSuspicious {
			boost = 0.05
		}
		from := in.Profile.Domain
		if from == "" {
			from = "an unparseable sender"
		}

		if hits := lib.Keywords(patterns.SetCredentialTheft).Find(in.Text); len(hits) > 0 {
			return Match{
				Category:   core.CategoryPhishing,
				Confidence: 0.90 + boost,
				Reason:     fmt.Sprintf("Brand %q from non-brand domain %s with credential-theft terms: %s", brand.Name, from, list(hits)),
				Final:      true,
			}, true
		}
		if hits := lib.Keywords(patterns.SetBilling).Find(in.Text); len(hits) > 0 {
			return Match{
				Category:   core.CategoryPaymentScam,
				Confidence: 0.85 + boost,
				Reason:     fmt.Sprintf("Brand %q from non-brand domain %s with billing terms: %s", brand.Name, from, list(hits)),
			}, true
		}
		if hits := lib.Keywords(patterns.SetPrize).Find(in.Text); len(hits) > 0 {
			return Match{
				Category:   core.CategoryPhishing,
				Confidence: 0.85 + boost,
				Reason:     fmt.Sprintf("Brand %q from non-brand domain %s with prize terms: %s", brand.Name, from, list(hits)),
			}, true
		}
		if hits := lib.Keywords(patterns.SetDelivery).Find(in.Text); len(hits) > 0 {
			return Match{
				Category:   core.CategoryPaymentScam,
				Confidence: 0.80 + boost,
				Reason:     fmt.Sprintf("Brand %q from non-brand domain %s with delivery terms: %s", brand.Name, from, list(hits)),
			}, true
		}
		return Match{
			Category:   core.CategoryBrand,
			Confidence: 0.80 + boost,
			Reason:     fmt.Sprintf("Brand %q mentioned by non-brand domain %s", brand.Name, from),
		}, true
	}
	return Match{}, false
}

func detectPhishing(in *Input) (Match, bool) {
	lib := in.Patterns
	p := in.Profile

	if lib.IsPersonalWebmail(p.Domain) {
		if hits := lib.Keywords(patterns.SetBilling).Find(in.Text); len(hits) > 0 {
			return Match{
				Category:   core.CategoryPaymentScam,
				Confidence: 0.95,
				Reason:     fmt.Sprintf("Billing terms from personal webmail %s: %s", p.Domain, list(hits)),
			}, true
		}
	}

	if hits := lib.Keywords(patterns.SetPrize).Find(in.Text); len(hits) > 0 {
		if p.IsSuspicious {
			return Match{
				Category:   core.CategoryPhishing,
				Confidence: 0.90,
				Reason:     fmt.Sprintf("Prize terms from suspicious domain %s: %s", p.Domain, list(hits)),
			}, true
		}
		return Match{
			Category:   core.CategoryPaymentScam,
			Confidence: 0.75,
			Reason:     "Prize/lottery terms: " + list(hits),
		}, true
	}

	urgency := lib.Keywords(patterns.SetUrgency).Find(in.Text)
	if len(urgency) > 0 && !p.IsLegitimate {
		if creds := lib.Keywords(patterns.SetCredentialTheft).Find(in.Text); len(creds) > 0 {
			return Match{
				Category:   core.CategoryPhishing,
				Confidence: 0.85,
				Reason:     fmt.Sprintf("Credential-theft terms (%s) with urgency (%s) from unrecognized domain", list(creds), list(urgency)),
			}, true
		}
	}
	if len(urgency) > 0 && p.IsSuspicious {
		return Match{
			Category:   core.CategoryPhishing,
			Confidence: 0.80,
			Reason:     fmt.Sprintf("Urgency terms from suspicious domain %s: %s", p.Domain, list(urgency)),
		}, true
	}

	if !p.IsLegitimate {
		hits := lib.Keywords(patterns.SetFreeOffer).Find(in.Text)
		hits = append(hits, lib.FindRegex(patterns.RegexFreeOffer, in.Text)...)
		if len(hits) > 0 {
			return Match{
				Category:   core.CategoryPaymentScam,
				Confidence: 0.70,
				Reason:     "Free offer from unrecognized domain: " + list(dedupe(hits)),
			}, true
		}
	}

	return Match{}, false
}

func detectFinancial(in *Input) (Match, bool) {
	lib := in.Patterns

	crisis := lib.Keywords(patterns.SetCrisis).Match(in.Text)
	finance := lib.Keywords(patterns.SetFinancialBusiness).Match(in.Text)
	knownNewsletter := lib.IsScamNewsletterDomain(in.Profile.Domain) || lib.ScamPersonas().Match(in.Text)
	newsletter := knownNewsletter || lib.MatchRegex(patterns.RegexNewsletterSubject, in.SubjectText)

	if figures := lib.PoliticalFigures().Find(in.Text); len(figures) > 0 {
		var signals []string
		if crisis {
			signals = append(signals, "crisis language")
		}
		if finance {
			signals = append(signals, "financial vocabulary")
		}
		if newsletter {
			signals = append(signals, "newsletter signature")
		}
		if len(signals) > 0 {
			conf := 0.75
			switch len(signals) {
			case 2:
				conf = 0.85
			case 3:
				conf = 0.90
			}
			return Match{
				Category:   core.CategoryFinancial,
				Confidence: conf,
				Reason:     fmt.Sprintf("Political figure (%s) with %s", list(figures), strings.Join(signals, ", ")),
			}, true
		}
	}

	if knownNewsletter && finance {
		return Match{
			Category:   core.CategoryFinancial,
			Confidence: 0.80,
			Reason:     "Known investment newsletter sender with financial vocabulary",
		}, true
	}
	return Match{}, false
}

func detectHealth(in *Input) (Match, bool) {
	lib := in.Patterns
	health := lib.Keywords(patterns.SetHealth).Find(in.Text)
	if len(health) == 0 {
		return Match{}, false
	}
	hype := lib.Keywords(patterns.SetExaggeration).Find(in.Text)
	if len(hype) == 0 {
		return Match{}, false
	}
	return Match{
		Category:   core.CategoryHealth,
		Confidence: 0.80,
		Reason:     fmt.Sprintf("Health terms (%s) with exaggerated claims (%s)", list(health), list(hype)),
	}, true
}

func detectGambling(in *Input) (Match, bool) {
	hits := in.Patterns.Keywords(patterns.SetGambling).Find(in.Text)
	if len(hits) == 0 {
		return Match{}, false
	}
	return Match{
		Category:   core.CategoryGambling,
		Confidence: 0.75,
		Reason:     "Gambling terms: " + list(hits),
	}, true
}

func detectRealEstate(in *Input) (Match, bool) {
	if in.Profile.IsLegitimate {
		return Match{}, false
	}
	lib := in.Patterns
	property := lib.Keywords(patterns.SetRealEstate).Find(in.Text)
	if len(property) == 0 {
		return Match{}, false
	}
	invest := lib.Keywords(patterns.SetInvestmentOpportunity).Find(in.Text)
	if len(invest) == 0 {
		return Match{}, false
	}
	return Match{
		Category:   core.CategoryRealEstate,
		Confidence: 0.70,
		Reason:     fmt.Sprintf("Real estate terms (%s) with investment pitch (%s)", list(property), list(invest)),
	}, true
}

func detectLegal(in *Input) (Match, bool) {
	if in.Profile.IsLegitimate {
		return Match{}, false
	}
	lib := in.Patterns
	legal := lib.Keywords(patterns.SetLegal).Find(in.Text)
	if len(legal) == 0 {
		return Match{}, false
	}
	scam := lib.Keywords(patterns.SetScamIndicator).Find(in.Text)
	if len(scam) == 0 {
		return Match{}, false
	}
	return Match{
		Category:   core.CategoryLegal,
		Confidence: 0.75,
		Reason:     fmt.Sprintf("Legal terms (%s) with scam indicators (%s)", list(legal), list(scam)),
	}, true
}

func detectPromotional(in *Input) (Match, bool) {
	if !in.Profile.IsLegitimate {
		return Match{}, false
	}
	hits := in.Patterns.Keywords(patterns.SetPromotional).Find(in.Text)
	if len(hits) == 0 {
		return Match{}, false
	}
	return Match{
		Category:   core.CategoryPromotional,
		Confidence: 0.85,
		Reason:     fmt.Sprintf("Legitimate sender %s with promotional content: %s", in.Profile.Domain, list(hits)),
	}, true
}

func list(items []string) string {
	const max = 5
	if len(items) > max {
		return strings.Join(items[:max], ", ") + fmt.Sprintf(" (+%d more)", len(items)-max)
	}
	return strings.Join(items, ", ")
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, s := range items {
		s = strings.ToLower(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
