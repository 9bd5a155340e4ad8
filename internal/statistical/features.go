// Package statistical is the trained-model classification path: a binary
// delete-vs-preserve model plus, conditioned on delete, a multiclass category
// model. Both learn from confirmed actions rather than category labels.
package statistical

import (
	"bufio"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-msgauth/authres"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/domain"
	"github.com/mikey/mail-classifier/internal/patterns"
	"github.com/mikey/mail-classifier/internal/rules"
)

// keywordFamilies are the pattern keyword sets turned into one feature each,
// in vector order
var keywordFamilies = []string{
	patterns.SetAdultTerms,
	patterns.SetCredentialTheft,
	patterns.SetBilling,
	patterns.SetPrize,
	patterns.SetDelivery,
	patterns.SetUrgency,
	patterns.SetFreeOffer,
	patterns.SetCrisis,
	patterns.SetFinancialBusiness,
	patterns.SetHealth,
	patterns.SetExaggeration,
	patterns.SetGambling,
	patterns.SetRealEstate,
	patterns.SetInvestmentOpportunity,
	patterns.SetLegal,
	patterns.SetScamIndicator,
	patterns.SetPromotional,
	patterns.SetGenericGreeting,
}

const (
	structuralWidth = 24
	hashBuckets     = 64
)

// FeatureWidth is the length of every vector the extractor produces
var FeatureWidth = structuralWidth + len(keywordFamilies) + hashBuckets

var tokenRE = regexp.MustCompile(`[a-z0-9$€£]+`)

// Profiler parses senders and bare domains
type Profiler interface {
	Analyze(sender string) core.DomainProfile
	AnalyzeDomain(domain string) core.DomainProfile
}

// FeatureExtractor turns message fields into a fixed-width vector
type FeatureExtractor struct {
	patterns patterns.Source
	profiler Profiler
}

// NewFeatureExtractor creates an extractor over the given pattern tables
func NewFeatureExtractor(src patterns.Source, profiler Profiler) *FeatureExtractor {
	return &FeatureExtractor{patterns: src, profiler: profiler}
}

// Extract returns a vector of FeatureWidth values, each in [0,1]
func (e *FeatureExtractor) Extract(in core.PredictInput) []float64 {
	lib := e.patterns.Current()
	x := make([]float64, FeatureWidth)

	var profile core.DomainProfile
	if in.Domain != "" {
		profile = e.profiler.AnalyzeDomain(in.Domain)
	} else {
		profile = e.profiler.Analyze(in.Sender)
	}
	subject := rules.Normalize(in.Subject)
	words := strings.Fields(in.Subject)

	x[0] = capped(float64(len([]rune(in.Subject))), 100)
	x[1] = capped(float64(len(words)), 20)
	x[2] = upperRatio(in.Subject)
	x[3] = digitRatio(in.Subject)
	x[4] = capped(float64(strings.Count(in.Subject, "!")), 5)
	x[5] = boolf(strings.ContainsAny(in.Subject, "$€£"))
	x[6] = capped(entropy(subject), 5)
	x[7] = shoutingRatio(words)

	x[8] = boolf(profile.IsLegitimate)
	x[9] = boolf(profile.IsGibberish)
	x[10] = boolf(profile.IsSuspicious)
	x[11] = boolf(profile.IsValid && lib.IsHighAbuseTLD(profile.Suffix))
	x[12] = boolf(profile.IsValid && lib.IsCorporateTLD(profile.Suffix))
	if profile.Subdomain != "" {
		x[13] = capped(float64(strings.Count(profile.Subdomain, ".")+1), 3)
		first := strings.SplitN(profile.Subdomain, ".", 2)[0]
		for _, p := range lib.BulkMailPrefixes() {
			if first == p {
				x[14] = 1
				break
			}
		}
	}
	local := localPart(in.Sender)
	x[15] = boolf(strings.IndexFunc(local, unicode.IsDigit) >= 0)
	x[16] = boolf(!profile.IsValid)

	spf, dkim, dmarc, failed := authSignals(in.Headers)
	x[17], x[18], x[19], x[20] = boolf(spf), boolf(dkim), boolf(dmarc), boolf(failed)

	x[21] = boolf(lib.MatchRegex(patterns.RegexNewsletterSubject, in.Subject))
	x[22] = boolf(lib.MatchRegex(patterns.RegexMoney, in.Subject))
	x[23] = rules.LookalikeRatio(domain.DisplayName(in.Sender) + " " + in.Subject)

	text := strings.TrimSpace(rules.Normalize(in.Sender) + " " + subject)
	for i, family := range keywordFamilies {
		x[structuralWidth+i] = capped(float64(lib.Keywords(family).Count(text)), 3)
	}

	tokens := tokenRE.FindAllString(subject, -1)
	if len(tokens) > 0 {
		base := structuralWidth + len(keywordFamilies)
		h := fnv.New32a()
		for _, tok := range tokens {
			h.Reset()
			_, _ = h.Write([]byte(tok))
			x[base+int(h.Sum32()%hashBuckets)] += 1 / float64(len(tokens))
		}
	}
	return x
}

// authSignals reports pass results and whether anything failed in the
// Authentication-Results fields of headers
func authSignals(headers string) (spf, dkim, dmarc, failed bool) {
	if !strings.Contains(strings.ToLower(headers), "authentication-results") {
		return
	}
	block := strings.TrimRight(headers, "\r\n") + "\r\n\r\n"
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
	if err != nil {
		return
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
				spf = spf || res.Value == authres.ResultPass
				failed = failed || res.Value == authres.ResultFail
			case *authres.DKIMResult:
				dkim = dkim || res.Value == authres.ResultPass
				failed = failed || res.Value == authres.ResultFail
			case *authres.DMARCResult:
				dmarc = dmarc || res.Value == authres.ResultPass
				failed = failed || res.Value == authres.ResultFail
			}
		}
	}
	return
}

// fitWidth pads with zeros or truncates x to width
func fitWidth(x []float64, width int) []float64 {
	if len(x) == width {
		return x
	}
	out := make([]float64, width)
	copy(out, x)
	return out
}

func localPart(sender string) string {
	addr := domain.ExtractAddress(sender)
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return ""
}

func capped(v, max float64) float64 {
	return math.Min(v/max, 1)
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func upperRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func digitRatio(s string) float64 {
	total, digits := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}

func shoutingRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	shouting := 0
	for _, w := range words {
		if len(w) >= 3 && upperRatio(w) == 1 {
			shouting++
		}
	}
	return float64(shouting) / float64(len(words))
}

func entropy(s string) float64 {
	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	if n == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
