package rules

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// confusables maps common non-Latin lookalike letters to ASCII. NFKC already
// folds mathematical, circled and full-width letterforms.
var confusables = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'і': 'i', 'ј': 'j', 'ѕ': 's', 'ԁ': 'd', 'ɡ': 'g', 'һ': 'h', 'ӏ': 'l',
	'А': 'a', 'В': 'b', 'Е': 'e', 'К': 'k', 'М': 'm', 'Н': 'h', 'О': 'o',
	'Р': 'p', 'С': 'c', 'Т': 't', 'Х': 'x', 'І': 'i',
	'α': 'a', 'ο': 'o', 'ν': 'v', 'τ': 't', 'ι': 'i', 'κ': 'k', 'ρ': 'p',
	'Α': 'a', 'Β': 'b', 'Ε': 'e', 'Ζ': 'z', 'Η': 'h', 'Ι': 'i', 'Κ': 'k',
	'Μ': 'm', 'Ν': 'n', 'Ο': 'o', 'Ρ': 'p', 'Τ': 't', 'Υ': 'y', 'Χ': 'x',
	'ı': 'i', 'ł': 'l', 'ø': 'o',
}

// Normalize folds decorative letterforms back to ASCII, drops zero-width
// characters, lower-cases and collapses whitespace.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = width.Fold.String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if isInvisible(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		if mapped, ok := confusables[r]; ok {
			r = mapped
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimRight(b.String(), " ")
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

// LookalikeRatio returns the share of letters outside ASCII that fold to an ASCII letter
func LookalikeRatio(s string) float64 {
	letters, lookalikes := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r < 0x80 {
			continue
		}
		if _, ok := confusables[r]; ok {
			lookalikes++
			continue
		}
		folded := []rune(norm.NFKC.String(string(r)))
		if len(folded) == 1 && folded[0] < 0x80 {
			lookalikes++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(lookalikes) / float64(letters)
}
