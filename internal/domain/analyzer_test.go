package domain

import (
	"testing"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	lib, err := patterns.DefaultCompiled()
	if err != nil {
		t.Fatalf("failed to compile default patterns: %v", err)
	}
	return NewAnalyzer(lib)
}

func TestAnalyze(t *testing.T) {
	a := newTestAnalyzer(t)

	tests := []struct {
		name   string
		sender string
		want   core.DomainProfile
	}{
		{
			name:   "legitimate nested subdomain",
			sender: "notify@ss.email.nextdoor.com",
			want: core.DomainProfile{
				Domain: "ss.email.nextdoor.com", Subdomain: "ss.email", Name: "nextdoor",
				Suffix: "com", Registrable: "nextdoor.com", IsLegitimate: true, IsValid: true,
			},
		},
		{
			name:   "gibberish on abused tld",
			sender: "winner@mvppnzrnrlmkqk.tk",
			want: core.DomainProfile{
				Domain: "mvppnzrnrlmkqk.tk", Name: "mvppnzrnrlmkqk", Suffix: "tk",
				Registrable: "mvppnzrnrlmkqk.tk", IsGibberish: true, IsSuspicious: true, IsValid: true,
			},
		},
		{
			name:   "unknown but ordinary",
			sender: "admin@warfarersuk.com",
			want: core.DomainProfile{
				Domain: "warfarersuk.com", Name: "warfarersuk", Suffix: "com",
				Registrable: "warfarersuk.com", IsValid: true,
			},
		},
		{
			name:   "display name and multi-label suffix",
			sender: `"Orders" <orders@mail.shop.co.uk>`,
			want: core.DomainProfile{
				Domain: "mail.shop.co.uk", Subdomain: "mail", Name: "shop", Suffix: "co.uk",
				Registrable: "shop.co.uk", IsValid: true,
			},
		},
		{
			name:   "missing at sign",
			sender: "not-an-address",
			want:   core.DomainProfile{IsSuspicious: true, IsGibberish: true},
		},
		{
			name:   "empty",
			sender: "",
			want:   core.DomainProfile{IsSuspicious: true, IsGibberish: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Analyze(tt.sender); got != tt.want {
				t.Errorf("Analyze(%q) =\n %+v\nwant\n %+v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestIsGibberish(t *testing.T) {
	lib, err := patterns.DefaultCompiled()
	if err != nil {
		t.Fatal(err)
	}
	fragments := lib.WordFragments()

	tests := []struct {
		name string
		want bool
	}{
		{"abc", true},
		{"nextdoor", false},
		{"bankofamerica", false},
		{"xkqzwvbnmrtplk", true},
		{"abc123def", true},
		{"a1b22c", true},
		{"sdfghjkl", true},
		{"paypal", false},
		{"macys", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGibberish(tt.name, fragments); got != tt.want {
				t.Errorf("IsGibberish(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSuspiciousDigits(t *testing.T) {
	a := newTestAnalyzer(t)
	tests := []struct {
		sender string
		want   bool
	}{
		{"a@shop1234.com", true},
		{"a@web3x4.com", true},
		{"a@shop1.com", false},
		{"a@longishdomainname.xyz", true},
	}
	for _, tt := range tests {
		if got := a.Analyze(tt.sender).IsSuspicious; got != tt.want {
			t.Errorf("Analyze(%q).IsSuspicious = %v, want %v", tt.sender, got, tt.want)
		}
	}
}

func TestExtractAddress(t *testing.T) {
	tests := map[string]string{
		"Jane <jane@example.com>":     "jane@example.com",
		"jane@example.com":            "jane@example.com",
		"broken <jane@example.com":    "jane@example.com",
		"  plain text  ":              "plain text",
		`"PayPal Service" <x@y.tk>`: "x@y.tk",
	}
	for in, want := range tests {
		if got := ExtractAddress(in); got != want {
			t.Errorf("ExtractAddress(%q) = %q, want %q", in, got, want)
		}
	}
	if got := DisplayName(`"PayPal Service" <x@y.tk>`); got != "PayPal Service" {
		t.Errorf("DisplayName() = %q", got)
	}
}
