package patterns

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mikey/mail-classifier/internal/core"
)

func mustDefault(t *testing.T) *Library {
	t.Helper()
	lib, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	return lib
}

func TestDefaultCompiles(t *testing.T) {
	c, err := Compile(mustDefault(t))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if c.Version == "" {
		t.Error("expected a version")
	}
	if len(c.Brands()) == 0 || len(c.Vendors()) == 0 {
		t.Error("expected brands and vendors")
	}
	if len(c.Subcategories(core.CategoryCommercial)) == 0 {
		t.Error("expected commercial subcategories")
	}
}

func TestExportRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			original := mustDefault(t)

			var buf bytes.Buffer
			if err := Export(&buf, original, format); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			reloaded, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(original, reloaded) {
				t.Error("re-imported library differs from the exported one")
			}

			// a second trip must not duplicate anything either
			var again bytes.Buffer
			if err := Export(&again, reloaded, format); err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			twice, err := Decode(&again, format)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(reloaded, twice) {
				t.Error("second round trip changed the library")
			}
		})
	}
}

func TestNormalizeDeduplicates(t *testing.T) {
	lib := &Library{
		LegitimateDomains: []string{"Example.com", "example.com ", "other.org"},
		HighAbuseTLDs:     []string{".tk", "tk", "ML"},
		Keywords: map[string][]string{
			"Urgency": {"Act Now", "act now", "hurry"},
			"urgency": {"hurry", "asap"},
		},
		Brands: []Brand{
			{Name: "Acme", LegitimateDomains: []string{"acme.com"}},
			{Name: "acme", Aliases: []string{"acme corp"}, LegitimateDomains: []string{"acme.com", "acme.io"}},
		},
	}
	lib.Normalize()

	if want := []string{"example.com", "other.org"}; !reflect.DeepEqual(lib.LegitimateDomains, want) {
		t.Errorf("LegitimateDomains = %v, want %v", lib.LegitimateDomains, want)
	}
	if want := []string{"tk", "ml"}; !reflect.DeepEqual(lib.HighAbuseTLDs, want) {
		t.Errorf("HighAbuseTLDs = %v, want %v", lib.HighAbuseTLDs, want)
	}
	if got := lib.Keywords["urgency"]; len(got) != 3 {
		t.Errorf("urgency = %v, want 3 distinct terms", got)
	}
	if len(lib.Brands) != 1 || len(lib.Brands[0].LegitimateDomains) != 2 || len(lib.Brands[0].Aliases) != 1 {
		t.Errorf("Brands = %+v, want one merged brand", lib.Brands)
	}
}

func TestCompileRejectsMalformedTables(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Library)
		table  string
	}{
		{
			name:   "bad regex",
			mutate: func(l *Library) { l.Regexes["money"] = []string{"(unclosed"} },
			table:  "regexes.money",
		},
		{
			name: "unknown subcategory field",
			mutate: func(l *Library) {
				l.Subcategories["Phishing"] = []SubcategoryPattern{{Subcategory: "x", Field: "footer", Pattern: "a", Weight: 1}}
			},
			table: "subcategories.Phishing",
		},
		{
			name: "non-positive weight",
			mutate: func(l *Library) {
				l.Subcategories["Phishing"] = []SubcategoryPattern{{Subcategory: "x", Field: "subject", Pattern: "a", Weight: 0}}
			},
			table: "subcategories.Phishing",
		},
		{
			name: "unknown category",
			mutate: func(l *Library) {
				l.Subcategories["Space Spam"] = []SubcategoryPattern{{Subcategory: "x", Field: "subject", Pattern: "a", Weight: 1}}
			},
			table: "subcategories",
		},
		{
			name:   "missing required keyword set",
			mutate: func(l *Library) { delete(l.Keywords, SetUrgency) },
			table:  "keywords",
		},
		{
			name:   "brand without domains",
			mutate: func(l *Library) { l.Brands = append(l.Brands, Brand{Name: "nobody"}) },
			table:  "brands",
		},
		{
			name:   "vendor with unknown category",
			mutate: func(l *Library) { l.Vendors = append(l.Vendors, Vendor{Name: "X", Category: "gaming", Domains: []string{"x.com"}}) },
			table:  "vendors",
		},
		{
			name:   "unknown universal intent",
			mutate: func(l *Library) { l.UniversalIntents["REFUND"] = IntentPatterns{Keywords: []string{"refund"}} },
			table:  "universal_intents",
		},
		{
			name:   "risk out of range",
			mutate: func(l *Library) { l.CountryRisk["zz"] = 1.5 },
			table:  "country_risk",
		},
		{
			name:   "consolidation to unknown category",
			mutate: func(l *Library) { l.CategoryConsolidation["junk"] = "Junk" },
			table:  "category_consolidation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := mustDefault(t)
			tt.mutate(lib)

			_, err := Compile(lib)
			if err == nil {
				t.Fatal("Compile() error = nil, want a pattern error")
			}
			if !errors.Is(err, core.ErrInvalidPattern) {
				t.Errorf("errors.Is(err, ErrInvalidPattern) = false for %v", err)
			}
			var pe *core.PatternError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not a *core.PatternError", err)
			}
			if pe.Table != tt.table {
				t.Errorf("Table = %q, want %q", pe.Table, tt.table)
			}
		})
	}
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"sex", "verify your account", "💋", "$$$"})
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	tests := []struct {
		text string
		want bool
	}{
		{"greetings from sussex", false},
		{"sex offers", true},
		{"please VERIFY   your account today", true},
		{"verify your accountant", false},
		{"hi 💋", true},
		{"earn $$$ now", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := m.Match(tt.text); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}

	if got := m.Find("verify your account, sex, verify  your account"); len(got) != 2 {
		t.Errorf("Find() = %v, want 2 distinct hits", got)
	}

	var empty *Matcher
	if empty.Match("anything") {
		t.Error("nil matcher must not match")
	}
}

func TestConsolidate(t *testing.T) {
	c, err := DefaultCompiled()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		raw  string
		want core.Category
		ok   bool
	}{
		{"Phishing", core.CategoryPhishing, true},
		{"  Crypto Spam ", core.CategoryFinancial, true},
		{"auto warranty", core.CategoryCommercial, true},
		{"something else", "", false},
	}
	for _, tt := range tests {
		got, ok := c.Consolidate(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Consolidate(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")

	lib := mustDefault(t)
	lib.Version = "test-2"
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Export(f, lib, FormatYAML); err != nil {
		t.Fatal(err)
	}
	f.Close()

	initial, err := DefaultCompiled()
	if err != nil {
		t.Fatal(err)
	}
	h := NewHolder(initial, path, nil)
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := h.Current().Version; got != "test-2" {
		t.Errorf("Version = %q, want test-2", got)
	}

	if err := os.WriteFile(path, []byte("regexes:\n  money: ['(bad']\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(); err == nil {
		t.Error("Reload() of a malformed file should fail")
	}
	if got := h.Current().Version; got != "test-2" {
		t.Errorf("Version after failed reload = %q, want test-2", got)
	}
}

func TestLoadFileRejectsUnknownExtension(t *testing.T) {
	if _, err := LoadFile("patterns.json"); err == nil {
		t.Error("expected an error for .json")
	}
}
