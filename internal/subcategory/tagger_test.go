package subcategory

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mikey/mail-classifier/internal/core"
	"github.com/mikey/mail-classifier/internal/patterns"
)

type hitLog struct {
	mu   sync.Mutex
	hits []Hit
}

func (l *hitLog) Record(h Hit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits = append(l.hits, h)
}

func defaultLibrary(t *testing.T) *patterns.Compiled {
	t.Helper()
	lib, err := patterns.DefaultCompiled()
	if err != nil {
		t.Fatalf("failed to compile default patterns: %v", err)
	}
	return lib
}

func TestTag(t *testing.T) {
	tagger := NewTagger(defaultLibrary(t), nil, nil)

	tests := []struct {
		name     string
		in       core.TagInput
		wantSub  string
		wantConf float64
	}{
		{
			name:     "auto warranty subject only",
			in:       core.TagInput{Category: core.CategoryCommercial, Subject: "Your auto warranty is about to expire", Sender: "notice@vehicle-shield.net"},
			wantSub:  "Auto warranty & insurance",
			wantConf: 0.5,
		},
		{
			name:     "auto warranty with body",
			in:       core.TagInput{Category: core.CategoryCommercial, Subject: "Extended warranty final notice", Body: "Renew your warranty today"},
			wantSub:  "Auto warranty & insurance",
			wantConf: 2.0 / 3.0,
		},
		{
			name:     "saturates at one",
			in:       core.TagInput{Category: core.CategoryCommercial, Subject: "Car warranty and extended warranty insurance", Body: "warranty"},
			wantSub:  "Auto warranty & insurance",
			wantConf: 1.0,
		},
		{
			name:     "community updates",
			in:       core.TagInput{Category: core.CategoryPromotional, Subject: "New neighbor recommendations and local updates"},
			wantSub:  "Community updates",
			wantConf: 0.5,
		},
		{
			name:     "domain field from sender",
			in:       core.TagInput{Category: core.CategoryPhishing, Subject: "You are a winner", Sender: "winner@mvppnzrnrlmkqk.tk"},
			wantSub:  "Prize & lottery",
			wantConf: 2.0 / 3.0,
		},
		{
			name:     "no match falls back",
			in:       core.TagInput{Category: core.CategoryGambling, Subject: "Hello there"},
			wantSub:  "General Gambling Spam",
			wantConf: FallbackConfidence,
		},
		{
			name:     "category without a table",
			in:       core.TagInput{Category: core.Category("Unknown"), Subject: "casino"},
			wantSub:  "General Unknown",
			wantConf: FallbackConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tagger.Tag(tt.in)
			if got.Subcategory != tt.wantSub {
				t.Errorf("Subcategory = %q, want %q", got.Subcategory, tt.wantSub)
			}
			if math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Category != tt.in.Category {
				t.Errorf("Category = %q, want %q", got.Category, tt.in.Category)
			}
		})
	}
}

func TestTagTiesResolveByTableOrder(t *testing.T) {
	lib, err := patterns.Default()
	if err != nil {
		t.Fatal(err)
	}
	lib.Subcategories = map[string][]patterns.SubcategoryPattern{
		string(core.CategoryCommercial): {
			{Subcategory: "First", Field: patterns.FieldSubject, Pattern: `\balpha\b`, Weight: 1},
			{Subcategory: "Second", Field: patterns.FieldSubject, Pattern: `\bbeta\b`, Weight: 1},
		},
	}
	compiled, err := patterns.Compile(lib)
	if err != nil {
		t.Fatal(err)
	}
	tagger := NewTagger(compiled, nil, nil)

	for i := 0; i < 20; i++ {
		got := tagger.Tag(core.TagInput{Category: core.CategoryCommercial, Subject: "beta alpha"})
		if got.Subcategory != "First" {
			t.Fatalf("Subcategory = %q, want First", got.Subcategory)
		}
	}
}

func TestTagRecordsEveryMatch(t *testing.T) {
	log := &hitLog{}
	tagger := NewTagger(defaultLibrary(t), log, nil)

	tagger.Tag(core.TagInput{Category: core.CategoryCommercial, Subject: "Auto warranty and solar panels"})

	if len(log.hits) != 2 {
		t.Fatalf("recorded %d hits, want 2: %+v", len(log.hits), log.hits)
	}
	subs := map[string]bool{}
	for _, h := range log.hits {
		subs[h.Subcategory] = true
		if h.Category != core.CategoryCommercial {
			t.Errorf("hit category = %q", h.Category)
		}
	}
	if !subs["Auto warranty & insurance"] || !subs["Home services"] {
		t.Errorf("unexpected hits: %+v", log.hits)
	}
}

type memCounter struct {
	mu     sync.Mutex
	counts map[[3]string]int64
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[[3]string]int64)}
}

func (m *memCounter) IncrementPattern(_ context.Context, category, subcategory, pattern string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[[3]string{category, subcategory, pattern}] += delta
	return nil
}

func (m *memCounter) PatternCounts(context.Context) ([]core.PatternCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.PatternCount
	for k, v := range m.counts {
		out = append(out, core.PatternCount{Category: k[0], Subcategory: k[1], Pattern: k[2], Count: v})
	}
	return out, nil
}

func TestRecorderFlushesOnClose(t *testing.T) {
	counter := newMemCounter()
	rec := NewRecorder(counter, RecorderConfig{BufferSize: 64, FlushInterval: time.Hour}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rec.Record(Hit{Category: core.CategoryPhishing, Subcategory: "Security alert", Pattern: "p"})
			}
		}()
	}
	wg.Wait()
	rec.Close()
	rec.Close()
	rec.Record(Hit{Category: core.CategoryPhishing, Subcategory: "Security alert", Pattern: "p"})

	counts, _ := counter.PatternCounts(context.Background())
	if len(counts) != 1 || counts[0].Count != 40 {
		t.Fatalf("counts = %+v, want one entry of 40", counts)
	}
}

func TestRecordDoesNotBlockWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	counter := &blockingCounter{release: blocked}
	rec := NewRecorder(counter, RecorderConfig{BufferSize: 1, FlushInterval: time.Hour}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			rec.Record(Hit{Category: core.CategoryGambling, Subcategory: "Lottery", Pattern: "p"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	close(blocked)
	rec.Close()
}

type blockingCounter struct {
	release chan struct{}
}

func (b *blockingCounter) IncrementPattern(ctx context.Context, _, _, _ string, _ int64) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingCounter) PatternCounts(context.Context) ([]core.PatternCount, error) {
	return nil, nil
}

func TestEffectivenessReport(t *testing.T) {
	counter := newMemCounter()
	ctx := context.Background()
	_ = counter.IncrementPattern(ctx, "Commercial Spam", "Auto warranty & insurance", `\binsurance\b`, 3)
	_ = counter.IncrementPattern(ctx, "Commercial Spam", "Auto warranty & insurance", `\bextended\s+warranty\b`, 1)

	report, err := EffectivenessReport(ctx, counter, defaultLibrary(t))
	if err != nil {
		t.Fatalf("EffectivenessReport() error = %v", err)
	}
	if len(report) == 0 {
		t.Fatal("empty report")
	}
	top := report[0]
	if top.Subcategory != "Auto warranty & insurance" || top.Total != 4 {
		t.Fatalf("top = %+v", top)
	}
	if top.Patterns[0].Count != 3 || math.Abs(top.Patterns[0].Share-0.75) > 1e-9 {
		t.Errorf("top pattern = %+v", top.Patterns[0])
	}
	if len(top.Unused) != 2 {
		t.Errorf("Unused = %v, want the two unmatched patterns", top.Unused)
	}
}
