package store

import (
	"context"
	"testing"
	"time"

	"github.com/mikey/mail-classifier/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x", nil); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var versions int
	if err := s.db.GetContext(ctx, &versions, `SELECT COUNT(*) FROM schema_version`); err != nil {
		t.Fatal(err)
	}
	if versions != len(migrationsFor(DriverSQLite)) {
		t.Errorf("schema_version rows = %d, want %d", versions, len(migrationsFor(DriverSQLite)))
	}
}

func TestClassificationLog(t *testing.T) {
	const authResults = "Authentication-Results: mx.example.com; spf=fail smtp.mailfrom=x.tk\r\n"
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*core.ClassificationRecord{
		{Sender: "a@x.tk", Domain: "x.tk", Subject: "win", Category: string(core.CategoryGambling), Confidence: 0.75, Action: core.ActionDeleted, AuthResults: authResults, Timestamp: base.Add(2 * time.Minute)},
		{Sender: "b@chase.com", Domain: "chase.com", Subject: "statement", Category: string(core.CategoryPromotional), Confidence: 0.5, Action: core.ActionPreserved, Timestamp: base},
		{Sender: "c@y.com", Domain: "y.com", Subject: "pending", Category: string(core.CategoryMarketingSpam), Confidence: 0.4, Action: "SKIPPED", Timestamp: base.Add(time.Minute)},
	}
	for _, r := range records {
		if err := s.RecordClassification(ctx, r); err != nil {
			t.Fatalf("RecordClassification: %v", err)
		}
		if r.ID == "" {
			t.Error("ID was not assigned")
		}
	}

	got, err := s.LabeledRecords(ctx)
	if err != nil {
		t.Fatalf("LabeledRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (unconfirmed actions excluded)", len(got))
	}
	if got[0].Sender != "b@chase.com" || got[1].Sender != "a@x.tk" {
		t.Errorf("records not ordered oldest first: %s, %s", got[0].Sender, got[1].Sender)
	}
	if !got[1].Timestamp.Equal(base.Add(2*time.Minute)) || got[1].Confidence != 0.75 || got[1].Action != core.ActionDeleted {
		t.Errorf("record did not round trip: %+v", got[1])
	}
	if got[1].AuthResults != authResults || got[0].AuthResults != "" {
		t.Errorf("auth results = %q, %q", got[0].AuthResults, got[1].AuthResults)
	}

	since, err := s.ClassificationsSince(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClassificationsSince: %v", err)
	}
	if len(since) != 1 || since[0].Sender != "a@x.tk" {
		t.Errorf("ClassificationsSince = %+v", since)
	}
}

func TestPatternCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	steps := []struct {
		category, subcategory, pattern string
		delta                          int64
	}{
		{"Phishing", "Account Security Alert", "verify your account", 2},
		{"Phishing", "Account Security Alert", "verify your account", 3},
		{"Phishing", "Account Security Alert", "unusual sign-in", 1},
		{"Gambling", "Casino Promotion", "free spins", 4},
	}
	for _, st := range steps {
		if err := s.IncrementPattern(ctx, st.category, st.subcategory, st.pattern, st.delta); err != nil {
			t.Fatalf("IncrementPattern: %v", err)
		}
	}

	counts, err := s.PatternCounts(ctx)
	if err != nil {
		t.Fatalf("PatternCounts: %v", err)
	}
	want := []core.PatternCount{
		{Category: "Gambling", Subcategory: "Casino Promotion", Pattern: "free spins", Count: 4},
		{Category: "Phishing", Subcategory: "Account Security Alert", Pattern: "verify your account", Count: 5},
		{Category: "Phishing", Subcategory: "Account Security Alert", Pattern: "unusual sign-in", Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v", counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}
}

func TestFeedbackQueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, fb := range []*core.Feedback{
		{ID: "fb-2", Sender: "b@x.com", Subject: "two", PredictedCategory: "Marketing Spam", CorrectCategory: "Phishing", ConfidenceRating: 4, SubmittedAt: base.Add(time.Minute)},
		{ID: "fb-1", Sender: "a@x.com", Subject: "one", PredictedCategory: "Marketing Spam", CorrectCategory: "Promotional Email", ConfidenceRating: 5, SubmittedAt: base},
		{Sender: "c@x.com", Subject: "three", CorrectCategory: "Gambling", ConfidenceRating: 3, SubmittedAt: base.Add(2 * time.Minute)},
	} {
		if err := s.EnqueueFeedback(ctx, fb); err != nil {
			t.Fatalf("EnqueueFeedback %d: %v", i, err)
		}
	}

	pending, err := s.PendingFeedback(ctx)
	if err != nil {
		t.Fatalf("PendingFeedback: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != "fb-1" || pending[1].ID != "fb-2" {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].ConfidenceRating != 5 || !pending[0].SubmittedAt.Equal(base) {
		t.Errorf("feedback did not round trip: %+v", pending[0])
	}

	if err := s.MarkFeedbackConsumed(ctx, []string{"fb-1", "fb-2"}); err != nil {
		t.Fatalf("MarkFeedbackConsumed: %v", err)
	}
	if err := s.MarkFeedbackConsumed(ctx, nil); err != nil {
		t.Fatalf("MarkFeedbackConsumed(nil): %v", err)
	}

	pending, err = s.PendingFeedback(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Subject != "three" {
		t.Errorf("pending after consume = %+v", pending)
	}
}
