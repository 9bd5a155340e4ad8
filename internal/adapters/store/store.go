// Package store persists classification outcomes, pattern counters and the
// feedback queue in a SQL database through sqlx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/mail-classifier/internal/core"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// Store implements the classification log, pattern counter, feedback queue
// and training source ports
type Store struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

var (
	_ core.ClassificationLog = (*Store)(nil)
	_ core.PatternCounter    = (*Store)(nil)
	_ core.FeedbackQueue     = (*Store)(nil)
	_ core.FeedbackSource    = (*Store)(nil)
	_ core.TrainingSource    = (*Store)(nil)
)

// Open connects to the database and applies pending migrations
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection so :memory: databases are shared and writes serialize
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s store: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Opened store", zap.String("driver", driver))
	return s, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every schema step newer than the recorded version
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrationsFor(s.driver) {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		s.logger.Info("Applied store migration", zap.Int("version", m.version))
	}
	return nil
}

type classificationRow struct {
	ID          string  `db:"id"`
	Sender      string  `db:"sender"`
	Domain      string  `db:"domain"`
	Subject     string  `db:"subject"`
	Category    string  `db:"category"`
	Confidence  float64 `db:"confidence"`
	Action      string  `db:"action"`
	AuthResults string  `db:"auth_results"`
	CreatedAt   int64   `db:"created_at"`
}

func (r classificationRow) record() core.ClassificationRecord {
	return core.ClassificationRecord{
		ID:          r.ID,
		Sender:      r.Sender,
		Domain:      r.Domain,
		Subject:     r.Subject,
		Category:    r.Category,
		Confidence:  r.Confidence,
		Action:      core.Action(r.Action),
		AuthResults: r.AuthResults,
		Timestamp:   time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// RecordClassification appends an outcome to the classification log
func (s *Store) RecordClassification(ctx context.Context, rec *core.ClassificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	row := classificationRow{
		ID:          rec.ID,
		Sender:      rec.Sender,
		Domain:      rec.Domain,
		Subject:     rec.Subject,
		Category:    rec.Category,
		Confidence:  rec.Confidence,
		Action:      string(rec.Action),
		AuthResults: rec.AuthResults,
		CreatedAt:   rec.Timestamp.UnixMilli(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO classifications (id, sender, domain, subject, category, confidence, action, auth_results, created_at)
		VALUES (:id, :sender, :domain, :subject, :category, :confidence, :action, :auth_results, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("recording classification %s: %w", rec.ID, err)
	}
	return nil
}

// LabeledRecords returns every outcome with a confirmed action, oldest first
func (s *Store) LabeledRecords(ctx context.Context) ([]core.ClassificationRecord, error) {
	return s.classifications(ctx, time.Time{})
}

// ClassificationsSince returns the confirmed outcomes recorded at or after since
func (s *Store) ClassificationsSince(ctx context.Context, since time.Time) ([]core.ClassificationRecord, error) {
	return s.classifications(ctx, since)
}

func (s *Store) classifications(ctx context.Context, since time.Time) ([]core.ClassificationRecord, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixMilli()
	}
	var rows []classificationRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, sender, domain, subject, category, confidence, action,
			COALESCE(auth_results, '') AS auth_results, created_at
		FROM classifications
		WHERE action IN (?, ?) AND created_at >= ?
		ORDER BY created_at, id`),
		string(core.ActionDeleted), string(core.ActionPreserved), from)
	if err != nil {
		return nil, fmt.Errorf("querying classifications: %w", err)
	}

	out := make([]core.ClassificationRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// IncrementPattern adds delta to a subcategory pattern counter
func (s *Store) IncrementPattern(ctx context.Context, category, subcategory, pattern string, delta int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(incrementPatternSQL(s.driver)),
		category, subcategory, pattern, delta, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("incrementing pattern %s/%s: %w", category, subcategory, err)
	}
	return nil
}

// PatternCounts returns every counter ordered by category, subcategory and count
func (s *Store) PatternCounts(ctx context.Context) ([]core.PatternCount, error) {
	var rows []struct {
		Category    string `db:"category"`
		Subcategory string `db:"subcategory"`
		Pattern     string `db:"pattern"`
		Hits        int64  `db:"hits"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT category, subcategory, pattern, hits
		FROM pattern_hits
		ORDER BY category, subcategory, hits DESC, pattern`)
	if err != nil {
		return nil, fmt.Errorf("querying pattern counts: %w", err)
	}

	out := make([]core.PatternCount, len(rows))
	for i, r := range rows {
		out[i] = core.PatternCount{Category: r.Category, Subcategory: r.Subcategory, Pattern: r.Pattern, Count: r.Hits}
	}
	return out, nil
}

type feedbackRow struct {
	ID                string        `db:"id"`
	Sender            string        `db:"sender"`
	Subject           string        `db:"subject"`
	PredictedCategory string        `db:"predicted_category"`
	CorrectCategory   string        `db:"correct_category"`
	ConfidenceRating  int           `db:"confidence_rating"`
	SubmittedAt       int64         `db:"submitted_at"`
	ConsumedAt        sql.NullInt64 `db:"consumed_at"`
}

// EnqueueFeedback stores a correction for the next training cycle
func (s *Store) EnqueueFeedback(ctx context.Context, fb *core.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.SubmittedAt.IsZero() {
		fb.SubmittedAt = time.Now().UTC()
	}
	row := feedbackRow{
		ID:                fb.ID,
		Sender:            fb.Sender,
		Subject:           fb.Subject,
		PredictedCategory: fb.PredictedCategory,
		CorrectCategory:   fb.CorrectCategory,
		ConfidenceRating:  fb.ConfidenceRating,
		SubmittedAt:       fb.SubmittedAt.UnixMilli(),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO feedback (id, sender, subject, predicted_category, correct_category, confidence_rating, submitted_at)
		VALUES (:id, :sender, :subject, :predicted_category, :correct_category, :confidence_rating, :submitted_at)`, row)
	if err != nil {
		return fmt.Errorf("queuing feedback %s: %w", fb.ID, err)
	}
	return nil
}

// PendingFeedback returns unconsumed corrections, oldest first
func (s *Store) PendingFeedback(ctx context.Context) ([]core.Feedback, error) {
	var rows []feedbackRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, sender, subject, predicted_category, correct_category, confidence_rating, submitted_at, consumed_at
		FROM feedback
		WHERE consumed_at IS NULL
		ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying pending feedback: %w", err)
	}

	out := make([]core.Feedback, len(rows))
	for i, r := range rows {
		out[i] = core.Feedback{
			ID:                r.ID,
			Sender:            r.Sender,
			Subject:           r.Subject,
			PredictedCategory: r.PredictedCategory,
			CorrectCategory:   r.CorrectCategory,
			ConfidenceRating:  r.ConfidenceRating,
			SubmittedAt:       time.UnixMilli(r.SubmittedAt).UTC(),
		}
	}
	return out, nil
}

// MarkFeedbackConsumed stamps the given corrections as used by a training run
func (s *Store) MarkFeedbackConsumed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE feedback SET consumed_at = ? WHERE id IN (?) AND consumed_at IS NULL`,
		time.Now().UnixMilli(), ids)
	if err != nil {
		return fmt.Errorf("building feedback update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("marking feedback consumed: %w", err)
	}
	return nil
}
