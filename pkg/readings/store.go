// Package readings keeps a local history of meter readings submitted to
// E.ON. The API only reports readings once they are processed, so the
// history is the record of what was actually sent and how it was answered.
package readings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var submittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eon_readings_submitted_total",
	Help: "Total meter readings sent by result",
}, []string{"result"})

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	account_contract TEXT    NOT NULL,
	meter_id         TEXT    NOT NULL,
	value            INTEGER NOT NULL,
	accepted         INTEGER NOT NULL,
	response         TEXT    NOT NULL DEFAULT '',
	cycle_id         TEXT    NOT NULL DEFAULT '',
	submitted_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_contract
	ON submissions(account_contract, submitted_at);
`

// Submission is one meter reading sent to the API.
type Submission struct {
	ID              int64     `json:"id"`
	AccountContract string    `json:"account_contract"`
	MeterID         string    `json:"meter_id"`
	Value           int       `json:"value"`
	Accepted        bool      `json:"accepted"`
	Response        string    `json:"response,omitempty"`
	CycleID         string    `json:"cycle_id,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Store is the SQLite-backed submission history.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	logger.Info().Str("path", path).Msg("Reading history database ready")
	return &Store{db: db, logger: logger}, nil
}

// Record stores a submission and returns it with its ID set. A zero
// SubmittedAt is replaced by the current time.
func (s *Store) Record(ctx context.Context, sub Submission) (Submission, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	sub.SubmittedAt = sub.SubmittedAt.UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (account_contract, meter_id, value, accepted, response, cycle_id, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.AccountContract, sub.MeterID, sub.Value, sub.Accepted, sub.Response, sub.CycleID, sub.SubmittedAt,
	)
	if err != nil {
		return sub, fmt.Errorf("insert submission: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return sub, fmt.Errorf("insert submission: %w", err)
	}
	sub.ID = id

	result := "rejected"
	if sub.Accepted {
		result = "accepted"
	}
	submittedTotal.WithLabelValues(result).Inc()

	s.logger.Info().
		Str("account_contract", sub.AccountContract).
		Str("meter_id", sub.MeterID).
		Int("value", sub.Value).
		Bool("accepted", sub.Accepted).
		Msg("Meter reading recorded")

	return sub, nil
}

// List returns the most recent submissions for a contract, newest first.
func (s *Store) List(ctx context.Context, accountContract string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_contract, meter_id, value, accepted, response, cycle_id, submitted_at
		FROM submissions
		WHERE account_contract = ?
		ORDER BY submitted_at DESC, id DESC
		LIMIT ?`, accountContract, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	out := []Submission{}
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.AccountContract, &sub.MeterID, &sub.Value,
			&sub.Accepted, &sub.Response, &sub.CycleID, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}

	return out, nil
}

// Last returns the newest accepted submission for a contract.
func (s *Store) Last(ctx context.Context, accountContract string) (*Submission, error) {
	var sub Submission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_contract, meter_id, value, accepted, response, cycle_id, submitted_at
		FROM submissions
		WHERE account_contract = ? AND accepted = 1
		ORDER BY submitted_at DESC, id DESC
		LIMIT 1`, accountContract).
		Scan(&sub.ID, &sub.AccountContract, &sub.MeterID, &sub.Value,
			&sub.Accepted, &sub.Response, &sub.CycleID, &sub.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last submission: %w", err)
	}
	return &sub, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
