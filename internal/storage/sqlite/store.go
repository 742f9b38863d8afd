package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rumspool/internal/domain"

	_ "modernc.org/sqlite"
)

const consentSchema = `
CREATE TABLE IF NOT EXISTS tracking_consent (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	value TEXT NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS consent_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	value TEXT NOT NULL,
	changed_at_utc_ns INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_consent_history_no_update
BEFORE UPDATE ON consent_history
BEGIN
	SELECT RAISE(ABORT, 'consent_history is append-only: UPDATE forbidden');
END;

CREATE TRIGGER IF NOT EXISTS trg_consent_history_no_delete
BEFORE DELETE ON consent_history
BEGIN
	SELECT RAISE(ABORT, 'consent_history is append-only: DELETE forbidden');
END;
`

// ConsentChange is one row of the consent audit trail.
type ConsentChange struct {
	Seq       int64
	Consent   domain.Consent
	ChangedAt time.Time
}

// ConsentStore persists the current tracking consent across restarts and
// keeps an append-only history of every value saved.
type ConsentStore struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*ConsentStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir consent store dir: %w", err)
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open consent store: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(consentSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init consent schema: %w", err)
	}
	return &ConsentStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *ConsentStore) Close() error { return s.db.Close() }

// Load returns the stored consent. ok is false when nothing was saved yet.
func (s *ConsentStore) Load(ctx context.Context) (domain.Consent, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tracking_consent WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConsentUnset, false, nil
	}
	if err != nil {
		return domain.ConsentUnset, false, fmt.Errorf("load consent: %w", err)
	}
	c, err := domain.ParseConsent(raw)
	if err != nil {
		return domain.ConsentUnset, false, fmt.Errorf("load consent: %w", err)
	}
	return c, true, nil
}

func (s *ConsentStore) Save(ctx context.Context, c domain.Consent) error {
	if !c.Valid() {
		return fmt.Errorf("save consent: invalid value %s", c)
	}
	nowNs := s.now().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO tracking_consent(id, value, updated_at_utc_ns) VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET value=excluded.value, updated_at_utc_ns=excluded.updated_at_utc_ns`, c.String(), nowNs); err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO consent_history(value, changed_at_utc_ns) VALUES(?, ?)`, c.String(), nowNs); err != nil {
		return fmt.Errorf("record consent history: %w", err)
	}
	return tx.Commit()
}

// History returns every saved value, oldest first.
func (s *ConsentStore) History(ctx context.Context) ([]ConsentChange, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, value, changed_at_utc_ns FROM consent_history ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConsentChange
	for rows.Next() {
		var (
			ch  ConsentChange
			raw string
			ns  int64
		)
		if err := rows.Scan(&ch.Seq, &raw, &ns); err != nil {
			return nil, err
		}
		if ch.Consent, err = domain.ParseConsent(raw); err != nil {
			return nil, err
		}
		ch.ChangedAt = time.Unix(0, ns).UTC()
		out = append(out, ch)
	}
	return out, rows.Err()
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
