package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS ledger_assertions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	assertion_id   TEXT NOT NULL UNIQUE,
	kind           TEXT NOT NULL,
	policy_version TEXT NOT NULL,
	step_index     INTEGER NOT NULL,
	body           TEXT NOT NULL,
	body_hash      TEXT NOT NULL,
	appended_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_assertions_policy ON ledger_assertions(policy_version);

CREATE TRIGGER IF NOT EXISTS ledger_assertions_no_update
BEFORE UPDATE ON ledger_assertions
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS ledger_assertions_no_delete
BEFORE DELETE ON ledger_assertions
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;
`

// #endregion schema

// #region store-struct
// Store is the append-only assertion ledger backed by SQLite. All writes go
// through one mutex-guarded connection.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// OpenStore opens a SQLite ledger and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region append
// Append writes assertions in one transaction. An assertion already present
// with the same bytes is skipped; an id whose content does not match, either
// against its own body or the stored row, fails the whole append with
// ErrIntegrity and leaves the ledger untouched. It returns the number of new
// rows.
func (s *Store) Append(ctx context.Context, as []Assertion) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	at := s.now().Format(time.RFC3339Nano)
	added := 0
	for _, a := range as {
		want, err := AssertionID(a)
		if err != nil {
			return 0, err
		}
		if a.ID != want {
			return 0, fmt.Errorf("assertion %s: id does not match content: %w", a.ID, ErrIntegrity)
		}
		body, err := json.Marshal(a)
		if err != nil {
			return 0, fmt.Errorf("marshal assertion %s: %w", a.ID, err)
		}
		sum := sha256.Sum256(body)
		hash := hex.EncodeToString(sum[:])

		var existing string
		err = tx.QueryRowContext(ctx,
			`SELECT body_hash FROM ledger_assertions WHERE assertion_id = ?`, a.ID,
		).Scan(&existing)
		switch {
		case err == nil:
			if existing != hash {
				return 0, fmt.Errorf("assertion %s: stored body differs: %w", a.ID, ErrIntegrity)
			}
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return 0, fmt.Errorf("lookup assertion %s: %w", a.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_assertions (assertion_id, kind, policy_version, step_index, body, body_hash, appended_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, string(a.Kind), a.PolicyVersion, a.StepIndex, string(body), hash, at,
		)
		if err != nil {
			return 0, fmt.Errorf("insert assertion %s: %w", a.ID, err)
		}
		added++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// #endregion append

// #region read
// List returns assertions in append order. An empty policyVersion lists all.
func (s *Store) List(ctx context.Context, policyVersion string) ([]Assertion, error) {
	query := `SELECT body, body_hash FROM ledger_assertions ORDER BY seq`
	args := []any{}
	if policyVersion != "" {
		query = `SELECT body, body_hash FROM ledger_assertions WHERE policy_version = ? ORDER BY seq`
		args = append(args, policyVersion)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assertions: %w", err)
	}
	defer rows.Close()

	var out []Assertion
	for rows.Next() {
		var body, hash string
		if err := rows.Scan(&body, &hash); err != nil {
			return nil, fmt.Errorf("scan assertion: %w", err)
		}
		sum := sha256.Sum256([]byte(body))
		if hex.EncodeToString(sum[:]) != hash {
			return nil, fmt.Errorf("stored body hash mismatch: %w", ErrIntegrity)
		}
		var a Assertion
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("unmarshal assertion: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns the number of stored assertions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_assertions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count assertions: %w", err)
	}
	return n, nil
}

// #endregion read
