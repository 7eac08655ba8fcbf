package chain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEntryNotFound is returned by point lookups on a missing entry_id.
var ErrEntryNotFound = errors.New("chain: entry not found")

// SQLStore persists a ledger in a SQL table via database/sql. It is used
// with the modernc.org/sqlite driver for single-file offline ledgers; any
// driver accepting `?` placeholders works.
//
// The entry body is stored as JSON text; entry_id and entry_hash are
// indexed columns so the authority ledger's point lookups do not need a
// full scan.
type SQLStore struct {
	db    *sql.DB
	table string
}

// NewSQLStore creates a store over db writing to the named table.
func NewSQLStore(db *sql.DB, table string) *SQLStore {
	return &SQLStore{db: db, table: table}
}

// Init creates the backing table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id TEXT NOT NULL UNIQUE,
	entry_hash TEXT NOT NULL,
	prev_entry_hash TEXT,
	body TEXT NOT NULL
);`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("chain: create table %s: %w", s.table, err)
	}
	return nil
}

// Append runs the read-tip/build/insert cycle inside one transaction, which
// gives the compare-and-append guarantee: a concurrent writer either sees
// this entry as the new tip or fails, never a forked prev_entry_hash.
func (s *SQLStore) Append(ctx context.Context, build BuildFunc) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev *string
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT entry_hash FROM %s ORDER BY seq DESC LIMIT 1`, s.table))
	var tip string
	switch err := row.Scan(&tip); {
	case err == nil:
		prev = &tip
	case errors.Is(err, sql.ErrNoRows):
		// empty ledger
	default:
		return nil, fmt.Errorf("chain: read tip: %w", err)
	}

	entry, err := build(prev)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal entry: %w", err)
	}
	entryID, _ := entry["entry_id"].(string)
	entryHash, _ := entry["entry_hash"].(string)
	prevHash, _ := entry["prev_entry_hash"].(string)

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (entry_id, entry_hash, prev_entry_hash, body) VALUES (?, ?, ?, ?)`, s.table),
		entryID, entryHash, nullable(prevHash), string(body)); err != nil {
		return nil, fmt.Errorf("chain: insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chain: commit append: %w", err)
	}
	return entry, nil
}

// ReadAll returns every entry in insertion order.
func (s *SQLStore) ReadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT body FROM %s ORDER BY seq ASC`, s.table))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChain, err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChain, err)
		}
		var entry Entry
		if err := json.Unmarshal([]byte(body), &entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChain, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChain, err)
	}
	return entries, nil
}

// Tip returns the newest entry_hash, or nil for an empty ledger.
func (s *SQLStore) Tip(ctx context.Context) (*string, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT entry_hash FROM %s ORDER BY seq DESC LIMIT 1`, s.table))
	var tip string
	switch err := row.Scan(&tip); {
	case err == nil:
		return &tip, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("chain: read tip: %w", err)
	}
}

// Get performs a point lookup by entry_id.
func (s *SQLStore) Get(ctx context.Context, entryID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT body FROM %s WHERE entry_id = ?`, s.table), entryID)
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("chain: lookup %s: %w", entryID, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(body), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChain, err)
	}
	return entry, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
