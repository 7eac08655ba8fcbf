package chain

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists a ledger as newline-delimited JSON, one entry per line,
// oldest first. The file is only ever appended to.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (or prepares to create) an NDJSON ledger at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Append holds the store lock for the whole read-tip/build/write cycle, so
// two writers can never claim the same prev_entry_hash.
func (s *FileStore) Append(ctx context.Context, build BuildFunc) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev, err := s.tipLocked()
	if err != nil {
		return nil, err
	}

	entry, err := build(prev)
	if err != nil {
		return nil, err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal entry: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("chain: create ledger dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("chain: open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("chain: append entry: %w", err)
	}
	return entry, nil
}

// ReadAll parses every line of the ledger, oldest first. A line that is not
// valid JSON is a fatal read error here; VerifyChain should be pointed at
// ReadAllRaw output when a tamper diagnosis is wanted instead.
func (s *FileStore) ReadAll(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked(ctx)
}

func (s *FileStore) readAllLocked(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrChain, err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrChain, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChain, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Tip returns the entry_hash of the last entry, or nil for an empty ledger.
func (s *FileStore) Tip(ctx context.Context) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.tipLocked()
}

func (s *FileStore) tipLocked() (*string, error) {
	entries, err := s.readAllLocked(context.Background())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	h, _ := entries[len(entries)-1]["entry_hash"].(string)
	return &h, nil
}
