package chain

import "context"

// BuildFunc assembles the next entry given the current chain tip. It is
// invoked while the store holds its append lock, so the tip cannot move
// between being read and the entry being written. prevHash is nil when the
// ledger is empty.
type BuildFunc func(prevHash *string) (Entry, error)

// Store is the durable backing for one ledger instance.
type Store interface {
	// Append atomically reads the tip, builds one entry against it, and
	// writes it. Either one fully valid entry is persisted or nothing is.
	Append(ctx context.Context, build BuildFunc) (Entry, error)

	// ReadAll returns every entry, oldest first.
	ReadAll(ctx context.Context) ([]Entry, error)

	// Tip returns the entry_hash of the newest entry, or nil when empty.
	Tip(ctx context.Context) (*string, error)
}
