// Package ledger persists the set of message identities that earlier runs
// already processed, so repeated walks of the same mailbox skip known
// messages. Entries are keyed on the stable internetMessageId, never the
// per-request message id.
//
// The ledger assumes a single writer. Two processes sharing a backing
// file will race and can silently lose updates.
package ledger

// Ledger answers membership queries over processed message identities and
// records new ones durably.
type Ledger interface {
	// IsProcessed reports whether id was recorded by this or an earlier run.
	IsProcessed(id string) bool
	// MarkProcessed records id and persists immediately.
	MarkProcessed(id string) error
	// Count returns the number of recorded identities.
	Count() int
	// Clear empties the set and persists immediately.
	Clear() error
	// Close releases any backing resources.
	Close() error
}

// Nop returns a ledger that records nothing and reports every message as
// new. Used for "ignore previous" runs that bypass deduplication.
func Nop() Ledger { return nopLedger{} }

type nopLedger struct{}

func (nopLedger) IsProcessed(string) bool   { return false }
func (nopLedger) MarkProcessed(string) error { return nil }
func (nopLedger) Count() int                { return 0 }
func (nopLedger) Clear() error              { return nil }
func (nopLedger) Close() error              { return nil }

// memory is the in-process fallback used when a persistent backend cannot
// be opened. It keeps the session deduplicating but survives nothing.
type memory struct {
	ids map[string]struct{}
}

func newMemory() *memory { return &memory{ids: make(map[string]struct{})} }

func (m *memory) IsProcessed(id string) bool {
	_, ok := m.ids[id]
	return ok
}

func (m *memory) MarkProcessed(id string) error {
	m.ids[id] = struct{}{}
	return nil
}

func (m *memory) Count() int { return len(m.ids) }

func (m *memory) Clear() error {
	m.ids = make(map[string]struct{})
	return nil
}

func (m *memory) Close() error { return nil }
