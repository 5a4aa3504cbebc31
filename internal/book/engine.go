package book

import (
	"sync"
	"time"
)

// Engine owns the per-symbol books. A book is created on the first delta for
// its symbol and lives for the life of the process; switching symbols simply
// abandons the old state. Updates for symbols the engine has never been asked
// about still land in their own book, so a late message after a symbol switch
// is tolerated rather than treated as an error.
type Engine struct {
	mu       sync.RWMutex
	maxDepth int
	books    map[string]*Book
}

// NewEngine creates an engine whose books truncate to maxDepth levels
// per side.
func NewEngine(maxDepth int) *Engine {
	return &Engine{
		maxDepth: maxDepth,
		books:    make(map[string]*Book),
	}
}

// Update applies one delta batch to the symbol's book, creating it on first
// contact.
func (e *Engine) Update(symbol string, asks, bids []Delta, ts time.Time) {
	e.book(symbol).Update(asks, bids, ts)
}

// Book returns the book for symbol, nil when no update has arrived yet.
func (e *Engine) Book(symbol string) *Book {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[symbol]
}

// Snapshot returns an immutable copy of the symbol's book, ok == false when
// the symbol has never been seen.
func (e *Engine) Snapshot(symbol string) (*Snapshot, bool) {
	b := e.Book(symbol)
	if b == nil {
		return nil, false
	}
	return b.Snapshot(), true
}

// Reset clears the levels of every tracked book. Used when the feed
// reconnects under the "reset" resync policy.
func (e *Engine) Reset() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, b := range e.books {
		b.Reset()
	}
}

// Symbols lists every symbol with a live book.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for sym := range e.books {
		out = append(out, sym)
	}
	return out
}

func (e *Engine) book(symbol string) *Book {
	e.mu.RLock()
	b := e.books[symbol]
	e.mu.RUnlock()
	if b != nil {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b = e.books[symbol]; b == nil {
		b = NewBook(symbol, e.maxDepth)
		e.books[symbol] = b
	}
	return b
}
