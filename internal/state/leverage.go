package state

import "sync"

// LeverageMemo remembers which symbols already had leverage set in this
// process lifetime.
type LeverageMemo struct {
	mu  sync.Mutex
	set map[string]bool
}

func NewLeverageMemo() *LeverageMemo {
	return &LeverageMemo{set: make(map[string]bool)}
}

func (l *LeverageMemo) IsSet(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set[symbol]
}

func (l *LeverageMemo) MarkSet(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set[symbol] = true
}

// Reset forgets every symbol, e.g. after the leverage setting changed.
func (l *LeverageMemo) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set = make(map[string]bool)
}
