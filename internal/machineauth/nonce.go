package machineauth

import (
	"container/heap"
	"sync"
	"time"
)

// NonceLedger remembers nonces for a sliding window. Remember is an atomic
// check-and-insert: exactly one caller wins for a given nonce within the
// window, however many race. Expired entries are evicted lazily from a
// min-heap ordered by expiry, so memory tracks the live window, not history.
type NonceLedger struct {
	mu     sync.Mutex
	ttl    time.Duration
	seen   map[string]time.Time
	expiry nonceHeap
	now    func() time.Time
}

// NewNonceLedger returns a ledger with the given window.
func NewNonceLedger(ttl time.Duration) *NonceLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &NonceLedger{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Remember records the nonce. Returns false if the nonce was already recorded
// within the window; the caller must then reject the request as a replay.
func (l *NonceLedger) Remember(nonce string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evictLocked(now)
	if _, dup := l.seen[nonce]; dup {
		return false
	}
	exp := now.Add(l.ttl)
	l.seen[nonce] = exp
	heap.Push(&l.expiry, nonceEntry{nonce: nonce, expiresAt: exp})
	return true
}

// Len reports the number of live entries, after eviction.
func (l *NonceLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked(l.now())
	return len(l.seen)
}

func (l *NonceLedger) evictLocked(now time.Time) {
	for l.expiry.Len() > 0 && !now.Before(l.expiry[0].expiresAt) {
		e := heap.Pop(&l.expiry).(nonceEntry)
		// A nonce may have been re-inserted with a later expiry after the
		// original aged out; only drop the map entry it still owns.
		if exp, ok := l.seen[e.nonce]; ok && !exp.After(e.expiresAt) {
			delete(l.seen, e.nonce)
		}
	}
}

type nonceEntry struct {
	nonce     string
	expiresAt time.Time
}

type nonceHeap []nonceEntry

func (h nonceHeap) Len() int            { return len(h) }
func (h nonceHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h nonceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nonceHeap) Push(x interface{}) { *h = append(*h, x.(nonceEntry)) }
func (h *nonceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
