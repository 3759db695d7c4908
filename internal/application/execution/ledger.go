package execution

import (
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const notionalEpsilon = 1e-9

// Reservation is capital committed to an unresolved order.
type Reservation struct {
	ID        string
	Slug      string
	Notional  float64
	Outcome   domain.Outcome
	CreatedAt time.Time
}

// Ledger tracks the exchange balance and the reservations held against it.
// Available = balance - sum(reservations). Every method is safe for
// concurrent use; ReserveIfAffordable checks and reserves under one lock so
// two markets evaluated at once can never spend the same dollars.
type Ledger struct {
	mu        sync.Mutex
	balance   float64
	balanceAt time.Time
	res       map[string]Reservation
	now       func() time.Time
}

// NewLedger creates an empty ledger. now may be nil (time.Now).
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{res: make(map[string]Reservation), now: now}
}

// SetBalance replaces the cached exchange balance after a fetch.
func (l *Ledger) SetBalance(usd float64) {
	l.mu.Lock()
	l.balance = usd
	l.balanceAt = l.now()
	l.mu.Unlock()
}

// Balance returns the cached balance and when it was fetched.
func (l *Ledger) Balance() (float64, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, l.balanceAt
}

// Reserve records a commitment unconditionally. Reserving an existing id
// replaces the previous amount.
func (l *Ledger) Reserve(id, slug string, notional float64, o domain.Outcome) {
	l.mu.Lock()
	l.reserveLocked(id, slug, notional, o)
	l.mu.Unlock()
}

// ReserveIfAffordable reserves only if notional fits in the available balance.
func (l *Ledger) ReserveIfAffordable(id, slug string, notional float64, o domain.Outcome) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if notional > l.availableLocked()+notionalEpsilon {
		return false
	}
	l.reserveLocked(id, slug, notional, o)
	return true
}

func (l *Ledger) reserveLocked(id, slug string, notional float64, o domain.Outcome) {
	if notional <= notionalEpsilon {
		delete(l.res, id)
		return
	}
	l.res[id] = Reservation{ID: id, Slug: slug, Notional: notional, Outcome: o, CreatedAt: l.now()}
}

// Release removes a commitment. Unknown ids are ignored.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	delete(l.res, id)
	l.mu.Unlock()
}

// OnFill marks filledNotional of a reservation as spent: the cached balance
// drops by the same amount and the reservation shrinks (and disappears once
// fully consumed). Available balance is unchanged by a fill of reserved money.
func (l *Ledger) OnFill(id string, filledNotional float64) {
	if filledNotional <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance -= filledNotional
	r, ok := l.res[id]
	if !ok {
		return
	}
	r.Notional -= filledNotional
	if r.Notional <= notionalEpsilon {
		delete(l.res, id)
		return
	}
	l.res[id] = r
}

// Rekey moves a reservation to a new id with a new amount (the unfilled
// remainder of a working order). remaining <= 0 just releases oldID.
func (l *Ledger) Rekey(oldID, newID string, remaining float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.res[oldID]
	delete(l.res, oldID)
	if !ok || remaining <= notionalEpsilon {
		return
	}
	l.reserveLocked(newID, r.Slug, remaining, r.Outcome)
}

// Expire releases reservations older than maxAge and returns them.
func (l *Ledger) Expire(maxAge time.Duration) []Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxAge)
	var out []Reservation
	for id, r := range l.res {
		if r.CreatedAt.Before(cutoff) {
			out = append(out, r)
			delete(l.res, id)
		}
	}
	return out
}

// ReleaseMarket drops every reservation of a market. Returns how many.
func (l *Ledger) ReleaseMarket(slug string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, r := range l.res {
		if r.Slug == slug {
			delete(l.res, id)
			n++
		}
	}
	return n
}

// Available is balance minus live reservations.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked()
}

func (l *Ledger) availableLocked() float64 {
	return l.balance - l.reservedLocked("")
}

// Reserved is the sum of live reservations.
func (l *Ledger) Reserved() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservedLocked("")
}

// ReservedFor is the sum of live reservations of one market.
func (l *Ledger) ReservedFor(slug string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservedLocked(slug)
}

func (l *Ledger) reservedLocked(slug string) float64 {
	var total float64
	for _, r := range l.res {
		if slug == "" || r.Slug == slug {
			total += r.Notional
		}
	}
	return total
}

// Len returns the number of live reservations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.res)
}
