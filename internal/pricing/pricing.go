// Package pricing fixes a sale's unit price at creation time.
package pricing

import (
	"context"
	"sync"
	"time"
)

// Query identifies what is being priced. LocationID and MachineID are
// optional scopes; the most specific match wins.
type Query struct {
	ProductID  string
	LocationID string
	MachineID  string
	AsOf       time.Time
}

// Resolver returns the unit price in minor currency units. ok is false when
// no price is defined for the query.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (amount int64, ok bool, err error)
}

type ResolverFunc func(ctx context.Context, q Query) (int64, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, q Query) (int64, bool, error) { return f(ctx, q) }

// Entry is one row of a price list.
type Entry struct {
	ProductID  string
	LocationID string
	MachineID  string
	Amount     int64
	ValidFrom  time.Time
	ValidTo    *time.Time
}

func (e Entry) covers(q Query) bool {
	if e.ProductID != q.ProductID {
		return false
	}
	if e.MachineID != "" && e.MachineID != q.MachineID {
		return false
	}
	if e.LocationID != "" && e.LocationID != q.LocationID {
		return false
	}
	if !q.AsOf.IsZero() {
		if e.ValidFrom.After(q.AsOf) {
			return false
		}
		if e.ValidTo != nil && !q.AsOf.Before(*e.ValidTo) {
			return false
		}
	}
	return true
}

// specificity ranks machine over location over global.
func (e Entry) specificity() int {
	switch {
	case e.MachineID != "":
		return 2
	case e.LocationID != "":
		return 1
	}
	return 0
}

// Static is an in-memory price list with the same precedence rules as the
// prices table.
type Static struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewStatic(entries ...Entry) *Static {
	return &Static{entries: append([]Entry(nil), entries...)}
}

func (s *Static) Add(e Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

// PutPrice adds e, stamping ValidFrom with now when unset.
func (s *Static) PutPrice(_ context.Context, e Entry) error {
	if e.ValidFrom.IsZero() {
		e.ValidFrom = time.Now().UTC()
	}
	s.Add(e)
	return nil
}

func (s *Static) Resolve(_ context.Context, q Query) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  Entry
		found bool
	)
	for _, e := range s.entries {
		if !e.covers(q) {
			continue
		}
		if !found || better(e, best) {
			best, found = e, true
		}
	}
	if !found {
		return 0, false, nil
	}
	return best.Amount, true, nil
}

func better(a, b Entry) bool {
	if a.specificity() != b.specificity() {
		return a.specificity() > b.specificity()
	}
	return a.ValidFrom.After(b.ValidFrom)
}
