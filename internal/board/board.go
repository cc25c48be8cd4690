// Package board holds the client-side verification board: the column index,
// the drag transition controller, the annotation flow, and the background
// persistence queue. The board is the only shared mutable state in the
// engine; all mutation goes through one mutex.
package board

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"veriline/internal/domain"
	"veriline/internal/store"
)

// Board maps column name to the ordered units believed to occupy it.
// Columns partition the unit universe: a unit is in exactly one column.
type Board struct {
	mu      sync.Mutex
	order   []string
	columns map[string][]domain.VerificationUnit
}

// NewBoard creates an empty board with the given column order.
func NewBoard(columns []string) *Board {
	b := &Board{
		order:   append([]string(nil), columns...),
		columns: make(map[string][]domain.VerificationUnit, len(columns)),
	}
	for _, c := range columns {
		b.columns[c] = nil
	}
	return b
}

// Columns returns the column names in render order.
func (b *Board) Columns() []string {
	return append([]string(nil), b.order...)
}

// Has reports whether the board knows the column.
func (b *Board) Has(column string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.columns[column]
	return ok
}

// Units returns a copy of a column's unit list.
func (b *Board) Units(column string) []domain.VerificationUnit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.VerificationUnit(nil), b.columns[column]...)
}

// Find locates a unit by id and reports the column holding it.
func (b *Board) Find(unitID int) (domain.VerificationUnit, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, col := range b.order {
		for _, u := range b.columns[col] {
			if u.ID == unitID {
				return u, col, true
			}
		}
	}
	return domain.VerificationUnit{}, "", false
}

// Seed fetches every column's unit list from the store, one fetch per
// column, joined before the board is installed. A failed column logs a
// warning and seeds empty; partial availability beats total failure.
func (b *Board) Seed(ctx context.Context, st store.Store, workspace, investigation, segment string, log zerolog.Logger) {
	results := make([][]domain.VerificationUnit, len(b.order))
	g, gctx := errgroup.WithContext(ctx)
	for i, col := range b.order {
		g.Go(func() error {
			units, err := st.SegmentUnits(gctx, workspace, investigation, segment, col)
			if err != nil {
				log.Warn().Err(err).Str("column", col).Msg("column seed failed; rendering empty")
				return nil
			}
			results[i] = units
			return nil
		})
	}
	g.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, col := range b.order {
		b.columns[col] = results[i]
	}
}

// Move removes the unit from one column and inserts it into another at the
// given index, preserving the relative order of all other members. The unit
// argument carries the (possibly updated) record to insert. Both halves
// apply under one lock; callers never observe an intermediate state.
func (b *Board) Move(unit domain.VerificationUnit, from, to string, at int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.columns[from]
	filtered := src[:0:0]
	for _, u := range src {
		if u.ID != unit.ID {
			filtered = append(filtered, u)
		}
	}
	b.columns[from] = filtered

	dst := b.columns[to]
	if at < 0 {
		at = 0
	}
	if at > len(dst) {
		at = len(dst)
	}
	next := make([]domain.VerificationUnit, 0, len(dst)+1)
	next = append(next, dst[:at]...)
	next = append(next, unit)
	next = append(next, dst[at:]...)
	b.columns[to] = next
}
