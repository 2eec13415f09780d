// Package reorder implements drag-reorder of position-numbered lists.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Positioned is an item that carries an externally visible position.
type Positioned[T any] interface {
	OrderKey() string
	WithPosition(position int) T
}

type Placement struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Move relocates the item sourceID to the index currently held by destID and
// renumbers every item to its new zero-based index. Items not involved keep
// their relative order. When sourceID equals destID, or either is missing,
// the input is returned unchanged.
func Move[T Positioned[T]](items []T, sourceID, destID string) []T {
	if sourceID == destID {
		return items
	}
	from, to := -1, -1
	for i, item := range items {
		switch item.OrderKey() {
		case sourceID:
			from = i
		case destID:
			to = i
		}
	}
	if from < 0 || to < 0 {
		return items
	}
	return MoveIndex(items, from, to)
}

// MoveIndex is Move addressed by index. MoveIndex(MoveIndex(l, a, b), b, a)
// restores l. Out of range or equal indexes return the input unchanged.
func MoveIndex[T Positioned[T]](items []T, from, to int) []T {
	if from == to || from < 0 || to < 0 || from >= len(items) || to >= len(items) {
		return items
	}

	out := make([]T, 0, len(items))
	moved := items[from]
	for i, item := range items {
		if i == from {
			continue
		}
		out = append(out, item)
	}
	out = append(out[:to], append([]T{moved}, out[to:]...)...)
	return Renumber(out)
}

// Remove deletes id and renumbers the rest.
func Remove[T Positioned[T]](items []T, id string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item.OrderKey() == id {
			continue
		}
		out = append(out, item)
	}
	return Renumber(out)
}

// Renumber assigns positions 0..n-1 in slice order.
func Renumber[T Positioned[T]](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = item.WithPosition(i)
	}
	return out
}

// Sorted orders items by their current position, keeping slice order for
// ties, and renumbers them densely.
func Sorted[T Positioned[T]](items []T, position func(T) int) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return position(out[i]) < position(out[j]) })
	return Renumber(out)
}

// Placements is the upsert plan for persisting an ordering.
func Placements[T Positioned[T]](items []T) []Placement {
	out := make([]Placement, len(items))
	for i, item := range items {
		out[i] = Placement{ID: item.OrderKey(), Position: i}
	}
	return out
}

// ErrInProgress is returned when a list already has a reorder in flight.
var ErrInProgress = errors.New("reorder already in progress")

// Guard tracks which lists have a reorder in flight. At most one reorder per
// list key runs at a time.
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{inFlight: make(map[string]struct{})}
}

// Begin marks key in flight. The returned release func must be called once
// the reorder has settled.
func (g *Guard) Begin(key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return nil, ErrInProgress
	}
	g.inFlight[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, nil
}

// Outcome reports what a reorder or removal command did.
type Outcome[T any] struct {
	Items      []T
	Moved      bool
	Removed    bool
	RolledBack bool
}

// Apply runs one reorder command against a list: the move is computed,
// marked in flight under key, and persisted. If persistence fails the
// pre-move order is returned with RolledBack set alongside the error.
func Apply[T Positioned[T]](
	ctx context.Context,
	guard *Guard,
	key string,
	items []T,
	sourceID, destID string,
	persist func(context.Context, []T) error,
) (Outcome[T], error) {
	release, err := guard.Begin(key)
	if err != nil {
		return Outcome[T]{Items: items}, err
	}
	defer release()

	next := Move(items, sourceID, destID)
	if !changed(items, next) {
		return Outcome[T]{Items: items}, nil
	}
	if err := persist(ctx, next); err != nil {
		return Outcome[T]{Items: items, RolledBack: true}, fmt.Errorf("persist order: %w", err)
	}
	return Outcome[T]{Items: next, Moved: true}, nil
}

// ApplyRemove deletes id from a list under the same in-flight guard as Apply
// and persists the renumbered remainder. A missing id is a no-op. If
// persistence fails the original list is returned with RolledBack set.
func ApplyRemove[T Positioned[T]](
	ctx context.Context,
	guard *Guard,
	key string,
	items []T,
	id string,
	persist func(context.Context, []T) error,
) (Outcome[T], error) {
	release, err := guard.Begin(key)
	if err != nil {
		return Outcome[T]{Items: items}, err
	}
	defer release()

	next := Remove(items, id)
	if len(next) == len(items) {
		return Outcome[T]{Items: items}, nil
	}
	if err := persist(ctx, next); err != nil {
		return Outcome[T]{Items: items, RolledBack: true}, fmt.Errorf("persist removal: %w", err)
	}
	return Outcome[T]{Items: next, Removed: true}, nil
}

func changed[T Positioned[T]](before, after []T) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if before[i].OrderKey() != after[i].OrderKey() {
			return true
		}
	}
	return false
}
