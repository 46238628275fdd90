// Package chat is the realtime conversation synchronization engine: it
// keeps conversation lists, message threads, presence and typing
// indicators consistent across paginated REST loads, optimistic local
// writes, server acknowledgments and pushed channel events.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/messenger/client-go/internal/model"
)

// ErrBusy is returned when a page load is already in flight.
var ErrBusy = errors.New("chat: page load in flight")

// Fetcher loads one page. cursor is empty for the first page.
type Fetcher[T any] func(ctx context.Context, limit int, cursor string) (model.Page[T], error)

// Pager is the "load a page, remember the next cursor" primitive behind
// every paginated list. It accumulates rows in fetch order; callers that
// need a different ordering use the per-call return values instead.
//
// A failed fetch leaves rows and cursor untouched, so the operator can
// simply retry. LoadMore never fires once the cursor is exhausted.
type Pager[T any] struct {
	mu        sync.Mutex
	fetch     Fetcher[T]
	limit     int
	rows      []T
	cursor    string
	started   bool
	exhausted bool
	loading   bool
}

func NewPager[T any](fetch Fetcher[T], limit int) *Pager[T] {
	return &Pager[T]{fetch: fetch, limit: limit}
}

// LoadFirst fetches the first page, replacing any accumulated rows, and
// returns the fetched rows.
func (p *Pager[T]) LoadFirst(ctx context.Context) ([]T, error) {
	if !p.begin() {
		return nil, ErrBusy
	}
	page, err := p.fetch(ctx, p.limit, "")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		return nil, fmt.Errorf("chat: load first page: %w", err)
	}
	p.rows = append([]T(nil), page.Rows...)
	p.cursor = page.NextCursor
	p.started = true
	p.exhausted = page.NextCursor == ""
	return page.Rows, nil
}

// LoadMore fetches the next page using the remembered cursor, appends the
// rows, and returns them. It is a no-op returning (nil, nil) when the
// list is exhausted or LoadFirst has not succeeded yet.
func (p *Pager[T]) LoadMore(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	if !p.started || p.exhausted {
		p.mu.Unlock()
		return nil, nil
	}
	if p.loading {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.loading = true
	cursor := p.cursor
	p.mu.Unlock()

	page, err := p.fetch(ctx, p.limit, cursor)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		return nil, fmt.Errorf("chat: load more: %w", err)
	}
	// A stale completion: Reset or LoadFirst ran while we were fetching.
	if p.cursor != cursor {
		return nil, nil
	}
	p.rows = append(p.rows, page.Rows...)
	p.cursor = page.NextCursor
	p.exhausted = page.NextCursor == ""
	return page.Rows, nil
}

// Rows returns a copy of the accumulated rows.
func (p *Pager[T]) Rows() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.rows...)
}

// HasMore reports whether another page may exist.
func (p *Pager[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.exhausted
}

// Loading reports whether a fetch is in flight.
func (p *Pager[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Reset clears rows and cursor, e.g. when the backing collection changes.
func (p *Pager[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = nil
	p.cursor = ""
	p.started = false
	p.exhausted = false
}

// Update applies fn to the accumulated rows in place, under the lock.
// Used for merges driven by pushed events.
func (p *Pager[T]) Update(fn func(rows []T) []T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = fn(p.rows)
}

func (p *Pager[T]) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading {
		return false
	}
	p.loading = true
	return true
}
