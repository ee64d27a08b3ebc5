package service

import (
	"context"
	"sort"
	"sync"

	"siapxml/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// layoutGuard: at most one worker per layout
// ─────────────────────────────────────────────────────────────

// layoutGuard ensures only one extraction of a given layout runs at a
// time. Different layouts may run concurrently; they only share the store,
// which is partitioned by layout.
type layoutGuard struct {
	mu      sync.Mutex
	running map[domain.LayoutID]struct{}
	wg      sync.WaitGroup
}

// TryLock marks id as running. It returns false if it already is.
func (g *layoutGuard) TryLock(id domain.LayoutID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[domain.LayoutID]struct{})
	}
	if _, ok := g.running[id]; ok {
		return false
	}
	g.running[id] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock releases id. Must follow a successful TryLock.
func (g *layoutGuard) Unlock(id domain.LayoutID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
	g.wg.Done()
}

// Running lists the layouts currently extracting.
func (g *layoutGuard) Running() []domain.LayoutID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]domain.LayoutID, 0, len(g.running))
	for id := range g.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WaitAll blocks until all running extractions complete or ctx is cancelled.
func (g *layoutGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
