// Package memory implements the shared byte-buffer allocator: one
// process-wide budget divided into disjoint ranges assigned to caches, with
// least-recently-used eviction when demand exceeds the budget. The
// allocation and eviction bookkeeping is grounded on the LRU piece cache in
// g4nd41fs/elementum's storage/memory package (capacity, positions,
// remove-by-index eviction), adapted from torrent pieces to cache owners
// and from wall-clock stats polling to a monotonic touch counter so
// eviction order is deterministic for tests.
package memory

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"epicurrents.dev/core/errs"
)

// OwnerID identifies the cache that owns a byte range.
type OwnerID string

// Range is a half-open byte range [Start, End) inside the shared buffer.
type Range struct {
	Start, End int64
}

// Len returns the range's width in bytes.
func (r Range) Len() int64 { return r.End - r.Start }

type owner struct {
	id         OwnerID
	rng        Range
	lastTouch  uint64
	reserved   int // commissions in flight; > 0 makes the owner non-evictable
	dependsOn  []OwnerID
}

// Manager partitions one shared byte buffer among owners under a fixed
// total-byte budget, evicting least-recently-used owners on demand.
type Manager struct {
	mu     sync.Mutex
	log    zerolog.Logger
	size   int64
	clock  uint64
	owners map[OwnerID]*owner

	metrics     Metrics
	onRearrange func(id OwnerID, old, new Range)
}

// Metrics is the set of counters the manager bumps on every allocation
// decision; a nil Metrics is a safe no-op sink (used by tests that don't
// care about observability).
type Metrics interface {
	ObserveAllocatedBytes(int64)
	ObserveFreeBytes(int64)
	IncEviction()
}

type noopMetrics struct{}

func (noopMetrics) ObserveAllocatedBytes(int64) {}
func (noopMetrics) ObserveFreeBytes(int64)      {}
func (noopMetrics) IncEviction()                {}

// New creates a Manager governing a buffer of the given size in bytes.
func New(size int64, log zerolog.Logger, m Metrics) *Manager {
	if m == nil {
		m = noopMetrics{}
	}
	return &Manager{
		size:    size,
		log:     log,
		owners:  map[OwnerID]*owner{},
		metrics: m,
	}
}

// usedBytes must be called with mu held.
func (m *Manager) usedBytes() int64 {
	var used int64
	for _, o := range m.owners {
		used += o.rng.Len()
	}
	return used
}

func (m *Manager) freeBytesLocked() int64 { return m.size - m.usedBytes() }

// FreeBytes returns the currently unallocated byte budget.
func (m *Manager) FreeBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeBytesLocked()
}

// OnRearrange registers the callback invoked synchronously, under lock,
// each time compaction moves an owner's range. A caller uses it to
// re-anchor a downstream cache's addressing before relying on the move;
// this message acts as a barrier the caller must observe before issuing
// further reads against the shared buffer.
func (m *Manager) OnRearrange(f func(id OwnerID, old, new Range)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRearrange = f
}

// Allocate reserves `bytes` for owner, evicting LRU owners as needed.
// Evicted owners are returned so the caller can notify them that their
// range is gone; owners moved by compaction are reported through the
// OnRearrange callback instead.
func (m *Manager) Allocate(id OwnerID, bytes int64, dependsOn ...OwnerID) (Range, []OwnerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bytes <= 0 || bytes > m.size {
		return Range{}, nil, &errs.AllocationError{Requested: bytes, Free: m.freeBytesLocked()}
	}

	if rng, ok := m.fitLocked(bytes); ok {
		m.commitLocked(id, rng, dependsOn)
		return rng, nil, nil
	}

	evicted := m.evictLRULocked(bytes)

	if rng, ok := m.fitLocked(bytes); ok {
		m.commitLocked(id, rng, dependsOn)
		return rng, evicted, nil
	}

	return Range{}, evicted, &errs.AllocationError{Requested: bytes, Free: m.freeBytesLocked()}
}

// fitLocked returns the lowest-address contiguous free range of at least
// `bytes`, scanning the gaps between currently allocated ranges.
func (m *Manager) fitLocked(bytes int64) (Range, bool) {
	type interval struct{ start, end int64 }
	occupied := make([]interval, 0, len(m.owners))
	for _, o := range m.owners {
		occupied = append(occupied, interval{o.rng.Start, o.rng.End})
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].start < occupied[j].start })

	cursor := int64(0)
	for _, iv := range occupied {
		if iv.start-cursor >= bytes {
			return Range{Start: cursor, End: cursor + bytes}, true
		}
		if iv.end > cursor {
			cursor = iv.end
		}
	}
	if m.size-cursor >= bytes {
		return Range{Start: cursor, End: cursor + bytes}, true
	}
	return Range{}, false
}

func (m *Manager) commitLocked(id OwnerID, rng Range, dependsOn []OwnerID) {
	m.clock++
	m.owners[id] = &owner{id: id, rng: rng, lastTouch: m.clock, dependsOn: dependsOn}
	m.metrics.ObserveAllocatedBytes(m.usedBytes())
	m.metrics.ObserveFreeBytes(m.freeBytesLocked())
}

// evictLRULocked evicts owners, lowest-lastTouch first and lowest-id on
// ties (deterministic for tests), stopping as soon as the fit check above
// passes. It never evicts an owner with a live reservation.
//
// After each eviction it compacts the survivors: without
// this, several small, non-adjacent evictions can free enough aggregate
// bytes while leaving every individual gap too small to satisfy `needed`,
// forcing Allocate to keep evicting (or fail) even though FreeBytes() is
// already sufficient. Compacting after each step coalesces freed space
// into one contiguous run and lets eviction stop as soon as it truly is.
func (m *Manager) evictLRULocked(needed int64) []OwnerID {
	var candidates []*owner
	for _, o := range m.owners {
		if o.reserved == 0 && !m.hasActiveDependentLocked(o.id) {
			candidates = append(candidates, o)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastTouch != candidates[j].lastTouch {
			return candidates[i].lastTouch < candidates[j].lastTouch
		}
		return candidates[i].id < candidates[j].id
	})

	var evicted []OwnerID
	for _, o := range candidates {
		if _, ok := m.fitLocked(needed); ok {
			break
		}
		delete(m.owners, o.id)
		evicted = append(evicted, o.id)
		m.metrics.IncEviction()
		m.log.Info().Str("owner", string(o.id)).Msg("memory: evicted owner")

		if _, ok := m.fitLocked(needed); ok {
			break
		}
		m.compactLocked()
	}
	return evicted
}

// compactLocked rearranges every remaining owner into a contiguous layout
// starting at byte 0, preserving relative order by current start, so that
// space freed by eviction (or by Release) coalesces into one trailing free
// range instead of staying fragmented between survivors. Returns the ids
// of owners whose range actually moved, invoking onRearrange for each
// synchronously so a caller can re-anchor before the lock is released.
func (m *Manager) compactLocked() []OwnerID {
	ordered := make([]*owner, 0, len(m.owners))
	for _, o := range m.owners {
		ordered = append(ordered, o)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].rng.Start < ordered[j].rng.Start })

	var moved []OwnerID
	var cursor int64
	for _, o := range ordered {
		length := o.rng.Len()
		next := Range{Start: cursor, End: cursor + length}
		if next != o.rng {
			old := o.rng
			o.rng = next
			moved = append(moved, o.id)
			if m.onRearrange != nil {
				m.onRearrange(o.id, old, next)
			}
		}
		cursor += length
	}
	return moved
}

// ReleaseAndRearrange frees id's range and compacts the remaining owners,
// implementing the commission protocol's "release-and-rearrange" barrier
// action: callers must wait for every moved owner's rearrange
// notification before issuing further reads against this buffer.
func (m *Manager) ReleaseAndRearrange(id OwnerID) []OwnerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, id)
	moved := m.compactLocked()
	m.metrics.ObserveAllocatedBytes(m.usedBytes())
	m.metrics.ObserveFreeBytes(m.freeBytesLocked())
	return moved
}

func (m *Manager) hasActiveDependentLocked(id OwnerID) bool {
	for _, o := range m.owners {
		if o.reserved == 0 {
			continue
		}
		for _, dep := range o.dependsOn {
			if dep == id {
				return true
			}
		}
	}
	return false
}

// Release frees an owner's range.
func (m *Manager) Release(id OwnerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, id)
	m.metrics.ObserveAllocatedBytes(m.usedBytes())
	m.metrics.ObserveFreeBytes(m.freeBytesLocked())
}

// Touch bumps an owner's last-used timestamp, and transitively touches
// every declared dependency (e.g. a montage cache touches its raw cache).
func (m *Manager) Touch(id OwnerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked(id, map[OwnerID]bool{})
}

func (m *Manager) touchLocked(id OwnerID, seen map[OwnerID]bool) {
	if seen[id] {
		return
	}
	seen[id] = true
	o, ok := m.owners[id]
	if !ok {
		return
	}
	m.clock++
	o.lastTouch = m.clock
	for _, dep := range o.dependsOn {
		m.touchLocked(dep, seen)
	}
}

// Reserve/Unreserve mark an owner as holding a live commission, making it
// non-evictable while reserved > 0.
func (m *Manager) Reserve(id OwnerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.owners[id]; ok {
		o.reserved++
	}
}

func (m *Manager) Unreserve(id OwnerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.owners[id]; ok && o.reserved > 0 {
		o.reserved--
	}
}

// RemoveRanges marks byte ranges as free without destroying their owners,
// used when an owner shrinks; bytes given back are folded into a
// synthetic zero-length range so subsequent Allocate calls see them as
// free (the owner must re-Allocate to regain its previous size).
func (m *Manager) RemoveRanges(ranges []Range) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range ranges {
		for _, o := range m.owners {
			if o.rng == r {
				o.rng = Range{Start: r.Start, End: r.Start}
			}
		}
	}
	m.metrics.ObserveAllocatedBytes(m.usedBytes())
	m.metrics.ObserveFreeBytes(m.freeBytesLocked())
}

// Resize changes the total byte budget the manager governs, e.g. when a
// caller adjusts the max-load-cache-size setting at runtime. Shrinking
// below the bytes currently in use is rejected rather than silently
// truncating a live owner's range.
func (m *Manager) Resize(newSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newSize < m.usedBytes() {
		return &errs.AllocationError{Requested: newSize, Free: m.freeBytesLocked()}
	}
	m.size = newSize
	m.metrics.ObserveFreeBytes(m.freeBytesLocked())
	return nil
}

// Quiescent reports free+used==size, invariant 6.
func (m *Manager) Quiescent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeBytesLocked()+m.usedBytes() == m.size
}
