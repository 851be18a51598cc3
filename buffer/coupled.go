// Package buffer implements the coupled mutex: a single-writer/multi-reader
// lock embedded in a shared byte buffer that coordinates an input writer
// (raw reader or montage processor) with one or more output readers across
// worker boundaries without blocking on a real OS mutex.
//
// The compare-and-swap spin-then-yield lock is grounded on the
// hztools-go-sdr internal/bufpipe non-blocking Pipe pattern (a channel
// buffer that never blocks a writer, falling back to an explicit overrun
// error instead of stalling) generalized from a channel handoff to an
// atomic word so reads and writes can interleave without either side
// parking in a channel receive.
package buffer

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"epicurrents.dev/core/signal"
)

var (
	// ErrInvalidSignal is returned when an operation references a signal
	// index outside the cache's configured signal count.
	ErrInvalidSignal = fmt.Errorf("buffer: invalid signal index")
)

const (
	lockFree      int32 = 0
	lockWriteHeld int32 = 1
	// any value > lockWriteHeld is a live reader count.
)

// signalMeta is the per-signal header stored alongside word 0.
type signalMeta struct {
	allocatedSamples int64
	validStart       int64
	validEnd         int64
	samplingRate     float64
}

// CoupledCache is the shared-buffer-backed cache: one
// lock word, one meta region per signal, and one data region per signal.
// Unlike the spec's literal byte-buffer layout, this implementation keeps
// the lock word and meta/data regions as native Go fields rather than a
// raw []byte reinterpretation — the memory manager still accounts the
// equivalent byte cost via Footprint, but there is no unsafe pointer
// arithmetic to audit. Concurrency semantics (CAS lock, monotonic
// valid-range advance, torn-free meta reads) are identical to the spec.
type CoupledCache struct {
	lock  int32 // atomic: lockFree | lockWriteHeld | readerCount
	meta  []signalMeta
	data  [][]float32
}

// Init reserves meta + data regions for a cache sized for dataDuration
// seconds of signal at each given sampling rate, per init_signal_buffers.
func Init(dataDuration float64, samplingRates []float64) *CoupledCache {
	c := &CoupledCache{
		meta: make([]signalMeta, len(samplingRates)),
		data: make([][]float32, len(samplingRates)),
	}
	for i, rate := range samplingRates {
		n := int64(math.Ceil(dataDuration * rate))
		c.meta[i] = signalMeta{allocatedSamples: n, samplingRate: rate}
		c.data[i] = make([]float32, n)
	}
	return c
}

// Footprint returns the byte size this cache would occupy in the shared
// buffer, for memory.Manager accounting: one lock word, one meta struct
// and one float32 slot per allocated sample, per signal.
func (c *CoupledCache) Footprint() int64 {
	var total int64 = 4
	for _, m := range c.meta {
		total += 16 // allocatedSamples, validStart, validEnd, samplingRate as 4 32-bit fields
		total += m.allocatedSamples * 4
	}
	return total
}

// acquireWrite spins, then yields, until it wins the CAS from lockFree to
// lockWriteHeld.
func (c *CoupledCache) acquireWrite() {
	for i := 0; ; i++ {
		if atomic.CompareAndSwapInt32(&c.lock, lockFree, lockWriteHeld) {
			return
		}
		backoff(i)
	}
}

func (c *CoupledCache) releaseWrite() {
	atomic.StoreInt32(&c.lock, lockFree)
}

// acquireRead increments the reader count, refusing to proceed while a
// writer holds the lock.
func (c *CoupledCache) acquireRead() {
	for i := 0; ; i++ {
		cur := atomic.LoadInt32(&c.lock)
		if cur == lockWriteHeld {
			backoff(i)
			continue
		}
		next := cur + 1
		if cur == lockFree {
			next = lockWriteHeld + 1
		}
		if atomic.CompareAndSwapInt32(&c.lock, cur, next) {
			return
		}
		backoff(i)
	}
}

func (c *CoupledCache) releaseRead() {
	for {
		cur := atomic.LoadInt32(&c.lock)
		next := cur - 1
		if cur == lockWriteHeld+1 {
			next = lockFree
		}
		if atomic.CompareAndSwapInt32(&c.lock, cur, next) {
			return
		}
	}
}

func backoff(attempt int) {
	if attempt < 8 {
		for i := 0; i < 1<<uint(attempt); i++ {
			// spin
		}
		return
	}
	runtime.Gosched()
}

// InsertSignals acquires the write lock and copies part's samples into the
// data region, advancing valid_start/valid_end monotonically within the
// cached window.
func (c *CoupledCache) InsertSignals(part signal.Part) error {
	if len(part.Signals) != len(c.meta) {
		return ErrInvalidSignal
	}

	c.acquireWrite()
	defer c.releaseWrite()

	for i, s := range part.Signals {
		m := &c.meta[i]
		startSample := int64(math.Round(part.Start * m.samplingRate))
		endSample := startSample + int64(len(s.Data))

		if endSample > m.allocatedSamples {
			endSample = m.allocatedSamples
		}
		n := endSample - startSample
		if n > 0 {
			copy(c.data[i][startSample:endSample], s.Data[:n])
		}

		if m.validStart == m.validEnd {
			m.validStart = startSample
			m.validEnd = endSample
		} else {
			if startSample < m.validStart {
				m.validStart = startSample
			}
			if endSample > m.validEnd {
				m.validEnd = endSample
			}
		}
	}
	return nil
}

// ReadRange is a requested [Start, End) window in seconds.
type ReadRange struct {
	Start, End float64
}

// ReadSignals acquires the read lock and returns views restricted to the
// intersection of range with each signal's [valid_start, valid_end). A nil
// entry in the result means that signal's intersection was empty.
func (c *CoupledCache) ReadSignals(r ReadRange) []*signal.Signal {
	c.acquireRead()
	defer c.releaseRead()

	out := make([]*signal.Signal, len(c.meta))
	for i, m := range c.meta {
		if m.samplingRate == 0 {
			continue
		}
		reqStart := int64(math.Round(r.Start * m.samplingRate))
		reqEnd := int64(math.Round(r.End * m.samplingRate))

		start := maxInt64(reqStart, m.validStart)
		end := minInt64(reqEnd, m.validEnd)
		if end <= start {
			continue
		}

		buf := make([]float32, end-start)
		copy(buf, c.data[i][start:end])
		out[i] = &signal.Signal{
			Data:         buf,
			SamplingRate: m.samplingRate,
			SampleStart:  start,
			SampleEnd:    end,
		}
	}
	return out
}

// InvalidateOutput sets valid_start = valid_end = 0 for the given channel
// indices (used when filters change), satisfying invariant 4: subsequent
// reads return nil until a new write occurs.
func (c *CoupledCache) InvalidateOutput(channels []int) {
	c.acquireWrite()
	defer c.releaseWrite()
	for _, i := range channels {
		if i < 0 || i >= len(c.meta) {
			continue
		}
		c.meta[i].validStart = 0
		c.meta[i].validEnd = 0
	}
}

// AsCachePart snapshots the cache's currently valid ranges into a
// signal.Part for cross-worker messaging.
func (c *CoupledCache) AsCachePart() signal.Part {
	c.acquireRead()
	defer c.releaseRead()

	part := signal.Part{Signals: make([]signal.Signal, len(c.meta))}
	var start, end float64 = math.MaxFloat64, 0
	for i, m := range c.meta {
		if m.validEnd > m.validStart {
			s := float64(m.validStart) / m.samplingRate
			e := float64(m.validEnd) / m.samplingRate
			if s < start {
				start = s
			}
			if e > end {
				end = e
			}
		}
		buf := make([]float32, m.validEnd-m.validStart)
		copy(buf, c.data[i][m.validStart:m.validEnd])
		part.Signals[i] = signal.Signal{Data: buf, SamplingRate: m.samplingRate}
	}
	if start == math.MaxFloat64 {
		start = 0
	}
	part.Start, part.End = start, end
	return part
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
