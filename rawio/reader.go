// The RawReader protocol: setup_worker, setup_cache, cache_file,
// get_signals. Retry/backoff, direction policy, chunk pacing and optional
// live-growing-file support are grounded on the teacher's own streaming
// read loop shape (hztools-go-sdr's Pipe reads records until EOF or error,
// backing off on short reads) generalized from fixed-width IQ records to
// variable-size decoder-declared data units, with
// golang.org/x/time/rate.Limiter pacing chunk reads exactly as the
// teacher's stream/throttle.go paces a sample stream.
package rawio

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/buffer"
	"epicurrents.dev/core/errs"
	"epicurrents.dev/core/signal"
)

// Direction is the read-direction policy: for continuous playback,
// forward; for user navigation, alternate prefers the trailing half first.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionBackward
	DirectionAlternate
)

const maxReadAttempts = 3

// Metrics receives the raw reader's decode-retry observations, one per
// failed read attempt.
type Metrics interface {
	IncDecodeRetry()
}

type noopMetrics struct{}

func (noopMetrics) IncDecodeRetry() {}

// Config configures one RawReader instance.
type Config struct {
	ChunkBytes         int64
	MaxDirectLoadBytes int64
	MaxLoadCacheBytes  int64
	Direction          Direction
	LiveGrowing        bool
	RateLimiter        *rate.Limiter // nil disables pacing
}

// ProgressEvent is dispatched to watchers as cache_file/cache_signals
// progress through a source.
type ProgressEvent struct {
	Loaded, Total int64
}

// RawReader decodes a source into a coupled cache, tracking the resource
// lifecycle from the embedded core.Resource.
type RawReader struct {
	core.Resource

	cfg     Config
	decoder Decoder
	header  *Header
	cache   *buffer.CoupledCache
	log     zerolog.Logger
	metrics Metrics

	// interruptions accumulates the data-time spans of chunks this reader
	// gave up on, across every CacheFile call.
	interruptions *core.InterruptionMap

	onProgress func(ProgressEvent)
	onWarning  func(core.Annotation)

	watcher *fsnotify.Watcher
}

// New builds a RawReader bound to a decoder implementation.
func New(cfg Config, decoder Decoder, log zerolog.Logger, m Metrics) *RawReader {
	if m == nil {
		m = noopMetrics{}
	}
	return &RawReader{cfg: cfg, decoder: decoder, log: log, metrics: m, interruptions: &core.InterruptionMap{}}
}

// Interruptions returns the spans this reader has skipped as unreadable or
// undecodable, merged across every CacheFile call.
func (r *RawReader) Interruptions() *core.InterruptionMap { return r.interruptions }

// Header returns the decoded source header, or nil before SetupWorker.
func (r *RawReader) Header() *Header { return r.header }

// Cache returns the coupled cache registered by SetupCache, or nil before
// it's been called.
func (r *RawReader) Cache() *buffer.CoupledCache { return r.cache }

// OnProgress registers the progress-event callback.
func (r *RawReader) OnProgress(f func(ProgressEvent)) { r.onProgress = f }

// OnWarning registers the callback for decode-skip warning annotations.
func (r *RawReader) OnWarning(f func(core.Annotation)) { r.onWarning = f }

// SetupWorker decodes the source header and returns the real data duration
// in seconds, or an error if the header is malformed. A zero duration with
// a nil error never happens; callers check err.
func (r *RawReader) SetupWorker(headerBytes []byte) (float64, error) {
	r.SetState(core.StateLoading)
	h, err := r.decoder.DecodeHeader(headerBytes)
	if err != nil {
		r.Fail(err.Error())
		return 0, &errs.DecodeError{Cause: err}
	}
	if h.DataDurationSeconds <= 0 {
		err := fmt.Errorf("header declares a data duration of %v seconds", h.DataDurationSeconds)
		r.Fail(err.Error())
		return 0, &errs.DecodeError{Cause: err}
	}
	r.header = h
	r.SetState(core.StateLoaded)
	return h.DataDurationSeconds, nil
}

// SetupCache registers a coupled cache sized for dataDuration seconds of
// every source channel's sampling rate.
func (r *RawReader) SetupCache(dataDuration float64) (*buffer.CoupledCache, error) {
	if r.header == nil {
		return nil, &errs.StateError{Resource: "raw-reader", State: r.State().String(), Op: "setup_cache"}
	}
	rates := make([]float64, len(r.header.Channels))
	for i, ch := range r.header.Channels {
		rates[i] = ch.SamplingRate
	}
	r.cache = buffer.Init(dataDuration, rates)
	return r.cache, nil
}

// planUnits orders unit indices [0, total) per the configured direction:
// forward ascending, backward descending, alternate interleaving from the
// requested start outward (trailing half first).
func (r *RawReader) planUnits(total, startUnit int64) []int64 {
	plan := make([]int64, 0, total)
	switch r.cfg.Direction {
	case DirectionBackward:
		for i := total - 1; i >= 0; i-- {
			plan = append(plan, i)
		}
	case DirectionAlternate:
		lo, hi := startUnit-1, startUnit
		for lo >= 0 || hi < total {
			if hi < total {
				plan = append(plan, hi)
				hi++
			}
			if lo >= 0 {
				plan = append(plan, lo)
				lo--
			}
		}
	default: // DirectionForward
		for i := startUnit; i < total; i++ {
			plan = append(plan, i)
		}
		for i := int64(0); i < startUnit; i++ {
			plan = append(plan, i)
		}
	}
	return plan
}

// CacheFile streams path's data units into the cache in directional order,
// decoding each with retry/backoff and dispatching progress events.
// startFrom is a data-time seconds hint used to pick the starting unit.
func (r *RawReader) CacheFile(ctx context.Context, path string, startFrom float64) error {
	if r.header == nil || r.cache == nil {
		return &errs.StateError{Resource: "raw-reader", State: r.State().String(), Op: "cache_file"}
	}

	f, err := os.Open(path)
	if err != nil {
		return &errs.SourceError{Op: "open", Cause: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &errs.SourceError{Op: "stat", Cause: err}
	}

	unitBytes := r.cfg.ChunkBytes
	if unitBytes <= 0 {
		unitBytes = info.Size()
	}
	totalUnits := int64(math.Ceil(float64(info.Size()) / float64(unitBytes)))
	startUnit := int64(startFrom / r.header.UnitSeconds)

	plan := r.planUnits(totalUnits, startUnit)

	if r.cfg.LiveGrowing {
		if err := r.watchGrowth(path); err != nil {
			r.log.Warn().Err(err).Msg("rawio: live-growing watch failed, continuing without it")
		} else {
			defer r.watcher.Close()
		}
	}

	for i, unit := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := unit * unitBytes
		end := start + unitBytes
		if end > info.Size() {
			end = info.Size()
		}

		buf := make([]byte, end-start)
		if err := r.readWithRetry(f, start, buf); err != nil {
			interruptionStart := float64(unit) * r.header.UnitSeconds
			r.emitSkip(interruptionStart, r.header.UnitSeconds, err)
			continue
		}

		chunk, err := r.decodeChunk(buf, start, unit)
		if err != nil {
			interruptionStart := float64(unit) * r.header.UnitSeconds
			r.emitSkip(interruptionStart, r.header.UnitSeconds, err)
			continue
		}

		unitStart := float64(unit) * r.header.UnitSeconds
		unitEnd := unitStart + r.header.UnitSeconds
		part := signal.Part{Start: unitStart, End: unitEnd, Signals: chunk.Signals}
		if err := r.cache.InsertSignals(part); err != nil {
			return fmt.Errorf("rawio: insert decoded unit %d: %w", unit, err)
		}

		if r.onProgress != nil {
			r.onProgress(ProgressEvent{Loaded: int64(i + 1), Total: int64(len(plan))})
		}
	}

	r.SetState(core.StateReady)
	return nil
}

// readWithRetry reads buf's worth of bytes at offset off, making up to
// maxReadAttempts attempts with exponential back-off after each short read.
func (r *RawReader) readWithRetry(f *os.File, off int64, buf []byte) error {
	var lastErr error
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		if r.cfg.RateLimiter != nil {
			_ = r.cfg.RateLimiter.WaitN(context.Background(), len(buf))
		}
		n, err := f.ReadAt(buf, off)
		if err == nil && n == len(buf) {
			return nil
		}
		lastErr = err
		r.metrics.IncDecodeRetry()
		time.Sleep(backoffDelay(attempt))
	}
	return &errs.SourceError{Op: "read", Cause: fmt.Errorf("short read at offset %d: %w", off, lastErr)}
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
}

// decodeChunk applies the header's declared compression codec, then hands
// plaintext bytes to the decoder along with the byte offset and unit index
// they were read from, so position-dependent decoders can place the result
// correctly.
func (r *RawReader) decodeChunk(buf []byte, dataOffset, unit int64) (*DecodedChunk, error) {
	plain, err := Decompress(r.header.CompressionCodec, buf)
	if err != nil {
		return nil, &errs.DecodeError{Cause: err}
	}
	chunk, err := r.decoder.DecodeData(r.header, plain, DecodeOptions{DataOffset: dataOffset, StartRecord: unit})
	if err != nil {
		return nil, &errs.DecodeError{Cause: err}
	}
	return chunk, nil
}

// emitSkip records a skipped chunk both as an interruption covering its
// data-time span and as a warning annotation.
func (r *RawReader) emitSkip(start, duration float64, cause error) {
	r.log.Warn().Err(cause).Float64("start", start).Msg("rawio: skipped unreadable chunk")
	r.interruptions.Insert(core.Interruption{StartData: start, Duration: duration})
	if r.onWarning != nil {
		r.onWarning(core.Annotation{
			Class:    core.AnnotationTechnical,
			Start:    start,
			Duration: duration,
			Label:    "skipped-chunk",
			Text:     fmt.Sprintf("skipped chunk at %.3fs: %v", start, cause),
		})
	}
}

// watchGrowth starts an fsnotify watch on path itself for the duration of
// a CacheFile call. Nothing reads the watcher's events: bytes appended to
// the file are not loaded, and CacheFile is not re-triggered.
func (r *RawReader) watchGrowth(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	return nil
}

// GetSignals returns the samples of the requested range that lie inside the
// cache's current valid window (the intersection of the two), in a Part
// that carries the requested Start and End. It does not wait for, or
// commission, loading of any part of the range outside that window.
func (r *RawReader) GetSignals(rng buffer.ReadRange) (*signal.Part, error) {
	if r.cache == nil {
		return nil, &errs.StateError{Resource: "raw-reader", State: r.State().String(), Op: "get_signals"}
	}
	out := r.cache.ReadSignals(rng)
	part := &signal.Part{Start: rng.Start, End: rng.End, Signals: make([]signal.Signal, len(out))}
	for i, s := range out {
		if s != nil {
			part.Signals[i] = *s
		}
	}
	return part, nil
}
