package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/buffer"
	"epicurrents.dev/core/events"
	"epicurrents.dev/core/internal/config"
	"epicurrents.dev/core/internal/settings"
	"epicurrents.dev/core/memory"
	"epicurrents.dev/core/metrics"
	"epicurrents.dev/core/mock"
	"epicurrents.dev/core/montage"
	"epicurrents.dev/core/rawio"
	"epicurrents.dev/core/service"
	"epicurrents.dev/core/signal"
	"epicurrents.dev/core/wsbridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the core worker, exposing the commission protocol over websocket",
	RunE:  runServe,
}

// runServe wires the memory manager, a raw reader seeded with a mock
// decoder, the commission service and the websocket bridge together, and
// blocks until an interrupt signal arrives.
//
// Grounded on ColonelBlimp-cwdecoder's runDecoder: a context cancelled by
// SIGINT/SIGTERM, components constructed in dependency order and wired via
// callbacks, then a single blocking wait on ctx.Done().
func runServe(_ *cobra.Command, _ []string) error {
	settingsConf, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("serve: shutting down")
		cancel()
	}()

	mem := memory.New(settingsConf.BufferBudgetBytes, log, metrics.MemorySink{})

	decoder := mock.New(mock.Config{
		Channels: []core.SourceChannel{
			{Label: "C3", IDName: "c3", Modality: "eeg", SamplingRate: 250},
			{Label: "C4", IDName: "c4", Modality: "eeg", SamplingRate: 250},
		},
		DataDurationSeconds: 60,
		UnitSeconds:         1,
	})

	reader := rawio.New(rawio.Config{
		ChunkBytes: settingsConf.ChunkBytes,
		Direction:  directionFromPolicy(settingsConf.DirectionPolicy),
	}, decoder, log, metrics.RawIOSink{})

	if _, err := reader.SetupWorker(nil); err != nil {
		return fmt.Errorf("setup worker: %w", err)
	}
	cache, err := reader.SetupCache(60)
	if err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}
	if _, _, err := mem.Allocate("raw-cache", cache.Footprint()); err != nil {
		return fmt.Errorf("allocate cache budget: %w", err)
	}

	rec := core.NewRecording()
	rec.Channels = reader.Header().Channels
	rec.Interruptions = reader.Interruptions()

	proc := newProcessorHolder(identityMontage(rec.ID, rec.Channels), rec, cacheFetcher(cache))

	bus := events.NewPropertyBus()
	store := settings.New(bus)
	store.Set("direction_policy", settingsConf.DirectionPolicy)

	svc := service.New(log, metrics.ServiceSink{})
	registerHandlers(svc, reader, mem, proc, store)

	bridge := wsbridge.New(svc, bus, log)
	bridge.MirrorProperty("direction_policy")

	mux := http.NewServeMux()
	mux.Handle("/ws", bridge)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: settingsConf.ListenAddress, Handler: mux}
	go func() {
		log.Info().Str("addr", settingsConf.ListenAddress).Msg("serve: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve: http server failed")
			cancel()
		}
	}()

	<-ctx.Done()

	svc.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// processorHolder lets map-channels swap the live montage.Processor
// (a fresh recipe needs a fresh Processor) while every other handler keeps
// a stable reference to hand commissions to.
type processorHolder struct {
	mu sync.Mutex
	p  *montage.Processor
}

func newProcessorHolder(m *core.Montage, rec *core.Recording, fetch montage.SourceFetcher) *processorHolder {
	return &processorHolder{p: montage.New(m, rec, fetch)}
}

func (h *processorHolder) get() *montage.Processor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.p
}

func (h *processorHolder) set(p *montage.Processor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = p
}

// identityMontage builds a one-channel-per-source default recipe: every
// visible channel is its corresponding source channel, unreferenced and
// unfiltered, used until a real map-channels commission loads a recipe.
func identityMontage(recordingID uuid.UUID, channels []core.SourceChannel) *core.Montage {
	m := &core.Montage{
		Name:        "identity",
		RecordingID: recordingID,
		Layout:      []int{len(channels)},
		Channels:    make([]core.MontageChannel, len(channels)),
	}
	for i, ch := range channels {
		m.Channels[i] = core.MontageChannel{
			Label:  ch.Label,
			Active: core.SingleChannel(i),
		}
	}
	return m
}

// cacheFetcher adapts a coupled cache into a montage.SourceFetcher.
func cacheFetcher(cache *buffer.CoupledCache) montage.SourceFetcher {
	return func(channelIndex int, start, end float64) (signal.Signal, error) {
		out := cache.ReadSignals(buffer.ReadRange{Start: start, End: end})
		if channelIndex < 0 || channelIndex >= len(out) || out[channelIndex] == nil {
			return signal.Signal{}, fmt.Errorf("serve: no cached data for channel %d in [%v,%v)", channelIndex, start, end)
		}
		return *out[channelIndex], nil
	}
}

// payloadMap type-asserts a commission's payload into the key/value shape
// every handler below expects, failing the commission cleanly instead of
// panicking on a malformed caller.
func payloadMap(payload any) (map[string]any, bool) {
	m, ok := payload.(map[string]any)
	return m, ok
}

func floatField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// registerHandlers wires the worker's named commission actions to the
// reader, memory manager and montage processor built in runServe.
func registerHandlers(svc *service.Service, reader *rawio.RawReader, mem *memory.Manager, proc *processorHolder, store *settings.Store) {
	svc.RegisterHandler(func(ctx context.Context, c service.Commission) (service.Response, bool) {
		switch c.Action {
		case "setup-worker":
			kv, ok := payloadMap(c.Payload)
			if !ok {
				return service.Response{Success: false, Reason: "bad payload"}, true
			}
			header, _ := kv["header"].(string)
			dur, err := reader.SetupWorker([]byte(header))
			if err != nil {
				return service.Response{Success: false, Reason: err.Error()}, true
			}
			return service.Response{Success: true, Payload: dur}, true
		case "get-signals":
			return handleGetSignals(ctx, proc, c)
		case "map-channels":
			return handleMapChannels(proc, c)
		case "set-filters":
			return handleSetFilters(proc, c)
		case "set-interruptions":
			return handleSetInterruptions(proc, c)
		case "setup-input-cache":
			return handleSetupInputCache(reader, mem, c)
		case "setup-input-mutex":
			cache := reader.Cache()
			if cache == nil {
				return service.Response{Success: false, Reason: "cache not set up"}, true
			}
			return service.Response{Success: true, Payload: cache.Footprint()}, true
		case "release-cache":
			ownerID, _ := c.Payload.(string)
			mem.Release(memory.OwnerID(ownerID))
			return service.Response{Success: true}, true
		case "release-and-rearrange":
			ownerID, _ := c.Payload.(string)
			moved := mem.ReleaseAndRearrange(memory.OwnerID(ownerID))
			return service.Response{Success: true, Payload: moved}, true
		case "set-buffer":
			kv, ok := payloadMap(c.Payload)
			if !ok {
				return service.Response{Success: false, Reason: "bad payload"}, true
			}
			bytes, ok := floatField(kv, "bytes")
			if !ok {
				return service.Response{Success: false, Reason: "missing bytes"}, true
			}
			if err := mem.Resize(int64(bytes)); err != nil {
				return service.Response{Success: false, Reason: err.Error()}, true
			}
			return service.Response{Success: true}, true
		case "update-settings":
			kv, _ := c.Payload.(map[string]any)
			for k, v := range kv {
				store.Set(k, v)
			}
			return service.Response{Success: true}, true
		case "get-settings":
			path, _ := c.Payload.(string)
			value, ok := store.Get(path)
			return service.Response{Success: ok, Payload: value}, true
		default:
			return service.Response{}, false
		}
	})
}

func handleGetSignals(ctx context.Context, proc *processorHolder, c service.Commission) (service.Response, bool) {
	kv, ok := payloadMap(c.Payload)
	if !ok {
		return service.Response{Success: false, Reason: "bad payload"}, true
	}
	start, ok1 := floatField(kv, "start")
	end, ok2 := floatField(kv, "end")
	if !ok1 || !ok2 {
		return service.Response{Success: false, Reason: "missing start/end"}, true
	}
	part, err := proc.get().Derive(ctx, start, end)
	if err != nil {
		return service.Response{Success: false, Reason: err.Error()}, true
	}
	return service.Response{Success: true, Payload: part}, true
}

// handleMapChannels loads a named montage preset file and rebuilds the
// live processor against it, keeping the same recording and fetcher.
func handleMapChannels(proc *processorHolder, c service.Commission) (service.Response, bool) {
	path, ok := c.Payload.(string)
	if !ok {
		return service.Response{Success: false, Reason: "bad payload"}, true
	}
	preset, err := montage.LoadPresetFile(path)
	if err != nil {
		return service.Response{Success: false, Reason: err.Error()}, true
	}
	old := proc.get()
	m := preset.ToMontage(old.RecordingID())
	next := montage.New(m, old.Recording(), old.Fetcher())
	next.MapChannels()
	proc.set(next)
	return service.Response{Success: true, Payload: m.VisibleChannelCount()}, true
}

// handleSetFilters applies filter overrides either recording-wide (no
// "channel" field in the payload) or to one montage channel by index.
func handleSetFilters(proc *processorHolder, c service.Commission) (service.Response, bool) {
	kv, ok := payloadMap(c.Payload)
	if !ok {
		return service.Response{Success: false, Reason: "bad payload"}, true
	}
	p := proc.get()
	recipe := p.Recipe()

	target := &recipe.Filters
	if f, ok := floatField(kv, "channel"); ok {
		idx := int(f)
		if idx < 0 || idx >= len(recipe.Channels) {
			return service.Response{Success: false, Reason: "channel out of range"}, true
		}
		target = &recipe.Channels[idx].Filters
	}

	if hp, ok := floatField(kv, "high_pass"); ok {
		target.HighPass = core.Hz(hp)
	}
	if lp, ok := floatField(kv, "low_pass"); ok {
		target.LowPass = core.Hz(lp)
	}
	if notch, ok := floatField(kv, "notch"); ok {
		target.Notch = core.Hz(notch)
	}
	p.Invalidate()
	return service.Response{Success: true}, true
}

func handleSetInterruptions(proc *processorHolder, c service.Commission) (service.Response, bool) {
	kv, ok := payloadMap(c.Payload)
	if !ok {
		return service.Response{Success: false, Reason: "bad payload"}, true
	}
	start, ok1 := floatField(kv, "start")
	duration, ok2 := floatField(kv, "duration")
	if !ok1 || !ok2 {
		return service.Response{Success: false, Reason: "missing start/duration"}, true
	}
	p := proc.get()
	p.Recording().Interruptions.Insert(core.Interruption{StartData: start, Duration: duration})
	p.Invalidate()
	return service.Response{Success: true}, true
}

func handleSetupInputCache(reader *rawio.RawReader, mem *memory.Manager, c service.Commission) (service.Response, bool) {
	kv, ok := payloadMap(c.Payload)
	if !ok {
		return service.Response{Success: false, Reason: "bad payload"}, true
	}
	duration, ok := floatField(kv, "data_duration")
	if !ok {
		return service.Response{Success: false, Reason: "missing data_duration"}, true
	}
	cache, err := reader.SetupCache(duration)
	if err != nil {
		return service.Response{Success: false, Reason: err.Error()}, true
	}
	if _, _, err := mem.Allocate("raw-cache", cache.Footprint()); err != nil {
		return service.Response{Success: false, Reason: err.Error()}, true
	}
	return service.Response{Success: true, Payload: cache.Footprint()}, true
}

func directionFromPolicy(policy string) rawio.Direction {
	switch policy {
	case "backward":
		return rawio.DirectionBackward
	case "alternate":
		return rawio.DirectionAlternate
	default:
		return rawio.DirectionForward
	}
}
