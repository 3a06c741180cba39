// Package kb is the concurrent front end over a navigation library. It
// serialises mutation against queries and loads sources in parallel.
package kb

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/corrections"
	"github.com/signalsfoundry/gnss-nav-engine/formats/multiformat"
	"github.com/signalsfoundry/gnss-nav-engine/formats/navbits"
	"github.com/signalsfoundry/gnss-nav-engine/formats/rinex"
	"github.com/signalsfoundry/gnss-nav-engine/formats/sem"
	"github.com/signalsfoundry/gnss-nav-engine/formats/sp3"
	"github.com/signalsfoundry/gnss-nav-engine/formats/tle"
	"github.com/signalsfoundry/gnss-nav-engine/formats/yuma"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
	"github.com/signalsfoundry/gnss-nav-engine/timectrl"
)

const tracerName = "gnss-nav-engine/kb"

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSourceLoaded EventType = iota
	EventEdited
	EventCleared
	EventFilterChanged
)

func (e EventType) String() string {
	switch e {
	case EventSourceLoaded:
		return "source_loaded"
	case EventEdited:
		return "edited"
	case EventCleared:
		return "cleared"
	case EventFilterChanged:
		return "filter_changed"
	}
	return "unknown"
}

// Event is emitted to subscribers after a change has been applied.
type Event struct {
	Type EventType
	// Source and Format are set for EventSourceLoaded.
	Source  string
	Format  string
	BatchID string
	// Records is the number of records held after the change.
	Records int
}

// SourceSpec names one input. An empty Format or "auto" sniffs the content.
type SourceSpec struct {
	Path   string
	Format string
}

// FactoryOptions are handed to the factories LoadSources creates.
type FactoryOptions struct {
	NearFullWeek  int
	TLESatellites map[int]model.SatID
	Store         []core.StoreOption
	Logger        logging.Logger
}

// NewFactory returns an empty factory for a format name.
func NewFactory(format string, fo FactoryOptions) (core.NavDataFactory, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto", multiformat.FormatName:
		opts := []multiformat.Option{
			multiformat.WithStoreOptions(fo.Store...),
			multiformat.WithTLESatellites(fo.TLESatellites),
			multiformat.WithLogger(fo.Logger),
		}
		if fo.NearFullWeek > 0 {
			opts = append(opts, multiformat.WithNearFullWeek(fo.NearFullWeek))
		}
		return multiformat.New(opts...), nil
	case "rinex", rinex.FormatName:
		return rinex.New(fo.Store...), nil
	case sp3.FormatName:
		return sp3.New(fo.Store...), nil
	case navbits.FormatName:
		return navbits.New(fo.Store...), nil
	case yuma.FormatName:
		return yuma.New(yuma.WithNearFullWeek(fo.NearFullWeek), yuma.WithStoreOptions(fo.Store...)), nil
	case sem.FormatName:
		return sem.New(sem.WithNearFullWeek(fo.NearFullWeek), sem.WithStoreOptions(fo.Store...)), nil
	case tle.FormatName:
		return tle.New(tle.WithSatellites(fo.TLESatellites), tle.WithStoreOptions(fo.Store...)), nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", core.ErrNoFactory, format)
}

// CorrectionRecorder is implemented by metrics recorders that also count
// group path corrections.
type CorrectionRecorder interface {
	ObserveCorrection(kind string, err error)
}

// Option customises NavKB construction.
type Option func(*NavKB)

func WithLogger(log logging.Logger) Option {
	return func(kb *NavKB) {
		if log != nil {
			kb.log = log
		}
	}
}

// WithMetrics attaches a recorder to the library and to every factory
// LoadSources creates.
func WithMetrics(m core.MetricsRecorder) Option {
	return func(kb *NavKB) { kb.metrics = m }
}

func WithTieBreak(p core.TieBreakPolicy) Option {
	return func(kb *NavKB) { kb.tieBreak = p }
}

// WithFactoryOptions sets what LoadSources passes to new factories.
func WithFactoryOptions(fo FactoryOptions) Option {
	return func(kb *NavKB) { kb.factoryOpts = fo }
}

// NavKB wraps a NavLibrary. Queries take the read lock; ingest, edits,
// clears and filter changes take the write lock.
type NavKB struct {
	mu  sync.RWMutex
	lib *core.NavLibrary

	log         logging.Logger
	metrics     core.MetricsRecorder
	tieBreak    core.TieBreakPolicy
	factoryOpts FactoryOptions

	// Filters are replayed onto factories created by LoadSources.
	types    []model.NavMessageType
	validity model.NavValidityType

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New constructs an empty KB.
func New(opts ...Option) *NavKB {
	kb := &NavKB{log: logging.Noop(), subs: make(map[int]func(Event))}
	for _, o := range opts {
		o(kb)
	}
	libOpts := []core.LibraryOption{core.WithTieBreak(kb.tieBreak), core.WithLibraryLogger(kb.log)}
	if kb.metrics != nil {
		libOpts = append(libOpts, core.WithLibraryMetrics(kb.metrics))
		kb.factoryOpts.Store = append(kb.factoryOpts.Store, core.WithMetricsRecorder(kb.metrics))
	}
	if kb.factoryOpts.Logger == nil {
		kb.factoryOpts.Logger = kb.log
	}
	kb.factoryOpts.Store = append(kb.factoryOpts.Store, core.WithLogger(kb.log))
	kb.lib = core.NewNavLibrary(libOpts...)
	return kb
}

// Library exposes the wrapped library for components, such as correctors,
// that hold on to it. Calls made through it bypass the KB lock.
func (kb *NavKB) Library() *core.NavLibrary { return kb.lib }

// Subscribe registers fn for change events and returns a function that
// removes it. Events are delivered after the lock is released.
func (kb *NavKB) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.subMu.Lock()
	defer kb.subMu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn
	return func() {
		kb.subMu.Lock()
		defer kb.subMu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *NavKB) notify(evs ...Event) {
	kb.subMu.Lock()
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	kb.subMu.Unlock()

	for _, ev := range evs {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// size must be called with kb.mu held.
func (kb *NavKB) size() int {
	n := 0
	for _, f := range kb.lib.Factories() {
		n += f.Size()
	}
	return n
}

// Size is the number of records held across all factories.
func (kb *NavKB) Size() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.size()
}

// AddFactory registers an already populated factory.
func (kb *NavKB) AddFactory(f core.NavDataFactory) error {
	kb.mu.Lock()
	err := kb.lib.AddFactory(f)
	n := kb.size()
	kb.mu.Unlock()
	if err != nil {
		return err
	}
	kb.notify(Event{Type: EventSourceLoaded, Format: f.Name(), Records: n})
	return nil
}

// LoadSources parses each source into its own factory, at most
// parallelism at a time (unlimited when parallelism <= 0). The factories
// are registered in the order the sources are listed, and only when every
// source loaded.
func (kb *NavKB) LoadSources(ctx context.Context, sources []SourceSpec, parallelism int) error {
	ctx, log := logging.WithBatchLogger(ctx, kb.log)
	batch := logging.BatchIDFromContext(ctx)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "kb.load_sources",
		trace.WithAttributes(
			attribute.Int("sources", len(sources)),
			attribute.String("batch_id", batch),
		))
	defer span.End()

	began := time.Now()
	kb.mu.RLock()
	types := append([]model.NavMessageType(nil), kb.types...)
	validity := kb.validity
	kb.mu.RUnlock()

	facs := make([]core.NavDataFactory, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			f, err := NewFactory(src.Format, kb.factoryOpts)
			if err != nil {
				return fmt.Errorf("%s: %w", src.Path, err)
			}
			if len(types) > 0 {
				f.SetTypeFilter(types...)
			}
			if validity != model.ValidityUnknown {
				f.SetValidityFilter(validity)
			}
			if err := f.AddDataSource(gctx, src.Path); err != nil {
				return err
			}
			log.Debug(gctx, "source parsed",
				logging.String("source", src.Path),
				logging.String("format", f.Name()),
				logging.Int("records", f.Size()),
			)
			facs[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "source batch failed", logging.Err(err))
		return err
	}

	kb.mu.Lock()
	for _, f := range facs {
		if err := kb.lib.AddFactory(f); err != nil {
			kb.mu.Unlock()
			return err
		}
	}
	n := kb.size()
	kb.mu.Unlock()

	log.Info(ctx, "sources loaded",
		logging.Int("sources", len(sources)),
		logging.Int("records", n),
		logging.Duration("elapsed", time.Since(began)),
	)
	span.SetAttributes(attribute.Int("records", n))

	evs := make([]Event, len(sources))
	for i, src := range sources {
		evs[i] = Event{Type: EventSourceLoaded, Source: src.Path, Format: facs[i].Name(), BatchID: batch, Records: n}
	}
	kb.notify(evs...)
	return nil
}

func (kb *NavKB) Find(nmid model.NavMessageID, when navtime.CommonTime, opts ...core.QueryOption) (*core.NavData, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.Find(nmid, when, opts...)
}

func (kb *NavKB) Xvt(sat model.NavSatelliteID, when navtime.CommonTime, opts ...core.QueryOption) (model.Xvt, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.Xvt(sat, when, opts...)
}

func (kb *NavKB) Health(sat model.NavSatelliteID, when navtime.CommonTime, opts ...core.QueryOption) (model.SVHealth, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.Health(sat, when, opts...)
}

func (kb *NavKB) Offset(from, to navtime.TimeSystem, when navtime.CommonTime, opts ...core.QueryOption) (float64, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.Offset(from, to, when, opts...)
}

func (kb *NavKB) AvailableSats(from, to navtime.CommonTime) []model.NavSatelliteID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.AvailableSats(from, to)
}

func (kb *NavKB) IsPresent(nmid model.NavMessageID, from, to navtime.CommonTime) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.IsPresent(nmid, from, to)
}

// Dump lists every factory that can describe its contents.
func (kb *NavKB) Dump(w io.Writer, detail core.DumpDetail) error {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	for _, f := range kb.lib.Factories() {
		if d, ok := f.(core.Dumper); ok {
			if err := d.Dump(w, detail); err != nil {
				return err
			}
		}
	}
	return nil
}

// Span returns the earliest and latest times covered by held records.
func (kb *NavKB) Span() (initial, final navtime.CommonTime) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.lib.InitialTime(), kb.lib.FinalTime()
}

// Edit removes records stamped in [from, to) from every factory.
func (kb *NavKB) Edit(from, to navtime.CommonTime) {
	kb.mutate(EventEdited, func() { kb.lib.Edit(from, to) })
}

func (kb *NavKB) EditSatellite(from, to navtime.CommonTime, sat model.NavSatelliteID) {
	kb.mutate(EventEdited, func() { kb.lib.EditSatellite(from, to, sat) })
}

func (kb *NavKB) EditSignal(from, to navtime.CommonTime, sig model.NavSignalID) {
	kb.mutate(EventEdited, func() { kb.lib.EditSignal(from, to, sig) })
}

func (kb *NavKB) Clear() {
	kb.mutate(EventCleared, kb.lib.Clear)
}

// SetValidityFilter and SetTypeFilter apply to the registered factories and
// to those LoadSources creates later.
func (kb *NavKB) SetValidityFilter(v model.NavValidityType) {
	kb.mutate(EventFilterChanged, func() {
		kb.validity = v
		kb.lib.SetValidityFilter(v)
	})
}

func (kb *NavKB) SetTypeFilter(types ...model.NavMessageType) {
	kb.mutate(EventFilterChanged, func() {
		kb.types = append([]model.NavMessageType(nil), types...)
		kb.lib.SetTypeFilter(types...)
	})
}

func (kb *NavKB) ClearTypeFilter() {
	kb.mutate(EventFilterChanged, func() {
		kb.types = nil
		kb.lib.ClearTypeFilter()
	})
}

func (kb *NavKB) mutate(typ EventType, fn func()) {
	kb.mu.Lock()
	fn()
	n := kb.size()
	kb.mu.Unlock()
	kb.notify(Event{Type: typ, Records: n})
}

// SweepPoint is one epoch of a sweep. Err is set when no state could be
// computed at Time; the sweep carries on past it.
type SweepPoint struct {
	Time navtime.CommonTime
	Xvt  model.Xvt
	Err  error
}

// Sweep evaluates sat at every step seconds over [start, end]. Each epoch
// takes the read lock on its own, so edits may land between epochs.
func (kb *NavKB) Sweep(ctx context.Context, sat model.NavSatelliteID, start, end navtime.CommonTime,
	step float64, opts ...core.QueryOption) ([]SweepPoint, error) {
	tc, err := timectrl.NewTimeController(start, end, step, timectrl.Accelerated)
	if err != nil {
		return nil, err
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "kb.sweep",
		trace.WithAttributes(
			attribute.String("sat", sat.Sat.String()),
			attribute.Float64("step_seconds", step),
		))
	defer span.End()

	var out []SweepPoint
	misses := 0
	tc.AddListener(func(at navtime.CommonTime) {
		xvt, err := kb.Xvt(sat, at, opts...)
		if err != nil {
			misses++
		}
		out = append(out, SweepPoint{Time: at, Xvt: xvt, Err: err})
	})
	if err := tc.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetAttributes(attribute.Int("epochs", len(out)), attribute.Int("misses", misses))
	kb.log.Debug(ctx, "sweep complete",
		logging.String("sat", sat.String()),
		logging.Int("epochs", len(out)),
	)
	return out, nil
}

// Correct evaluates sat at when and runs the group path correctors for a
// receiver at rx. The sum is returned with the individual results.
func (kb *NavKB) Correct(g *corrections.GroupPathCorr, rx model.Position, sat model.NavSatelliteID,
	when navtime.CommonTime, dups corrections.CorrDupHandling, opts ...core.QueryOption) (float64, *corrections.CorrectionResults, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	xvt, err := kb.lib.Xvt(sat, when, opts...)
	if err != nil {
		return 0, nil, err
	}
	res, cerr := g.GetCorrXvt(rx, xvt, sat.Sat, sat.NavSignalID, when, dups)
	if rec, ok := kb.metrics.(CorrectionRecorder); ok {
		for _, r := range res.Results() {
			rec.ObserveCorrection(r.Source.Type().String(), nil)
		}
		if cerr != nil {
			rec.ObserveCorrection("failed", cerr)
		}
	}
	sum, err := res.Sum(dups)
	if err != nil {
		return 0, res, err
	}
	return sum, res, cerr
}
