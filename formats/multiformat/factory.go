// Package multiformat recognises the format of a source from its first
// bytes and hands it to the matching child factory. Queries fan out to the
// children in registration order, so the package behaves as a single
// factory holding every format.
package multiformat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/formats/navbits"
	"github.com/signalsfoundry/gnss-nav-engine/formats/rinex"
	"github.com/signalsfoundry/gnss-nav-engine/formats/sem"
	"github.com/signalsfoundry/gnss-nav-engine/formats/sp3"
	"github.com/signalsfoundry/gnss-nav-engine/formats/tle"
	"github.com/signalsfoundry/gnss-nav-engine/formats/yuma"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const FormatName = "multiformat"

// HeadBytes is how much of a source the sniffers get to see.
const HeadBytes = 4096

// ErrNested is returned when a multi-format factory is added as a child of
// another one.
var ErrNested = errors.New("multi-format factories cannot be nested")

// Factory dispatches sources to child factories.
type Factory struct {
	mu       sync.RWMutex
	children []core.NavDataFactory
	log      logging.Logger
}

var _ core.NavDataFactory = (*Factory)(nil)

type settings struct {
	empty    bool
	nearWeek int
	satMap   map[int]model.SatID
	store    []core.StoreOption
	log      logging.Logger
}

type Option func(*settings)

// Empty starts without the built-in formats; children come from
// AddFactory only.
func Empty() Option {
	return func(s *settings) { s.empty = true }
}

// WithNearFullWeek is passed to the almanac formats.
func WithNearFullWeek(week int) Option {
	return func(s *settings) { s.nearWeek = week }
}

// WithTLESatellites maps NORAD catalogue numbers to satellites for element
// sets whose names carry no PRN.
func WithTLESatellites(m map[int]model.SatID) Option {
	return func(s *settings) { s.satMap = m }
}

// WithStoreOptions is applied to every built-in child.
func WithStoreOptions(opts ...core.StoreOption) Option {
	return func(s *settings) { s.store = append(s.store, opts...) }
}

func WithLogger(log logging.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns a factory holding one child per built-in format.
func New(opts ...Option) *Factory {
	s := settings{log: logging.Noop()}
	for _, o := range opts {
		o(&s)
	}
	f := &Factory{log: s.log}
	if s.empty {
		return f
	}
	f.children = []core.NavDataFactory{
		rinex.New(s.store...),
		sp3.New(s.store...),
		yuma.New(yuma.WithNearFullWeek(s.nearWeek), yuma.WithStoreOptions(s.store...)),
		navbits.New(s.store...),
		sem.New(sem.WithNearFullWeek(s.nearWeek), sem.WithStoreOptions(s.store...)),
		tle.New(tle.WithSatellites(s.satMap), tle.WithStoreOptions(s.store...)),
	}
	return f
}

// AddFactory registers another child. Adding the same child twice is a
// no-op.
func (f *Factory) AddFactory(child core.NavDataFactory) error {
	if child == nil {
		return core.ErrNilFactory
	}
	if _, ok := child.(*Factory); ok {
		return ErrNested
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, have := range f.children {
		if have == child {
			return nil
		}
	}
	f.children = append(f.children, child)
	return nil
}

// Children returns the child factories in registration order.
func (f *Factory) Children() []core.NavDataFactory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]core.NavDataFactory(nil), f.children...)
}

// Child returns the child with the given name.
func (f *Factory) Child(name string) (core.NavDataFactory, bool) {
	for _, c := range f.Children() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func (f *Factory) Name() string { return FormatName }

// Dump writes each child's listing in turn.
func (f *Factory) Dump(w io.Writer, detail core.DumpDetail) error {
	for _, c := range f.Children() {
		if d, ok := c.(core.Dumper); ok {
			if err := d.Dump(w, detail); err != nil {
				return err
			}
		}
	}
	return nil
}

// SupportedSignals is the union of the children's signals.
func (f *Factory) SupportedSignals() []model.NavSignalID {
	seen := make(map[model.NavSignalID]struct{})
	var out []model.NavSignalID
	for _, c := range f.Children() {
		for _, sig := range c.SupportedSignals() {
			if _, ok := seen[sig]; !ok {
				seen[sig] = struct{}{}
				out = append(out, sig)
			}
		}
	}
	return out
}

// route picks the child for source. A child that recognises the head wins;
// otherwise every child is tried in turn and the first to succeed keeps the
// source.
func (f *Factory) route(ctx context.Context, source string, load func(core.NavDataFactory) error) error {
	head, err := formats.Head(source, HeadBytes)
	if err != nil {
		return err
	}
	children := f.Children()
	for _, c := range children {
		if sn, ok := c.(core.Sniffer); ok && sn.Sniff(head) {
			f.log.Debug(ctx, "source format recognised",
				logging.String("source", source),
				logging.String("format", c.Name()),
			)
			return load(c)
		}
	}
	var errs []error
	for _, c := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := load(c)
		if err == nil {
			f.log.Debug(ctx, "source loaded without a format match",
				logging.String("source", source),
				logging.String("format", c.Name()),
			)
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
	}
	return fmt.Errorf("%w: %s: %w", core.ErrNoFactory, source, errors.Join(errs...))
}

func (f *Factory) AddDataSource(ctx context.Context, source string) error {
	return f.route(ctx, source, func(c core.NavDataFactory) error {
		return c.AddDataSource(ctx, source)
	})
}

func (f *Factory) Process(ctx context.Context, source string, cb core.NavDataCallback) error {
	return f.route(ctx, source, func(c core.NavDataFactory) error {
		return c.Process(ctx, source, cb)
	})
}

func serves(c core.NavDataFactory, sig model.NavSignalID) bool {
	for _, s := range c.SupportedSignals() {
		if sig.Matches(s) {
			return true
		}
	}
	return false
}

// Find returns the first hit among the children serving the signal.
func (f *Factory) Find(nmid model.NavMessageID, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType, order model.NavSearchOrder) (*core.NavData, error) {
	for _, c := range f.Children() {
		if !serves(c, nmid.NavSignalID) {
			continue
		}
		nd, err := c.Find(nmid, when, xmitHealth, valid, order)
		if err == nil {
			return nd, nil
		}
		if !errors.Is(err, core.ErrNavDataNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s at %s", core.ErrNavDataNotFound, nmid, when)
}

func (f *Factory) Offset(from, to navtime.TimeSystem, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType) (float64, error) {
	for _, c := range f.Children() {
		off, err := c.Offset(from, to, when, xmitHealth, valid)
		if err == nil {
			return off, nil
		}
		if !errors.Is(err, core.ErrNavDataNotFound) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: no %s->%s offset", core.ErrNavDataNotFound, from, to)
}

func (f *Factory) IsPresent(nmid model.NavMessageID, from, to navtime.CommonTime) bool {
	for _, c := range f.Children() {
		if serves(c, nmid.NavSignalID) && c.IsPresent(nmid, from, to) {
			return true
		}
	}
	return false
}

func (f *Factory) AvailableSats(from, to navtime.CommonTime) []model.NavSatelliteID {
	seen := make(map[model.NavSatelliteID]struct{})
	for _, c := range f.Children() {
		for _, s := range c.AvailableSats(from, to) {
			seen[s] = struct{}{}
		}
	}
	out := make([]model.NavSatelliteID, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (f *Factory) InitialTime() navtime.CommonTime {
	rv := navtime.EndOfTime
	for _, c := range f.Children() {
		if t := c.InitialTime(); t.Before(rv) {
			rv = t
		}
	}
	return rv
}

func (f *Factory) FinalTime() navtime.CommonTime {
	rv := navtime.BeginningOfTime
	for _, c := range f.Children() {
		if t := c.FinalTime(); t.After(rv) {
			rv = t
		}
	}
	return rv
}

// Size is the number of records held over all children.
func (f *Factory) Size() int {
	n := 0
	for _, c := range f.Children() {
		n += c.Size()
	}
	return n
}

// NumSatellites counts distinct satellites over all children.
func (f *Factory) NumSatellites() int {
	return len(f.AvailableSats(navtime.BeginningOfTime, navtime.EndOfTime))
}

func (f *Factory) Edit(from, to navtime.CommonTime) {
	for _, c := range f.Children() {
		c.Edit(from, to)
	}
}

func (f *Factory) EditSatellite(from, to navtime.CommonTime, sat model.NavSatelliteID) {
	for _, c := range f.Children() {
		c.EditSatellite(from, to, sat)
	}
}

func (f *Factory) EditSignal(from, to navtime.CommonTime, sig model.NavSignalID) {
	for _, c := range f.Children() {
		c.EditSignal(from, to, sig)
	}
}

func (f *Factory) Clear() {
	for _, c := range f.Children() {
		c.Clear()
	}
}

func (f *Factory) SetValidityFilter(v model.NavValidityType) {
	for _, c := range f.Children() {
		c.SetValidityFilter(v)
	}
}

func (f *Factory) SetTypeFilter(types ...model.NavMessageType) {
	for _, c := range f.Children() {
		c.SetTypeFilter(types...)
	}
}

func (f *Factory) AddTypeFilter(t model.NavMessageType) {
	for _, c := range f.Children() {
		c.AddTypeFilter(t)
	}
}

func (f *Factory) ClearTypeFilter() {
	for _, c := range f.Children() {
		c.ClearTypeFilter()
	}
}
