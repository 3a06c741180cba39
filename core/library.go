package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// TieBreakPolicy decides between matching records held by different
// factories.
type TieBreakPolicy int

const (
	// TieBreakRegistration returns the hit from the earliest registered
	// factory that has one.
	TieBreakRegistration TieBreakPolicy = iota
	// TieBreakMostRecent asks every factory and keeps the record with the
	// latest time stamp; registration order breaks exact ties.
	TieBreakMostRecent
)

func (p TieBreakPolicy) String() string {
	if p == TieBreakMostRecent {
		return "most_recent"
	}
	return "registration"
}

// ParseTieBreakPolicy accepts registration|most_recent.
func ParseTieBreakPolicy(s string) (TieBreakPolicy, error) {
	switch s {
	case "", "registration", "first":
		return TieBreakRegistration, nil
	case "most_recent", "latest":
		return TieBreakMostRecent, nil
	}
	return TieBreakRegistration, fmt.Errorf("unknown tie-break policy %q", s)
}

// NavLibrary is the query front end over any number of factories.
type NavLibrary struct {
	mu        sync.RWMutex
	factories []NavDataFactory
	tieBreak  TieBreakPolicy

	log     logging.Logger
	metrics MetricsRecorder
}

// LibraryOption customises NavLibrary construction.
type LibraryOption func(*NavLibrary)

// WithTieBreak selects the cross-factory tie-break policy.
func WithTieBreak(p TieBreakPolicy) LibraryOption {
	return func(l *NavLibrary) { l.tieBreak = p }
}

// WithLibraryLogger attaches a logger.
func WithLibraryLogger(log logging.Logger) LibraryOption {
	return func(l *NavLibrary) {
		if log != nil {
			l.log = log
		}
	}
}

// WithLibraryMetrics attaches an optional metrics recorder.
func WithLibraryMetrics(m MetricsRecorder) LibraryOption {
	return func(l *NavLibrary) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewNavLibrary returns an empty library.
func NewNavLibrary(opts ...LibraryOption) *NavLibrary {
	l := &NavLibrary{log: logging.Noop(), metrics: noopRecorder{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddFactory registers f. Registering the same factory twice is a no-op.
func (l *NavLibrary) AddFactory(f NavDataFactory) error {
	if f == nil {
		return ErrNilFactory
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, have := range l.factories {
		if have == f {
			return nil
		}
	}
	l.factories = append(l.factories, f)
	return nil
}

// Factories returns the registered factories in registration order.
func (l *NavLibrary) Factories() []NavDataFactory {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]NavDataFactory(nil), l.factories...)
}

// SetTieBreak changes the tie-break policy.
func (l *NavLibrary) SetTieBreak(p TieBreakPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tieBreak = p
}

// factoriesFor returns factories that declare a signal matching sig.
func (l *NavLibrary) factoriesFor(sig model.NavSignalID) ([]NavDataFactory, TieBreakPolicy) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []NavDataFactory
	for _, f := range l.factories {
		for _, s := range f.SupportedSignals() {
			if sig.Matches(s) {
				out = append(out, f)
				break
			}
		}
	}
	return out, l.tieBreak
}

//
// ---------- Query options ----------
//

type query struct {
	useAlm     bool
	xmitHealth model.SVHealth
	valid      model.NavValidityType
	order      model.NavSearchOrder
}

// QueryOption adjusts one library query.
type QueryOption func(*query)

// UseAlmanac evaluates almanac rather than ephemeris data.
func UseAlmanac() QueryOption { return func(q *query) { q.useAlm = true } }

// XmitHealth requires the transmitting satellite to have this health.
func XmitHealth(h model.SVHealth) QueryOption { return func(q *query) { q.xmitHealth = h } }

// Validity selects records by validation outcome.
func Validity(v model.NavValidityType) QueryOption { return func(q *query) { q.valid = v } }

// Order selects the search order.
func Order(o model.NavSearchOrder) QueryOption { return func(q *query) { q.order = o } }

func buildQuery(opts []QueryOption) query {
	q := query{xmitHealth: model.HealthAny, valid: model.ValidOnly, order: model.SearchUser}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

//
// ---------- Queries ----------
//

// Find returns the record matching nmid at when.
func (l *NavLibrary) Find(nmid model.NavMessageID, when navtime.CommonTime, opts ...QueryOption) (*NavData, error) {
	q := buildQuery(opts)
	return l.find(nmid, when, q)
}

func (l *NavLibrary) find(nmid model.NavMessageID, when navtime.CommonTime, q query) (*NavData, error) {
	factories, policy := l.factoriesFor(nmid.NavSignalID)
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: no factory serves %s", ErrNavDataNotFound, nmid.NavSignalID)
	}
	var (
		best    *NavData
		lastErr error
	)
	for _, f := range factories {
		nd, err := f.Find(nmid, when, q.xmitHealth, q.valid, q.order)
		if err != nil {
			if !errors.Is(err, ErrNavDataNotFound) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if policy == TieBreakRegistration {
			return nd, nil
		}
		if best == nil || nd.TimeStamp.After(best.TimeStamp) {
			best = nd
		}
	}
	if best == nil {
		return nil, lastErr
	}
	return best, nil
}

// Xvt evaluates the satellite state at when from ephemeris data, or
// almanac data with UseAlmanac.
func (l *NavLibrary) Xvt(sat model.NavSatelliteID, when navtime.CommonTime, opts ...QueryOption) (model.Xvt, error) {
	start := time.Now()
	q := buildQuery(opts)
	mt := model.MsgEphemeris
	if q.useAlm {
		mt = model.MsgAlmanac
	}
	xvt, err := l.xvt(model.NewNavMessageID(sat, mt), when, q)
	l.metrics.ObserveQuery("xvt", time.Since(start), err)
	return xvt, err
}

func (l *NavLibrary) xvt(nmid model.NavMessageID, when navtime.CommonTime, q query) (model.Xvt, error) {
	nd, err := l.find(nmid, when, q)
	if err != nil {
		return model.Xvt{}, err
	}
	xvt, err := nd.Xvt(when)
	if err != nil {
		if errors.Is(err, ErrKeplerNoConvergence) {
			l.metrics.IncKeplerFailure()
		}
		return model.Xvt{}, fmt.Errorf("evaluate %s: %w", nd, err)
	}
	return xvt, nil
}

// Health returns the health of sat at when.
func (l *NavLibrary) Health(sat model.NavSatelliteID, when navtime.CommonTime, opts ...QueryOption) (model.SVHealth, error) {
	start := time.Now()
	nd, err := l.find(model.NewNavMessageID(sat, model.MsgHealth), when, buildQuery(opts))
	l.metrics.ObserveQuery("health", time.Since(start), err)
	if err != nil {
		return model.HealthUnknown, err
	}
	return nd.HealthStatus(), nil
}

// ISC returns the inter-signal correction (seconds) for sat at when.
func (l *NavLibrary) ISC(sat model.NavSatelliteID, when navtime.CommonTime, opts ...QueryOption) (float64, error) {
	nd, err := l.find(model.NewNavMessageID(sat, model.MsgISC), when, buildQuery(opts))
	if err != nil {
		return 0, err
	}
	if isc, ok := nd.Payload.(*GPSLNavISC); ok {
		return isc.ISC, nil
	}
	return 0, fmt.Errorf("%w: isc from %T", ErrUnsupportedPayload, nd.Payload)
}

// Iono returns the broadcast ionosphere model in effect for sat at when.
func (l *NavLibrary) Iono(sat model.NavSatelliteID, when navtime.CommonTime, opts ...QueryOption) (*KlobucharIono, error) {
	nd, err := l.find(model.NewNavMessageID(sat, model.MsgIono), when, buildQuery(opts))
	if err != nil {
		return nil, err
	}
	if k, ok := nd.Payload.(*KlobucharIono); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: iono from %T", ErrUnsupportedPayload, nd.Payload)
}

// Offset returns the offset between two time systems at when, expressed in
// from. Converting uses t_to = t_from - offset.
func (l *NavLibrary) Offset(from, to navtime.TimeSystem, when navtime.CommonTime, opts ...QueryOption) (float64, error) {
	start := time.Now()
	q := buildQuery(opts)
	l.mu.RLock()
	factories := append([]NavDataFactory(nil), l.factories...)
	l.mu.RUnlock()

	err := fmt.Errorf("%w: no %s->%s offset", ErrNavDataNotFound, from, to)
	for _, f := range factories {
		off, ferr := f.Offset(from, to, when, q.xmitHealth, q.valid)
		if ferr == nil {
			l.metrics.ObserveQuery("offset", time.Since(start), nil)
			return off, nil
		}
		if !errors.Is(ferr, ErrNavDataNotFound) {
			err = ferr
			break
		}
	}
	l.metrics.ObserveQuery("offset", time.Since(start), err)
	return 0, err
}

// IsPresent reports whether any factory has a record matching nmid in
// [from, to).
func (l *NavLibrary) IsPresent(nmid model.NavMessageID, from, to navtime.CommonTime) bool {
	factories, _ := l.factoriesFor(nmid.NavSignalID)
	for _, f := range factories {
		if f.IsPresent(nmid, from, to) {
			return true
		}
	}
	return false
}

// IsTypePresent is IsPresent for one message type and satellite.
func (l *NavLibrary) IsTypePresent(mt model.NavMessageType, sat model.NavSatelliteID, from, to navtime.CommonTime) bool {
	return l.IsPresent(model.NewNavMessageID(sat, mt), from, to)
}

// AvailableSats merges the satellites every factory has data for in
// [from, to).
func (l *NavLibrary) AvailableSats(from, to navtime.CommonTime) []model.NavSatelliteID {
	seen := make(map[model.NavSatelliteID]struct{})
	for _, f := range l.Factories() {
		for _, s := range f.AvailableSats(from, to) {
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

// InitialTime is the earliest time over all factories, EndOfTime if none
// hold data.
func (l *NavLibrary) InitialTime() navtime.CommonTime {
	rv := navtime.EndOfTime
	for _, f := range l.Factories() {
		if t := f.InitialTime(); t.Before(rv) {
			rv = t
		}
	}
	return rv
}

// FinalTime is the latest time over all factories, BeginningOfTime if none
// hold data.
func (l *NavLibrary) FinalTime() navtime.CommonTime {
	rv := navtime.BeginningOfTime
	for _, f := range l.Factories() {
		if t := f.FinalTime(); t.After(rv) {
			rv = t
		}
	}
	return rv
}

//
// ---------- Editing and filters ----------
//

// Edit removes records stamped in [from, to) from every factory.
func (l *NavLibrary) Edit(from, to navtime.CommonTime) {
	for _, f := range l.Factories() {
		f.Edit(from, to)
	}
}

// EditSatellite removes records for sat stamped in [from, to).
func (l *NavLibrary) EditSatellite(from, to navtime.CommonTime, sat model.NavSatelliteID) {
	for _, f := range l.Factories() {
		f.EditSatellite(from, to, sat)
	}
}

// EditSignal removes records on sig stamped in [from, to).
func (l *NavLibrary) EditSignal(from, to navtime.CommonTime, sig model.NavSignalID) {
	for _, f := range l.Factories() {
		f.EditSignal(from, to, sig)
	}
}

// Clear empties every factory. The factories stay registered.
func (l *NavLibrary) Clear() {
	for _, f := range l.Factories() {
		f.Clear()
	}
}

func (l *NavLibrary) SetValidityFilter(v model.NavValidityType) {
	for _, f := range l.Factories() {
		f.SetValidityFilter(v)
	}
}

func (l *NavLibrary) SetTypeFilter(types ...model.NavMessageType) {
	for _, f := range l.Factories() {
		f.SetTypeFilter(types...)
	}
}

func (l *NavLibrary) AddTypeFilter(t model.NavMessageType) {
	for _, f := range l.Factories() {
		f.AddTypeFilter(t)
	}
}

func (l *NavLibrary) ClearTypeFilter() {
	for _, f := range l.Factories() {
		f.ClearTypeFilter()
	}
}
