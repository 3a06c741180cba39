package core

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// BoundsPolicy selects what InitialTime and FinalTime report.
type BoundsPolicy int

const (
	// BoundsTimeStamp reports the earliest and latest record time stamps.
	BoundsTimeStamp BoundsPolicy = iota
	// BoundsFit reports the earliest BeginFit and latest EndFit, falling
	// back to the time stamp for records without a fit interval.
	BoundsFit
)

// navList holds one key's records sorted by TimeStamp, one per instant.
type navList []*NavData

type signalMap map[model.NavSignalID]map[model.NavSatelliteID]navList

// Store is the in-memory record index shared by the file factories:
// message type, then signal, then satellite, then time.
//
// All access goes through the methods below, which take an internal
// RWMutex, so one Store may be queried from many goroutines while another
// source is being loaded.
type Store struct {
	mu sync.RWMutex

	data     map[model.NavMessageType]signalMap
	validity model.NavValidityType
	types    map[model.NavMessageType]struct{}
	bounds   BoundsPolicy
	format   string
	signals  []model.NavSignalID

	log     logging.Logger
	metrics MetricsRecorder
}

// StoreOption customises Store construction.
type StoreOption func(*Store)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBoundsPolicy selects how InitialTime/FinalTime are computed.
func WithBoundsPolicy(p BoundsPolicy) StoreOption {
	return func(s *Store) { s.bounds = p }
}

// NewStore creates an empty store for the named format. The default
// validity filter is ValidOnly and the type filter admits everything.
func NewStore(format string, signals []model.NavSignalID, opts ...StoreOption) *Store {
	s := &Store{
		data:     make(map[model.NavMessageType]signalMap),
		validity: model.ValidOnly,
		types:    make(map[model.NavMessageType]struct{}),
		format:   format,
		signals:  append([]model.NavSignalID(nil), signals...),
		log:      logging.Noop(),
		metrics:  noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string { return s.format }

// SupportedSignals returns a copy of the signals this store's format yields.
func (s *Store) SupportedSignals() []model.NavSignalID {
	return append([]model.NavSignalID(nil), s.signals...)
}

// Logger returns the store's logger.
func (s *Store) Logger() logging.Logger { return s.log }

// Metrics returns the store's metrics recorder, never nil.
func (s *Store) Metrics() MetricsRecorder { return s.metrics }

//
// ---------- Filters ----------
//

func (s *Store) SetValidityFilter(v model.NavValidityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validity = v
}

func (s *Store) ValidityFilter() model.NavValidityType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validity
}

// SetTypeFilter replaces the type filter. No types means all types.
func (s *Store) SetTypeFilter(types ...model.NavMessageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = make(map[model.NavMessageType]struct{}, len(types))
	for _, t := range types {
		s.types[t] = struct{}{}
	}
}

func (s *Store) AddTypeFilter(t model.NavMessageType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[t] = struct{}{}
}

func (s *Store) ClearTypeFilter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = make(map[model.NavMessageType]struct{})
}

// TypeFilter returns the configured types in a stable order.
func (s *Store) TypeFilter() []model.NavMessageType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.NavMessageType, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) typeAllowedLocked(t model.NavMessageType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Accepts applies the ingest filters (message type and validity).
func (s *Store) Accepts(nd *NavData) bool {
	if nd == nil || nd.Payload == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typeAllowedLocked(nd.ID.MessageType) && s.validity.Accepts(nd.Validate())
}

//
// ---------- Ingest ----------
//

// Add inserts one record, replacing a record with the same key and time
// stamp. Filters are not applied; see Accepts.
func (s *Store) Add(nd *NavData) error {
	if nd == nil || nd.Payload == nil {
		return ErrNilNavData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(nd)
	s.metrics.SetStoredRecords(s.format, s.sizeLocked())
	return nil
}

func (s *Store) addLocked(nd *NavData) {
	sigs, ok := s.data[nd.ID.MessageType]
	if !ok {
		sigs = make(signalMap)
		s.data[nd.ID.MessageType] = sigs
	}
	sats, ok := sigs[nd.ID.NavSignalID]
	if !ok {
		sats = make(map[model.NavSatelliteID]navList)
		sigs[nd.ID.NavSignalID] = sats
	}
	list := sats[nd.ID.NavSatelliteID]
	i := sort.Search(len(list), func(i int) bool { return !list[i].TimeStamp.Before(nd.TimeStamp) })
	if i < len(list) && list[i].TimeStamp.Equal(nd.TimeStamp) {
		list[i] = nd
	} else {
		list = append(list, nil)
		copy(list[i+1:], list[i:])
		list[i] = nd
	}
	sats[nd.ID.NavSatelliteID] = list
}

// Ingest runs decode and commits the records it yields only if decode
// returns nil, so a source that fails part way leaves the store as it was.
// Records are filtered with Accepts before staging.
func (s *Store) Ingest(ctx context.Context, source string, decode func(cb NavDataCallback) error) error {
	ctx, span := otel.Tracer("gnss-nav-engine/core").Start(ctx, "store.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("nav.format", s.format), attribute.String("nav.source", source))

	start := time.Now()
	var batch []*NavData
	err := decode(CallbackFunc(func(nd *NavData) bool {
		if s.Accepts(nd) {
			batch = append(batch, nd)
		}
		return true
	}))
	elapsed := time.Since(start)
	s.metrics.ObserveIngest(s.format, len(batch), elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn(ctx, "navigation source rejected",
			logging.String("format", s.format),
			logging.String("source", source),
			logging.Err(err),
		)
		return err
	}

	s.mu.Lock()
	for _, nd := range batch {
		s.addLocked(nd)
	}
	total := s.sizeLocked()
	s.mu.Unlock()

	s.metrics.SetStoredRecords(s.format, total)
	span.SetAttributes(attribute.Int("nav.records", len(batch)))
	s.log.Debug(ctx, "navigation source loaded",
		logging.String("format", s.format),
		logging.String("source", source),
		logging.Int("records", len(batch)),
		logging.Int("total", total),
		logging.Duration("elapsed", elapsed),
	)
	return nil
}

// Deliver runs decode, handing records that pass the ingest filters to cb
// until it returns false. Nothing is stored.
func (s *Store) Deliver(decode func(cb NavDataCallback) error, cb NavDataCallback) error {
	stopped := false
	return decode(CallbackFunc(func(nd *NavData) bool {
		if stopped {
			return false
		}
		if !s.Accepts(nd) {
			return true
		}
		if !cb.Process(nd) {
			stopped = true
			return false
		}
		return true
	}))
}

//
// ---------- Queries ----------
//

// Find returns the record matching nmid at when, honouring the type filter,
// the transmitting satellite's health, the validity filter and the search
// order. Among matching keys the best candidate wins; ties keep the first
// key in (signal, satellite, transmitter) order.
func (s *Store) Find(nmid model.NavMessageID, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType, order model.NavSearchOrder) (*NavData, error) {
	start := time.Now()
	s.mu.RLock()
	nd, err := s.findLocked(nmid, when, xmitHealth, valid, order)
	s.mu.RUnlock()
	s.metrics.ObserveQuery("find", time.Since(start), err)
	return nd, err
}

func (s *Store) findLocked(nmid model.NavMessageID, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType, order model.NavSearchOrder) (*NavData, error) {
	if !s.typeAllowedLocked(nmid.MessageType) {
		return nil, fmt.Errorf("%w: %s filtered out", ErrNavDataNotFound, nmid.MessageType)
	}
	var (
		best     *NavData
		bestDist float64
	)
	for _, key := range s.matchingKeysLocked(nmid.MessageType, nmid.NavSatelliteID) {
		list := s.data[nmid.MessageType][key.NavSignalID][key]
		if len(list) == 0 {
			continue
		}
		w, err := alignTo(when, list[0].TimeStamp.System())
		if err != nil {
			return nil, err
		}
		var (
			cand *NavData
			dist float64
		)
		switch order {
		case model.SearchNearest:
			cand, dist = s.nearestInLocked(list, w, xmitHealth, valid)
		default:
			cand = s.userInLocked(list, w, xmitHealth, valid)
		}
		if cand == nil {
			continue
		}
		switch {
		case best == nil:
			best, bestDist = cand, dist
		case order == model.SearchNearest:
			if dist < bestDist || (dist == bestDist && cand.TimeStamp.After(best.TimeStamp)) {
				best, bestDist = cand, dist
			}
		case cand.TimeStamp.After(best.TimeStamp):
			best, bestDist = cand, dist
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrNavDataNotFound, nmid, when)
	}
	return best, nil
}

// userInLocked walks back from the newest record not after when and returns
// the first one a receiver could have used at when.
func (s *Store) userInLocked(list navList, when navtime.CommonTime, xmitHealth model.SVHealth, valid model.NavValidityType) *NavData {
	idx := sort.Search(len(list), func(i int) bool { return list[i].TimeStamp.After(when) })
	for i := idx - 1; i >= 0; i-- {
		nd := list[i]
		if nd.UserTime().After(when) {
			continue
		}
		if !valid.Accepts(nd.Validate()) {
			continue
		}
		if nd.HasFit() && !nd.Covers(when) {
			continue
		}
		if !s.xmitHealthyLocked(nd, xmitHealth) {
			continue
		}
		return nd
	}
	return nil
}

// nearestInLocked returns the record whose reference time is closest to
// when, ignoring fit intervals. Ties go to the later record.
func (s *Store) nearestInLocked(list navList, when navtime.CommonTime, xmitHealth model.SVHealth, valid model.NavValidityType) (*NavData, float64) {
	var (
		best     *NavData
		bestDist = math.Inf(1)
	)
	for _, nd := range list {
		if !valid.Accepts(nd.Validate()) || !s.xmitHealthyLocked(nd, xmitHealth) {
			continue
		}
		ref := nd.RefTime()
		d, err := when.Sub(ref.WithSystem(when.System()))
		if err != nil {
			continue
		}
		d = math.Abs(d)
		if d <= bestDist {
			best, bestDist = nd, d
		}
	}
	return best, bestDist
}

// xmitHealthyLocked checks the health of the satellite that transmitted nd
// at the time nd was transmitted.
func (s *Store) xmitHealthyLocked(nd *NavData, filter model.SVHealth) bool {
	if filter == model.HealthAny || filter == model.HealthUnknown {
		return true
	}
	if nd.ID.MessageType == model.MsgHealth && nd.ID.Sat == nd.ID.XmitSat {
		return filter.Accepts(nd.HealthStatus())
	}
	sigs := s.data[model.MsgHealth]
	if sigs == nil {
		return false
	}
	var latest *NavData
	for sig, sats := range sigs {
		if !nd.ID.NavSignalID.Matches(sig) {
			continue
		}
		for key, list := range sats {
			if !nd.ID.XmitSat.Matches(key.Sat) {
				continue
			}
			idx := sort.Search(len(list), func(i int) bool { return list[i].TimeStamp.After(nd.TimeStamp) })
			if idx == 0 {
				continue
			}
			h := list[idx-1]
			if latest == nil || h.TimeStamp.After(latest.TimeStamp) ||
				(h.TimeStamp.Equal(latest.TimeStamp) && sig == nd.ID.NavSignalID) {
				latest = h
			}
		}
	}
	if latest == nil {
		return false
	}
	return filter.Accepts(latest.HealthStatus())
}

// matchingKeysLocked lists the stored keys of type mt accepted by query in
// deterministic order.
func (s *Store) matchingKeysLocked(mt model.NavMessageType, query model.NavSatelliteID) []model.NavSatelliteID {
	var keys []model.NavSatelliteID
	for sig, sats := range s.data[mt] {
		if !query.NavSignalID.Matches(sig) {
			continue
		}
		for key := range sats {
			if query.Matches(key) {
				keys = append(keys, key)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Offset finds the newest usable time offset record relating from and to
// and evaluates it at when, which is taken to be in the from system.
func (s *Store) Offset(from, to navtime.TimeSystem, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType) (float64, error) {
	start := time.Now()
	off, err := s.offset(from, to, when, xmitHealth, valid)
	s.metrics.ObserveQuery("offset", time.Since(start), err)
	return off, err
}

func (s *Store) offset(from, to navtime.TimeSystem, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType) (float64, error) {
	switch when.System() {
	case from:
	case navtime.Any, navtime.Unknown:
		when = when.WithSystem(from)
	default:
		return 0, fmt.Errorf("%w: offset %s->%s queried with %s time", navtime.ErrTimeSystemMismatch, from, to, when.System())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.typeAllowedLocked(model.MsgTimeOffset) {
		return 0, fmt.Errorf("%w: time offsets filtered out", ErrNavDataNotFound)
	}
	var best *NavData
	for _, sats := range s.data[model.MsgTimeOffset] {
		for _, list := range sats {
			for i := len(list) - 1; i >= 0; i-- {
				nd := list[i]
				tof, ok := nd.Payload.(*StdTimeOffset)
				if !ok || !tof.Converts(from, to) {
					continue
				}
				at, ok := expressIn(when, nd.TimeStamp.System())
				if !ok || nd.UserTime().After(at) {
					continue
				}
				if !valid.Accepts(nd.Validate()) || !s.xmitHealthyLocked(nd, xmitHealth) {
					continue
				}
				if best == nil || nd.TimeStamp.After(best.TimeStamp) {
					best = nd
				}
				break
			}
		}
	}
	if best == nil {
		return 0, fmt.Errorf("%w: no %s->%s offset at %s", ErrNavDataNotFound, from, to, when)
	}
	off, ok := best.Payload.(*StdTimeOffset).Offset(from, to, when)
	if !ok {
		return 0, fmt.Errorf("%w: %s->%s offset not applicable at %s", ErrNavDataNotFound, from, to, when)
	}
	return off, nil
}

// IsPresent reports whether any record matching nmid has a time stamp in
// [from, to).
func (s *Store) IsPresent(nmid model.NavMessageID, from, to navtime.CommonTime) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.typeAllowedLocked(nmid.MessageType) {
		return false
	}
	for _, key := range s.matchingKeysLocked(nmid.MessageType, nmid.NavSatelliteID) {
		if anyInRange(s.data[nmid.MessageType][key.NavSignalID][key], from, to) {
			return true
		}
	}
	return false
}

// AvailableSats lists the satellites with ephemeris, almanac, health or
// clock data stamped in [from, to).
func (s *Store) AvailableSats(from, to navtime.CommonTime) []model.NavSatelliteID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.NavSatelliteID]struct{})
	for _, mt := range []model.NavMessageType{model.MsgEphemeris, model.MsgAlmanac, model.MsgHealth, model.MsgClock} {
		if !s.typeAllowedLocked(mt) {
			continue
		}
		for _, sats := range s.data[mt] {
			for key, list := range sats {
				if anyInRange(list, from, to) {
					seen[key] = struct{}{}
				}
			}
		}
	}
	out := make([]model.NavSatelliteID, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func anyInRange(list navList, from, to navtime.CommonTime) bool {
	if len(list) == 0 {
		return false
	}
	sys := list[0].TimeStamp.System()
	f, err1 := alignTo(from, sys)
	t, err2 := alignTo(to, sys)
	if err1 != nil || err2 != nil {
		return false
	}
	i := sort.Search(len(list), func(i int) bool { return !list[i].TimeStamp.Before(f) })
	return i < len(list) && list[i].TimeStamp.Before(t)
}

// InitialTime is the earliest time covered by the store, or EndOfTime when
// empty.
func (s *Store) InitialTime() navtime.CommonTime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rv := navtime.EndOfTime
	s.eachLocked(func(nd *NavData) {
		t := nd.TimeStamp
		if s.bounds == BoundsFit && nd.HasFit() {
			t = nd.BeginFit
		}
		if t.Before(rv) {
			rv = t
		}
	})
	return rv
}

// FinalTime is the latest time covered by the store, or BeginningOfTime
// when empty.
func (s *Store) FinalTime() navtime.CommonTime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rv := navtime.BeginningOfTime
	s.eachLocked(func(nd *NavData) {
		t := nd.TimeStamp
		if s.bounds == BoundsFit && nd.HasFit() {
			t = nd.EndFit
		}
		if t.After(rv) {
			rv = t
		}
	})
	return rv
}

func (s *Store) eachLocked(fn func(nd *NavData)) {
	for _, sigs := range s.data {
		for _, sats := range sigs {
			for _, list := range sats {
				for _, nd := range list {
					fn(nd)
				}
			}
		}
	}
}

// Each calls fn for every stored record of type mt (all types when mt is
// MsgUnknown) in key then time order. fn must not call back into the store.
func (s *Store) Each(mt model.NavMessageType, fn func(nd *NavData) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := []model.NavMessageType{mt}
	if mt == model.MsgUnknown {
		types = model.AllMessageTypes()
	}
	for _, t := range types {
		for _, key := range s.matchingKeysLocked(t, model.NavSatelliteID{
			NavSignalID: model.NavSignalID{Carrier: model.BandAny, Code: model.CodeAny, Nav: model.NavAny},
			Sat:         model.AnySat(),
			XmitSat:     model.AnySat(),
		}) {
			for _, nd := range s.data[t][key.NavSignalID][key] {
				if !fn(nd) {
					return
				}
			}
		}
	}
}

// Samples returns copies of the time-ordered record lists of every key
// matching nmid, in key order. Formats that interpolate between records
// (SP3) build their queries on it.
func (s *Store) Samples(nmid model.NavMessageID) [][]*NavData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.typeAllowedLocked(nmid.MessageType) {
		return nil
	}
	var out [][]*NavData
	for _, key := range s.matchingKeysLocked(nmid.MessageType, nmid.NavSatelliteID) {
		list := s.data[nmid.MessageType][key.NavSignalID][key]
		out = append(out, append([]*NavData(nil), list...))
	}
	return out
}

//
// ---------- Sizes ----------
//

// Size is the number of stored records.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeLocked()
}

func (s *Store) sizeLocked() int {
	n := 0
	for _, sigs := range s.data {
		for _, sats := range sigs {
			for _, list := range sats {
				n += len(list)
			}
		}
	}
	return n
}

// NumSignals counts distinct signals across all message types.
func (s *Store) NumSignals() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.NavSignalID]struct{})
	for _, sigs := range s.data {
		for sig := range sigs {
			seen[sig] = struct{}{}
		}
	}
	return len(seen)
}

// NumSatellites counts distinct subject satellites.
func (s *Store) NumSatellites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[model.SatID]struct{})
	for _, sigs := range s.data {
		for _, sats := range sigs {
			for key := range sats {
				seen[key.Sat] = struct{}{}
			}
		}
	}
	return len(seen)
}

// DumpDetail selects how much Dump prints.
type DumpDetail int

const (
	// DumpOneLine prints a single summary line.
	DumpOneLine DumpDetail = iota
	// DumpBrief adds one line per record.
	DumpBrief
	// DumpFull adds the decoded payload of every record.
	DumpFull
)

// Dumper is implemented by factories that can list their contents.
type Dumper interface {
	Dump(w io.Writer, detail DumpDetail) error
}

// Dump writes a human-readable listing of the store to w.
func (s *Store) Dump(w io.Writer, detail DumpDetail) error {
	initial, final := s.InitialTime(), s.FinalTime()
	if _, err := fmt.Fprintf(w, "%s: %d records, %d signals, %d satellites, %s to %s\n",
		s.format, s.Size(), s.NumSignals(), s.NumSatellites(), initial, final); err != nil {
		return err
	}
	if detail == DumpOneLine {
		return nil
	}
	var err error
	s.Each(model.MsgUnknown, func(nd *NavData) bool {
		_, err = fmt.Fprintf(w, "  %s health=%s", nd, nd.Health)
		if err == nil && nd.HasFit() {
			_, err = fmt.Fprintf(w, " fit=[%s, %s)", nd.BeginFit, nd.EndFit)
		}
		if err == nil && detail == DumpFull {
			_, err = fmt.Fprintf(w, "\n    %+v", nd.Payload)
		}
		if err == nil {
			_, err = fmt.Fprintln(w)
		}
		return err == nil
	})
	return err
}

//
// ---------- Editing ----------
//

// Edit removes every record stamped in [from, to).
func (s *Store) Edit(from, to navtime.CommonTime) {
	s.editWhere(from, to, func(model.NavSatelliteID) bool { return true })
}

// EditSatellite removes records stamped in [from, to) whose key matches sat.
func (s *Store) EditSatellite(from, to navtime.CommonTime, sat model.NavSatelliteID) {
	s.editWhere(from, to, sat.Matches)
}

// EditSignal removes records stamped in [from, to) on signals matching sig.
func (s *Store) EditSignal(from, to navtime.CommonTime, sig model.NavSignalID) {
	s.editWhere(from, to, func(key model.NavSatelliteID) bool { return sig.Matches(key.NavSignalID) })
}

func (s *Store) editWhere(from, to navtime.CommonTime, match func(model.NavSatelliteID) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mt, sigs := range s.data {
		for sig, sats := range sigs {
			for key, list := range sats {
				if !match(key) {
					continue
				}
				kept := list[:0]
				for _, nd := range list {
					if inRange(nd.TimeStamp, from, to) {
						continue
					}
					kept = append(kept, nd)
				}
				for i := len(kept); i < len(list); i++ {
					list[i] = nil
				}
				if len(kept) == 0 {
					delete(sats, key)
				} else {
					sats[key] = kept
				}
			}
			if len(sats) == 0 {
				delete(sigs, sig)
			}
		}
		if len(sigs) == 0 {
			delete(s.data, mt)
		}
	}
	s.metrics.SetStoredRecords(s.format, s.sizeLocked())
}

func inRange(t, from, to navtime.CommonTime) bool {
	f, err1 := alignTo(from, t.System())
	e, err2 := alignTo(to, t.System())
	if err1 != nil || err2 != nil {
		return false
	}
	return !t.Before(f) && t.Before(e)
}

// Clear removes everything.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[model.NavMessageType]signalMap)
	s.metrics.SetStoredRecords(s.format, 0)
}
