// Package tle loads two-line element sets for navigation satellites and
// propagates them with SGP4.
package tle

import (
	"bytes"
	"context"
	"io"
	"maps"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

const FormatName = "tle"

var Signals = []model.NavSignalID{
	signalFor(model.SystemGPS),
	signalFor(model.SystemGalileo),
	signalFor(model.SystemGlonass),
	signalFor(model.SystemBeiDou),
	signalFor(model.SystemQZSS),
}

// Factory serves SGP4 orbits. Records are only usable within the fit
// window around each element set's epoch.
type Factory struct {
	*core.Store
	satMap    map[int]model.SatID
	storeOpts []core.StoreOption
}

var (
	_ core.NavDataFactory = (*Factory)(nil)
	_ core.Sniffer        = (*Factory)(nil)
)

type Option func(*Factory)

// WithSatellite files element sets for a NORAD catalogue number under sat,
// overriding whatever the name line says.
func WithSatellite(norad int, sat model.SatID) Option {
	return func(f *Factory) { f.satMap[norad] = sat }
}

// WithStoreOptions passes options through to the underlying store.
func WithStoreOptions(opts ...core.StoreOption) Option {
	return func(f *Factory) { f.storeOpts = append(f.storeOpts, opts...) }
}

// WithSatellites is WithSatellite for a whole table.
func WithSatellites(m map[int]model.SatID) Option {
	return func(f *Factory) { maps.Copy(f.satMap, m) }
}

func New(opts ...Option) *Factory {
	f := &Factory{
		satMap:    make(map[int]model.SatID),
		storeOpts: []core.StoreOption{core.WithBoundsPolicy(core.BoundsFit)},
	}
	for _, o := range opts {
		o(f)
	}
	f.Store = core.NewStore(FormatName, Signals, f.storeOpts...)
	return f
}

func (f *Factory) AddDataSource(ctx context.Context, source string) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Ingest(ctx, source, func(cb core.NavDataCallback) error {
			return Decode(ctx, r, source, f.satMap, cb, f.Logger())
		})
	})
}

func (f *Factory) Process(ctx context.Context, source string, cb core.NavDataCallback) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Deliver(func(inner core.NavDataCallback) error {
			return Decode(ctx, r, source, f.satMap, inner, f.Logger())
		}, cb)
	})
}

// Sniff accepts input whose first or second line is a TLE line 1 followed
// by a line 2.
func (f *Factory) Sniff(head []byte) bool {
	lines := bytes.Split(head, []byte("\n"))
	for i := 0; i+1 < len(lines) && i < 2; i++ {
		l1 := bytes.TrimRight(lines[i], "\r ")
		l2 := bytes.TrimRight(lines[i+1], "\r ")
		if len(l1) == 69 && len(l2) == 69 && bytes.HasPrefix(l1, []byte("1 ")) && bytes.HasPrefix(l2, []byte("2 ")) {
			return true
		}
	}
	return false
}
