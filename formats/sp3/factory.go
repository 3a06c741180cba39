// Package sp3 loads precise orbit and clock products in SP3 a, c and d
// format and answers queries by interpolating between samples.
package sp3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const FormatName = "sp3"

// Signals lists the systems SP3 products commonly cover.
var Signals = []model.NavSignalID{
	signalFor(model.SystemGPS),
	signalFor(model.SystemGalileo),
	signalFor(model.SystemGlonass),
	signalFor(model.SystemBeiDou),
	signalFor(model.SystemQZSS),
}

// Factory serves SP3 samples. Ephemeris and clock queries return a record
// interpolated at the query time rather than a stored sample.
type Factory struct {
	*core.Store
}

var (
	_ core.NavDataFactory = (*Factory)(nil)
	_ core.Sniffer        = (*Factory)(nil)
)

func New(opts ...core.StoreOption) *Factory {
	return &Factory{Store: core.NewStore(FormatName, Signals, opts...)}
}

func (f *Factory) AddDataSource(ctx context.Context, source string) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Ingest(ctx, source, func(cb core.NavDataCallback) error {
			return Decode(ctx, r, source, cb, f.Logger())
		})
	})
}

func (f *Factory) Process(ctx context.Context, source string, cb core.NavDataCallback) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Deliver(func(inner core.NavDataCallback) error {
			return Decode(ctx, r, source, inner, f.Logger())
		}, cb)
	})
}

// Find interpolates ephemeris and clock data at when. The search order
// does not apply to interpolated results. Other message types fall through
// to the store.
func (f *Factory) Find(nmid model.NavMessageID, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType, order model.NavSearchOrder) (*core.NavData, error) {
	var interp func([]*core.NavData, navtime.CommonTime) (*core.NavData, error)
	switch nmid.MessageType {
	case model.MsgEphemeris:
		interp = core.InterpolateOrbit
	case model.MsgClock:
		interp = core.InterpolateClock
	default:
		return f.Store.Find(nmid, when, xmitHealth, valid, order)
	}
	start := time.Now()
	nd, err := f.interpolate(nmid, when, xmitHealth, valid, interp)
	f.Metrics().ObserveQuery("find", time.Since(start), err)
	return nd, err
}

func (f *Factory) interpolate(nmid model.NavMessageID, when navtime.CommonTime, xmitHealth model.SVHealth,
	valid model.NavValidityType, interp func([]*core.NavData, navtime.CommonTime) (*core.NavData, error)) (*core.NavData, error) {
	err := fmt.Errorf("%w: %s", core.ErrNavDataNotFound, nmid)
	for _, list := range f.Samples(nmid) {
		usable := list[:0:0]
		for _, nd := range list {
			if valid.Accepts(nd.Validate()) && (xmitHealth == model.HealthUnknown || xmitHealth.Accepts(nd.Health)) {
				usable = append(usable, nd)
			}
		}
		nd, ierr := interp(usable, when)
		if ierr == nil {
			return nd, nil
		}
		if !errors.Is(ierr, core.ErrNavDataNotFound) {
			return nil, ierr
		}
		err = ierr
	}
	return nil, err
}

// Sniff recognises the "#a", "#c" or "#d" version line.
func (f *Factory) Sniff(head []byte) bool {
	return len(head) > 3 && head[0] == '#' && bytes.IndexByte([]byte("abcd"), head[1]) >= 0 &&
		(head[2] == 'P' || head[2] == 'V') && bytes.Contains(head, []byte("\n##"))
}
