// Package sem loads GPS almanacs in the SEM format.
package sem

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

const FormatName = "sem"

var Signals = []model.NavSignalID{formats.AlmanacSignal}

// Factory serves almanac and health records. Its initial and final times
// are the extent of the almanac fit intervals.
type Factory struct {
	*core.Store
	nearWeek int
}

var (
	_ core.NavDataFactory = (*Factory)(nil)
	_ core.Sniffer        = (*Factory)(nil)
)

type Option func(*settings)

type settings struct {
	nearWeek int
	store    []core.StoreOption
}

// WithNearFullWeek sets the full GPS week that ten-bit week numbers in the
// file are resolved against. Zero uses the current date.
func WithNearFullWeek(week int) Option {
	return func(s *settings) { s.nearWeek = week }
}

// WithStoreOptions passes options through to the underlying store.
func WithStoreOptions(opts ...core.StoreOption) Option {
	return func(s *settings) { s.store = append(s.store, opts...) }
}

func New(opts ...Option) *Factory {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	storeOpts := append([]core.StoreOption{core.WithBoundsPolicy(core.BoundsFit)}, s.store...)
	return &Factory{
		Store:    core.NewStore(FormatName, Signals, storeOpts...),
		nearWeek: s.nearWeek,
	}
}

func (f *Factory) AddDataSource(ctx context.Context, source string) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Ingest(ctx, source, func(cb core.NavDataCallback) error {
			return Decode(ctx, r, source, f.nearWeek, cb, f.Logger())
		})
	})
}

func (f *Factory) Process(ctx context.Context, source string, cb core.NavDataCallback) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Deliver(func(inner core.NavDataCallback) error {
			return Decode(ctx, r, source, f.nearWeek, inner, f.Logger())
		}, cb)
	})
}

// Sniff checks for the two header lines: an entry count followed by a name,
// then the week and time of applicability.
func (f *Factory) Sniff(head []byte) bool {
	lines := strings.SplitN(string(head), "\n", 3)
	if len(lines) < 3 {
		return false
	}
	l1, l2 := strings.Fields(lines[0]), strings.Fields(lines[1])
	if len(l1) < 1 || len(l2) != 2 {
		return false
	}
	n, err1 := strconv.Atoi(l1[0])
	_, err2 := strconv.Atoi(l2[0])
	toa, err3 := strconv.ParseFloat(l2[1], 64)
	return err1 == nil && err2 == nil && err3 == nil && n > 0 && n <= 64 && toa >= 0 && toa < 604800
}
