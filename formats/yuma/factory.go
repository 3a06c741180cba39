// Package yuma loads GPS almanacs in the Yuma text format.
package yuma

import (
	"bytes"
	"context"
	"io"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

const FormatName = "yuma"

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

// Sniff looks for the "******** Week" banner that opens each entry.
func (f *Factory) Sniff(head []byte) bool {
	head = bytes.TrimLeft(head, " \t\r\n")
	return bytes.HasPrefix(head, []byte("*****")) && bytes.Contains(head[:min(len(head), 80)], []byte("almanac for PRN"))
}
