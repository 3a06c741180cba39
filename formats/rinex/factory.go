// Package rinex loads RINEX 2 and 3 navigation message files.
package rinex

import (
	"bytes"
	"context"
	"io"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

// FormatName is the name the factory reports in logs and metrics.
const FormatName = "rinex_nav"

// Signals lists what a RINEX nav file can yield.
var Signals = []model.NavSignalID{sigGPS, sigQZSS, sigGalE1B, sigGalE5b, sigGalE5a, sigBDSD1, sigBDSD2}

// Factory serves records loaded from RINEX navigation files.
type Factory struct {
	*core.Store
}

var (
	_ core.NavDataFactory = (*Factory)(nil)
	_ core.Sniffer        = (*Factory)(nil)
)

// New returns an empty factory.
func New(opts ...core.StoreOption) *Factory {
	return &Factory{Store: core.NewStore(FormatName, Signals, opts...)}
}

// AddDataSource loads one file, which may be gzip-compressed. On error the
// store is left as it was.
func (f *Factory) AddDataSource(ctx context.Context, source string) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Ingest(ctx, source, func(cb core.NavDataCallback) error {
			return Decode(ctx, r, source, cb, f.Logger())
		})
	})
}

// Process decodes source and hands each record to cb without storing it.
func (f *Factory) Process(ctx context.Context, source string, cb core.NavDataCallback) error {
	return formats.WithSource(source, func(r io.Reader) error {
		return f.Deliver(func(inner core.NavDataCallback) error {
			return Decode(ctx, r, source, inner, f.Logger())
		}, cb)
	})
}

// Sniff recognises a navigation file header line.
func (f *Factory) Sniff(head []byte) bool {
	line, _, _ := bytes.Cut(head, []byte("\n"))
	return bytes.Contains(line, []byte(labelVersion)) && len(line) > 20 && line[20] == 'N'
}
