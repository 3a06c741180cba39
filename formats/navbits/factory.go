// Package navbits decodes raw GPS LNAV subframes into navigation records.
// Input is text, one subframe per line as "week,sow,prn,hex".
package navbits

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"regexp"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

const FormatName = "navbits"

var Signals = []model.NavSignalID{Signal}

var lineRE = regexp.MustCompile(`^\s*\d+\s*,\s*\d+(\.\d*)?\s*,\s*\d+\s*,\s*[0-9A-Fa-f]{75}\s*$`)

// Factory serves ephemerides, almanacs, health, group delay, time offset
// and ionosphere records decoded from subframes.
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

// Sniff accepts input whose first data line is a subframe record.
func (f *Factory) Sniff(head []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(head))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		return lineRE.Match(line)
	}
	return false
}
