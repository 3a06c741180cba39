package sem

import (
	"context"
	"io"
	"math"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
)

// Tokens per satellite: PRN, SVN, URA, nine orbit and clock values,
// health and configuration.
const tokensPerEntry = 14

// SEM inclinations are offsets from this many semicircles.
const refInclination = 0.3

type tokens struct {
	lr    *formats.LineReader
	queue []string
}

// next returns the next whitespace-separated token, or "" at the end.
func (t *tokens) next() string {
	for len(t.queue) == 0 {
		line, ok := t.lr.Next()
		if !ok {
			return ""
		}
		t.queue = strings.Fields(line)
	}
	tok := t.queue[0]
	t.queue = t.queue[1:]
	return tok
}

// Decode reads a SEM almanac. The header gives the count of entries, the
// (usually ten-bit) week and the time of applicability shared by all of
// them; nearWeek resolves the week, see formats.FullGPSWeek.
func Decode(ctx context.Context, r io.Reader, source string, nearWeek int, cb core.NavDataCallback, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	lr := formats.NewLineReader(ctx, r, source)
	tk := &tokens{lr: lr}

	first, ok := lr.Next()
	if !ok {
		if err := lr.Err(); err != nil {
			return err
		}
		return lr.Errorf("empty file")
	}
	head := strings.Fields(first)
	if len(head) == 0 {
		return lr.Errorf("missing record count")
	}
	count, err := formats.ParseInt(head[0])
	if err != nil || count <= 0 {
		return lr.Errorf("record count %q", head[0])
	}
	week, err := formats.ParseInt(tk.next())
	if err != nil {
		return lr.Errorf("week: %v", err)
	}
	toa, err := formats.ParseFloat(tk.next())
	if err != nil {
		return lr.Errorf("toa: %v", err)
	}
	fullWeek := formats.FullGPSWeek(week, nearWeek)
	log.Debug(ctx, "sem header",
		logging.String("source", source),
		logging.Int("entries", count),
		logging.Int("week", fullWeek),
		logging.Float("toa", toa),
	)

	for n := 0; n < count; n++ {
		var v [tokensPerEntry]float64
		for i := range v {
			tok := tk.next()
			if tok == "" {
				if err := lr.Err(); err != nil {
					return err
				}
				return lr.Errorf("entry %d of %d truncated", n+1, count)
			}
			if v[i], err = formats.ParseFloat(tok); err != nil {
				return lr.Errorf("entry %d: %v", n+1, err)
			}
		}
		a := &formats.GPSAlmanac{
			PRN:      int(v[0]),
			Week:     fullWeek,
			Toa:      toa,
			Ecc:      v[3],
			I0:       (refInclination + v[4]) * math.Pi,
			OMEGAdot: v[5] * math.Pi,
			Ahalf:    v[6],
			OMEGA0:   v[7] * math.Pi,
			W:        v[8] * math.Pi,
			M0:       v[9] * math.Pi,
			Af0:      v[10],
			Af1:      v[11],
			Health:   uint8(v[12]),
		}
		alm, health := a.Records()
		if !cb.Process(alm) || !cb.Process(health) {
			return nil
		}
	}
	return lr.Err()
}
