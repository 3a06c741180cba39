package yuma

import (
	"context"
	"io"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
)

// Labels are matched on their leading word, lower-cased, since spacing and
// unit annotations vary between producers.
var fieldKeys = map[string]string{
	"id":           "id",
	"health":       "health",
	"eccentricity": "ecc",
	"time":         "toa",
	"orbital":      "i0",
	"rate":         "omegadot",
	"sqrt(a)":      "ahalf",
	"right":        "omega0",
	"argument":     "w",
	"mean":         "m0",
	"af0(s)":       "af0",
	"af1(s/s)":     "af1",
	"week":         "week",
}

var required = []string{"id", "health", "ecc", "toa", "i0", "omegadot", "ahalf", "omega0", "w", "m0", "af0", "af1", "week"}

// Decode reads a Yuma almanac and hands an almanac record and a health
// record per satellite to cb. nearWeek resolves ten-bit week numbers, see
// formats.FullGPSWeek.
func Decode(ctx context.Context, r io.Reader, source string, nearWeek int, cb core.NavDataCallback, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	lr := formats.NewLineReader(ctx, r, source)
	vals := make(map[string]float64, len(required))
	count := 0

	emit := func() (bool, error) {
		if len(vals) == 0 {
			return true, nil
		}
		for _, k := range required {
			if _, ok := vals[k]; !ok {
				return false, lr.Errorf("almanac entry missing %q", k)
			}
		}
		a := &formats.GPSAlmanac{
			PRN:      int(vals["id"]),
			Week:     formats.FullGPSWeek(int(vals["week"]), nearWeek),
			Toa:      vals["toa"],
			Health:   uint8(vals["health"]),
			Ecc:      vals["ecc"],
			I0:       vals["i0"],
			OMEGAdot: vals["omegadot"],
			Ahalf:    vals["ahalf"],
			OMEGA0:   vals["omega0"],
			W:        vals["w"],
			M0:       vals["m0"],
			Af0:      vals["af0"],
			Af1:      vals["af1"],
		}
		clear(vals)
		count++
		alm, health := a.Records()
		return cb.Process(alm) && cb.Process(health), nil
	}

	for {
		line, ok := lr.Next()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "*"):
			more, err := emit()
			if err != nil || !more {
				return err
			}
			continue
		}
		label, value, found := cutLast(trimmed)
		if !found {
			return lr.Errorf("expected \"label: value\", got %q", trimmed)
		}
		word := strings.ToLower(strings.Fields(label)[0])
		key, known := fieldKeys[word]
		if !known {
			log.Debug(ctx, "yuma field ignored", logging.String("label", label), logging.Int("line", lr.Line()))
			continue
		}
		v, err := formats.ParseFloat(value)
		if err != nil {
			return lr.Errorf("%s: %v", label, err)
		}
		vals[key] = v
	}
	if err := lr.Err(); err != nil {
		return err
	}
	if _, err := emit(); err != nil {
		return err
	}
	if count == 0 {
		return lr.Errorf("no almanac entries")
	}
	return nil
}

func cutLast(s string) (string, string, bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}
