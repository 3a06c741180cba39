package corrections

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// WxObservation is one timed weather record.
type WxObservation struct {
	Time navtime.CommonTime
	Weather
}

// MetReader holds the weather observations of RINEX meteorological files
// and looks them up by time.
type MetReader struct {
	// MaxGap is the longest interval, in seconds, that is interpolated
	// across or extrapolated beyond.
	MaxGap float64

	obs []WxObservation
}

func NewMetReader() *MetReader {
	return &MetReader{MaxGap: 3600}
}

// Len is the number of observations held.
func (m *MetReader) Len() int { return len(m.obs) }

// Observations returns the observations in time order.
func (m *MetReader) Observations() []WxObservation { return m.obs }

// Read loads a RINEX 2 or 3 met file, adding to what is already held. The
// file must carry pressure, dry temperature and relative humidity.
func (m *MetReader) Read(ctx context.Context, source string) error {
	return formats.WithSource(source, func(r io.Reader) error {
		obs, err := decodeMet(ctx, r, source)
		if err != nil {
			return err
		}
		m.obs = append(m.obs, obs...)
		sort.SliceStable(m.obs, func(i, j int) bool { return m.obs[i].Time.Before(m.obs[j].Time) })
		return nil
	})
}

func decodeMet(ctx context.Context, r io.Reader, source string) ([]WxObservation, error) {
	lr := formats.NewLineReader(ctx, r, source)
	var (
		version float64
		types   []string
		nTypes  int
		ended   bool
	)
	for !ended {
		line, ok := lr.Next()
		if !ok {
			if err := lr.Err(); err != nil {
				return nil, err
			}
			return nil, lr.Errorf("missing END OF HEADER")
		}
		label := formats.Field(line, 60, 20)
		switch {
		case lr.Line() == 1:
			if label != "RINEX VERSION / TYPE" || formats.Field(line, 20, 1) != "M" {
				return nil, lr.Errorf("not a RINEX met file")
			}
			v, err := formats.ParseFloat(formats.Field(line, 0, 9))
			if err != nil {
				return nil, lr.Errorf("version: %v", err)
			}
			version = v
		case label == "# / TYPES OF OBSERV":
			if len(types) == 0 {
				n, err := formats.ParseInt(formats.Field(line, 0, 6))
				if err != nil {
					return nil, lr.Errorf("observation count: %v", err)
				}
				nTypes = n
			}
			for col := 6; col+6 <= 60 && len(types) < nTypes; col += 6 {
				types = append(types, formats.Field(line, col, 6))
			}
		case label == "END OF HEADER":
			ended = true
		}
	}
	idx := map[string]int{"PR": -1, "TD": -1, "HR": -1}
	for i, t := range types {
		if _, ok := idx[t]; ok {
			idx[t] = i
		}
	}
	for t, i := range idx {
		if i < 0 {
			return nil, lr.Errorf("no %s observations", t)
		}
	}

	timeWidth, yearWidth := 18, 2
	if version >= 3 {
		timeWidth, yearWidth = 20, 4
	}
	var out []WxObservation
	for {
		line, ok := lr.Next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		when, err := metEpoch(line, yearWidth)
		if err != nil {
			return nil, lr.Errorf("epoch: %v", err)
		}
		vals := splitValues(line[min(timeWidth, len(line)):], 8)
		for len(vals) < len(types) {
			next, ok := lr.Next()
			if !ok {
				return nil, lr.Errorf("record ends after %d of %d values", len(vals), len(types))
			}
			vals = append(vals, splitValues(next[min(4, len(next)):], 10)...)
		}
		var wx [3]float64
		for k, t := range []string{"PR", "TD", "HR"} {
			v, err := formats.ParseFloat(vals[idx[t]])
			if err != nil {
				return nil, lr.Errorf("%s: %v", t, err)
			}
			wx[k] = v
		}
		out = append(out, WxObservation{
			Time:    when,
			Weather: Weather{Pressure: wx[0], Temperature: wx[1], Humidity: wx[2]},
		})
	}
	if err := lr.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, lr.Errorf("no observations")
	}
	return out, nil
}

// metEpoch parses "yy mm dd hh mm ss" (four digit year in version 3).
func metEpoch(line string, yearWidth int) (navtime.CommonTime, error) {
	var f [6]int
	col := 1
	for i := range f {
		w := 2
		if i == 0 {
			w = yearWidth
		}
		v, err := formats.ParseInt(formats.Field(line, col, w))
		if err != nil {
			return navtime.CommonTime{}, err
		}
		f[i] = v
		col += w + 1
	}
	year := f[0]
	if yearWidth == 2 {
		year += 1900
		if year < 1980 {
			year += 100
		}
	}
	return navtime.FromCivil(year, f[1], f[2], f[3], f[4], float64(f[5]), navtime.GPS), nil
}

// splitValues cuts up to n seven-character fields.
func splitValues(s string, n int) []string {
	var out []string
	for i := 0; i < n && i*7 < len(s); i++ {
		out = append(out, formats.Field(s, i*7, 7))
	}
	return out
}

// At returns the weather at when, interpolating between the neighbouring
// observations or taking the nearest one within MaxGap.
func (m *MetReader) At(when navtime.CommonTime) (Weather, error) {
	if len(m.obs) == 0 {
		return Weather{}, ErrNoWeather
	}
	i := sort.Search(len(m.obs), func(i int) bool { return !m.obs[i].Time.Before(when) })
	if i < len(m.obs) && m.obs[i].Time.Equal(when) {
		return m.obs[i].Weather, nil
	}
	gap := func(o WxObservation) float64 {
		d, err := o.Time.Sub(when)
		if err != nil {
			return math.Inf(1)
		}
		return math.Abs(d)
	}
	switch {
	case i == 0:
		if gap(m.obs[0]) <= m.MaxGap {
			return m.obs[0].Weather, nil
		}
	case i == len(m.obs):
		if last := m.obs[i-1]; gap(last) <= m.MaxGap {
			return last.Weather, nil
		}
	default:
		a, b := m.obs[i-1], m.obs[i]
		span, err := b.Time.Sub(a.Time)
		if err == nil && span <= m.MaxGap {
			frac := gap(a) / span
			lerp := func(x, y float64) float64 { return x + frac*(y-x) }
			return Weather{
				Temperature: lerp(a.Temperature, b.Temperature),
				Pressure:    lerp(a.Pressure, b.Pressure),
				Humidity:    lerp(a.Humidity, b.Humidity),
			}, nil
		}
		if ga, gb := gap(a), gap(b); math.Min(ga, gb) <= m.MaxGap {
			if ga <= gb {
				return a.Weather, nil
			}
			return b.Weather, nil
		}
	}
	return Weather{}, fmt.Errorf("%w: none within %.0f s of %s", ErrNoWeather, m.MaxGap, when)
}
