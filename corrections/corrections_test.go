package corrections

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

type constCorr struct {
	t     CorrectorType
	v     float64
	err   error
	calls int
}

func (c *constCorr) Type() CorrectorType { return c.t }

func (c *constCorr) GetCorr(model.Position, model.Position, model.SatID, model.NavSignalID, navtime.CommonTime) (float64, error) {
	c.calls++
	return c.v, c.err
}

// memFactory serves records added directly to its store.
type memFactory struct {
	*core.Store
}

func (memFactory) AddDataSource(context.Context, string) error { return errors.New("in memory") }

func (memFactory) Process(context.Context, string, core.NavDataCallback) error {
	return errors.New("in memory")
}

var (
	sigL1 = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandL1, Code: model.CodeCA, Nav: model.NavGPSLNAV}
	sigL2 = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandL2, Code: model.CodeY, Nav: model.NavGPSLNAV}
	sigL5 = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandL5, Code: model.CodeAny, Nav: model.NavGPSLNAV}

	prn2   = model.NewSatID(2, model.SystemGPS)
	stamp  = navtime.FromCivil(2015, 7, 19, 2, 0, 0, navtime.GPS)
	when   = navtime.FromCivil(2015, 7, 19, 4, 30, 0, navtime.GPS)
	stnPos = model.NewPosition(-740290.01, -5457071.705, 3207245.599)
	svPos  = model.NewPosition(-16208820.579, -207275.833, 21038422.516)

	klob = &core.KlobucharIono{
		Alpha: [4]float64{1.0245e-8, 7.4506e-9, -5.9605e-8, -5.9605e-8},
		Beta:  [4]float64{90112, 0, -196610, -65536},
	}
)

const tgd = 5e-9

func library(t *testing.T) *core.NavLibrary {
	t.Helper()
	store := core.NewStore("memory", []model.NavSignalID{sigL1})
	key := model.NewNavSatelliteID(prn2, model.BandL1, model.CodeCA, model.NavGPSLNAV)
	require.NoError(t, store.Add(&core.NavData{
		ID:        model.NewNavMessageID(key, model.MsgISC),
		TimeStamp: stamp,
		XmitTime:  stamp,
		Payload:   &core.GPSLNavISC{Pre: 0x8b, ISC: tgd},
	}))
	sat0 := model.NewNavSatelliteID(model.NewSatID(0, model.SystemGPS), model.BandL1, model.CodeCA, model.NavGPSLNAV)
	require.NoError(t, store.Add(&core.NavData{
		ID:        model.NewNavMessageID(sat0, model.MsgIono),
		TimeStamp: stamp,
		XmitTime:  stamp,
		Payload:   klob,
	}))
	lib := core.NewNavLibrary()
	require.NoError(t, lib.AddFactory(memFactory{Store: store}))
	return lib
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSumDupHandling(t *testing.T) {
	isc1 := &constCorr{t: CorrISC, v: 2}
	isc2 := &constCorr{t: CorrISC, v: 4}
	trop := &constCorr{t: CorrTrop, v: 10}
	iono := &constCorr{t: CorrIono, v: 20}

	var res CorrectionResults
	sum, err := res.Sum(ComputeFirst)
	require.NoError(t, err)
	require.True(t, math.IsNaN(sum))

	for _, c := range []*constCorr{isc1, isc2, trop, iono} {
		res.Add(CorrectionResult{Value: c.v, Source: c})
	}
	require.Len(t, res.Results(), 4)

	for dups, want := range map[CorrDupHandling]float64{
		ComputeFirst: 32,
		UseFirst:     32,
		ComputeLast:  34,
	} {
		got, err := res.Sum(dups)
		require.NoError(t, err, dups.String())
		require.Equal(t, want, got, dups.String())
	}

	_, err = res.Sum(DupUnknown)
	require.ErrorIs(t, err, ErrInvalidDupHandling)

	res.Clear()
	require.Empty(t, res.Results())
	_, err = res.Sum(CorrDupHandling(42))
	require.ErrorIs(t, err, ErrInvalidDupHandling)
}

func TestParseCorrDupHandling(t *testing.T) {
	d, err := ParseCorrDupHandling("computelast")
	require.NoError(t, err)
	require.Equal(t, ComputeLast, d)
	d, err = ParseCorrDupHandling("use_first")
	require.NoError(t, err)
	require.Equal(t, UseFirst, d)
	_, err = ParseCorrDupHandling("Unknown")
	require.ErrorIs(t, err, ErrInvalidDupHandling)
	require.Equal(t, "ISC", CorrISC.String())
}

func TestGroupPathComputeFirstSkipsDuplicates(t *testing.T) {
	isc1 := &constCorr{t: CorrISC, v: 2}
	isc2 := &constCorr{t: CorrISC, v: 4}
	trop := &constCorr{t: CorrTrop, v: 10}
	g := GroupPathCorr{Calcs: []GroupPathCorrector{isc1, isc2, trop}}

	sum, err := g.GetCorrSum(stnPos, svPos, prn2, sigL1, when, ComputeFirst)
	require.NoError(t, err)
	require.Equal(t, 12.0, sum)
	require.Zero(t, isc2.calls)

	sum, err = g.GetCorrSum(stnPos, svPos, prn2, sigL1, when, UseFirst)
	require.NoError(t, err)
	require.Equal(t, 12.0, sum)
	require.Equal(t, 1, isc2.calls)

	sum, err = g.GetCorrSum(stnPos, svPos, prn2, sigL1, when, ComputeLast)
	require.NoError(t, err)
	require.Equal(t, 14.0, sum)
}

func TestGroupPathFailures(t *testing.T) {
	bad := &constCorr{t: CorrISC, err: errors.New("no data")}
	isc := &constCorr{t: CorrISC, v: 4}
	trop := &constCorr{t: CorrTrop, v: 10}
	g := GroupPathCorr{Calcs: []GroupPathCorrector{bad, isc, trop}}

	// a failed corrector does not count as seen, so the second ISC runs
	res, err := g.GetCorr(stnPos, svPos, prn2, sigL1, when, ComputeFirst)
	require.ErrorIs(t, err, ErrCorrectorFailed)
	require.Len(t, res.Results(), 2)
	sum, _ := res.Sum(ComputeFirst)
	require.Equal(t, 14.0, sum)

	g.AbortOnError = true
	res, err = g.GetCorr(stnPos, svPos, prn2, sigL1, when, ComputeFirst)
	require.ErrorIs(t, err, ErrCorrectorFailed)
	require.Empty(t, res.Results())
	sum, err = g.GetCorrSum(stnPos, svPos, prn2, sigL1, when, ComputeFirst)
	require.ErrorIs(t, err, ErrCorrectorFailed)
	require.True(t, math.IsNaN(sum))
}

func TestBroadcastISC(t *testing.T) {
	c := NewBCISCorrector(library(t))
	require.Equal(t, CorrISC, c.Type())

	v, err := c.GetCorr(stnPos, svPos, prn2, sigL1, when)
	require.NoError(t, err)
	require.InDelta(t, tgd*core.SpeedOfLight, v, 1e-9)

	v, err = c.GetCorr(stnPos, svPos, prn2, sigL2, when)
	require.NoError(t, err)
	require.InDelta(t, gammaL1L2*tgd*core.SpeedOfLight, v, 1e-9)

	_, err = c.GetCorr(stnPos, svPos, prn2, sigL5, when)
	require.ErrorIs(t, err, ErrCorrectorFailed)

	_, err = c.GetCorr(stnPos, svPos, model.NewSatID(3, model.SystemGPS), sigL1, when)
	require.ErrorIs(t, err, ErrCorrectorFailed)
	require.ErrorIs(t, err, core.ErrNavDataNotFound)
}

func TestBroadcastIono(t *testing.T) {
	c := NewBCIonoCorrector(library(t))
	require.Equal(t, CorrIono, c.Type())

	l1, err := GetCorrXvt(c, stnPos, model.Xvt{X: svPos.Vec3}, prn2, sigL1, when)
	require.NoError(t, err)
	require.InDelta(t, klob.Correction(when, stnPos, svPos, model.BandL1), l1, 1e-12)
	require.Greater(t, l1, 1.0)
	require.Less(t, l1, 30.0)

	l2, err := c.GetCorr(stnPos, svPos, prn2, sigL2, when)
	require.NoError(t, err)
	require.InDelta(t, l1*gammaL1L2, l2, 1e-9)

	_, err = c.GetCorr(stnPos, svPos, model.NewSatID(11, model.SystemGalileo), sigL1, when)
	require.ErrorIs(t, err, ErrCorrectorFailed)
}

func TestTropModelsAtZenith(t *testing.T) {
	site := Site{LatDeg: 45, Height: 0, DOY: 28}
	wx := &Weather{Temperature: 20, Pressure: 1013.25, Humidity: 50}

	for _, tc := range []struct {
		m    TropModel
		want float64
	}{
		{SimpleTropModel{}, 2.4348},
		{SaasTropModel{}, 2.4223},
		{GlobalTropModel{}, 2.4223},
	} {
		v, err := tc.m.Correction(90, site, wx)
		require.NoError(t, err, tc.m.Name())
		require.InDelta(t, tc.want, v, 0.003, tc.m.Name())

		low, err := tc.m.Correction(10, site, wx)
		require.NoError(t, err, tc.m.Name())
		require.Greater(t, low, 4*v, tc.m.Name())

		below, err := tc.m.Correction(-1, site, wx)
		require.NoError(t, err, tc.m.Name())
		require.Zero(t, below, tc.m.Name())

		_, err = tc.m.Correction(90, site, nil)
		require.ErrorIs(t, err, ErrNoWeather, tc.m.Name())
	}

	// NB falls back to its climatology
	v, err := NBTropModel{}.Correction(90, site, nil)
	require.NoError(t, err)
	require.InDelta(t, 2.379, v, 0.01)
	high, err := NBTropModel{}.Correction(90, Site{LatDeg: 45, Height: 2000, DOY: 28}, nil)
	require.NoError(t, err)
	require.Less(t, high, v)

	v, err = ZeroTropModel{}.Correction(5, site, nil)
	require.NoError(t, err)
	require.Zero(t, v)

	_, err = SaasTropModel{}.Correction(30, site, &Weather{Temperature: 20, Pressure: 1013, Humidity: 120})
	require.Error(t, err)
}

func TestTropCorrectorWeatherSources(t *testing.T) {
	rx := model.FromGeodetic(45, 0, 0)
	overhead := model.FromGeodetic(45, 0, 20000e3)
	at := navtime.FromYDS(2020, 28, 0, navtime.GPS)

	saas := NewTropCorrector(SaasTropModel{})
	require.Equal(t, CorrTrop, saas.Type())
	_, err := saas.GetCorr(rx, overhead, prn2, sigL1, at)
	require.ErrorIs(t, err, ErrCorrectorFailed)
	require.ErrorIs(t, err, ErrNoWeather)

	saas.SetDefaultWeather(Weather{Temperature: 20, Pressure: 1013.25, Humidity: 50})
	v, err := saas.GetCorr(rx, overhead, prn2, sigL1, at)
	require.NoError(t, err)
	require.InDelta(t, 2.4223, v, 0.003)

	nb := NewTropCorrector(NBTropModel{})
	v, err = nb.GetCorr(rx, overhead, prn2, sigL1, at)
	require.NoError(t, err)
	require.InDelta(t, 2.379, v, 0.01)
}

func metLine(body, label string) string {
	return fmt.Sprintf("%-60s%s\n", body, label)
}

func metFixture(version string, epochs []string) string {
	var b strings.Builder
	b.WriteString(metLine(fmt.Sprintf("%9s           METEOROLOGICAL DATA", version), "RINEX VERSION / TYPE"))
	b.WriteString(metLine("     3    PR    TD    HR", "# / TYPES OF OBSERV"))
	b.WriteString(metLine("", "END OF HEADER"))
	for _, e := range epochs {
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}

func TestMetReaderV2(t *testing.T) {
	path := writeFile(t, "arlm2000.15m", metFixture("2.11", []string{
		" 15  7 19  4 15  0 1013.0   20.0   50.0",
		" 15  7 19  4 30  0 1015.0   22.0   60.0",
	}))
	m := NewMetReader()
	require.NoError(t, m.Read(context.Background(), path))
	require.Equal(t, 2, m.Len())

	w, err := m.At(when)
	require.NoError(t, err)
	require.Equal(t, Weather{Temperature: 22, Pressure: 1015, Humidity: 60}, w)

	w, err = m.At(when.Add(-450))
	require.NoError(t, err)
	require.InDelta(t, 1014.0, w.Pressure, 1e-9)
	require.InDelta(t, 21.0, w.Temperature, 1e-9)
	require.InDelta(t, 55.0, w.Humidity, 1e-9)

	w, err = m.At(when.Add(1800))
	require.NoError(t, err)
	require.Equal(t, 1015.0, w.Pressure)

	_, err = m.At(when.Add(3 * 3600))
	require.ErrorIs(t, err, ErrNoWeather)
}

func TestMetReaderV3AndErrors(t *testing.T) {
	m := NewMetReader()
	path := writeFile(t, "site.rnx", metFixture("3.04", []string{
		" 2015 07 19 04 30 00 1009.5   18.0   70.0",
	}))
	require.NoError(t, m.Read(context.Background(), path))
	w, err := m.At(when)
	require.NoError(t, err)
	require.Equal(t, 1009.5, w.Pressure)

	noHR := metLine("     2.11           METEOROLOGICAL DATA", "RINEX VERSION / TYPE") +
		metLine("     2    PR    TD", "# / TYPES OF OBSERV") +
		metLine("", "END OF HEADER") +
		" 15  7 19  4 15  0 1013.0   20.0\n"
	err = NewMetReader().Read(context.Background(), writeFile(t, "nohr.15m", noHR))
	require.ErrorIs(t, err, core.ErrSourceFormat)

	err = NewMetReader().Read(context.Background(), writeFile(t, "nav.15n",
		metLine("     2.11           N: GPS NAV DATA", "RINEX VERSION / TYPE")))
	require.ErrorIs(t, err, core.ErrSourceFormat)
}

func TestInitialisers(t *testing.T) {
	ctx := context.Background()
	lib := library(t)

	var g GroupPathCorr
	require.NoError(t, g.Init(lib))
	require.Len(t, g.Calcs, 2)
	require.Error(t, new(GroupPathCorr).Init(nil))

	var nb GroupPathCorr
	require.NoError(t, nb.InitNB(ctx, lib, ""))
	require.Len(t, nb.Calcs, 3)

	met := writeFile(t, "arlm2000.15m", metFixture("2.11", []string{
		" 15  7 19  4 30  0 1013.0   20.0   50.0",
	}))
	var global GroupPathCorr
	require.NoError(t, global.InitGlobal(ctx, lib, met))
	require.Len(t, global.Calcs, 3)
	require.Error(t, new(GroupPathCorr).InitGlobal(ctx, lib, filepath.Join(t.TempDir(), "missing.15m")))

	res, err := global.GetCorr(stnPos, svPos, prn2, sigL1, when, ComputeFirst)
	require.NoError(t, err)
	require.Len(t, res.Results(), 3)
	want := 0.0
	for _, r := range res.Results() {
		require.Greater(t, r.Value, 0.0, r.Source.Type().String())
		want += r.Value
	}
	sum, err := res.Sum(ComputeFirst)
	require.NoError(t, err)
	require.InDelta(t, want, sum, 1e-9)

	// without weather the global model fails but the broadcast terms remain
	var dry GroupPathCorr
	require.NoError(t, dry.InitGlobal(ctx, lib, ""))
	sum, err = dry.GetCorrSum(stnPos, svPos, prn2, sigL1, when, ComputeFirst)
	require.ErrorIs(t, err, ErrNoWeather)
	require.False(t, math.IsNaN(sum))
}
