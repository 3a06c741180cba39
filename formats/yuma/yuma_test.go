package yuma

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const (
	fullWeek = 2086
	toaSOW   = 405504.0
)

func entry(prn, health, week int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "******** Week %4d almanac for PRN-%02d ********\n", week, prn)
	fmt.Fprintf(&b, "ID:                         %02d\n", prn)
	fmt.Fprintf(&b, "Health:                     %03d\n", health)
	b.WriteString("Eccentricity:               0.5546569824E-002\n")
	fmt.Fprintf(&b, "Time of Applicability(s):  %.4f\n", toaSOW)
	b.WriteString("Orbital Inclination(rad):   0.9571480751\n")
	b.WriteString("Rate of Right Ascen(r/s):  -0.7817468486E-008\n")
	b.WriteString("SQRT(A)  (m 1/2):           5153.650391\n")
	fmt.Fprintf(&b, "Right Ascen at Week(rad):  %.10E\n", -0.2+0.1*float64(prn))
	b.WriteString("Argument of Perigee(rad):   0.817652245\n")
	fmt.Fprintf(&b, "Mean Anom(rad):            %.10E\n", 0.5*float64(prn))
	b.WriteString("Af0(s):                     0.1449584961E-003\n")
	b.WriteString("Af1(s/s):                   0.3637978807E-011\n")
	fmt.Fprintf(&b, "week:                       %4d\n", week)
	b.WriteString("\n")
	return b.String()
}

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "current.alm")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func gps(prn int) model.NavSatelliteID {
	return model.NewNavSatelliteID(model.NewSatID(prn, model.SystemGPS),
		model.BandL1, model.CodeCA, model.NavGPSLNAV)
}

func TestLoadTenBitWeek(t *testing.T) {
	path := write(t, entry(1, 0, fullWeek%1024)+entry(2, 63, fullWeek%1024))
	f := New(WithNearFullWeek(fullWeek))
	require.NoError(t, f.AddDataSource(context.Background(), path))

	require.Equal(t, 4, f.Size())
	require.Equal(t, 2, f.NumSatellites())
	toa := navtime.GPSWeekSecond(fullWeek, toaSOW, navtime.GPS)
	require.True(t, f.InitialTime().Equal(toa.Add(-70*3600)))
	require.True(t, f.FinalTime().Equal(toa.Add(74*3600)))

	nd, err := f.Find(model.NewNavMessageID(gps(1), model.MsgAlmanac), toa,
		model.HealthAny, model.ValidOnly, model.SearchUser)
	require.NoError(t, err)
	alm := nd.Payload.(*core.GPSLNavAlm)
	require.True(t, alm.Toe.Equal(toa))
	require.InDelta(t, 5153.650391*5153.650391, alm.A, 1e-3)
	require.InDelta(t, 0.9571480751, alm.I0, 1e-12)
	require.True(t, nd.XmitTime.Equal(nd.BeginFit))
}

func TestFullWeekPassesThrough(t *testing.T) {
	path := write(t, entry(5, 0, fullWeek))
	f := New()
	require.NoError(t, f.AddDataSource(context.Background(), path))
	toa := navtime.GPSWeekSecond(fullWeek, toaSOW, navtime.GPS)
	require.True(t, f.InitialTime().Equal(toa.Add(-70*3600)))
}

func TestLibraryHealthAndXvt(t *testing.T) {
	path := write(t, entry(1, 0, fullWeek%1024)+entry(2, 63, fullWeek%1024))
	f := New(WithNearFullWeek(fullWeek))
	require.NoError(t, f.AddDataSource(context.Background(), path))
	lib := core.NewNavLibrary()
	require.NoError(t, lib.AddFactory(f))

	when := navtime.GPSWeekSecond(fullWeek, toaSOW+3600, navtime.GPS)
	h, err := lib.Health(gps(1), when)
	require.NoError(t, err)
	require.Equal(t, model.HealthHealthy, h)
	h, err = lib.Health(gps(2), when)
	require.NoError(t, err)
	require.Equal(t, model.HealthUnhealthy, h)

	xvt, err := lib.Xvt(gps(1), when, core.UseAlmanac())
	require.NoError(t, err)
	require.InDelta(t, 26.56e6, xvt.X.Norm(), 0.2e6)

	// almanacs are not ephemerides
	_, err = lib.Xvt(gps(1), when)
	require.ErrorIs(t, err, core.ErrNavDataNotFound)

	// an unhealthy almanac is filtered when healthy transmitters are required
	_, err = lib.Xvt(gps(2), when, core.UseAlmanac(), core.XmitHealth(model.HealthHealthy))
	require.ErrorIs(t, err, core.ErrNavDataNotFound)
}

func TestTypeFilter(t *testing.T) {
	path := write(t, entry(1, 0, fullWeek))
	f := New()
	f.AddTypeFilter(model.MsgHealth)
	require.NoError(t, f.AddDataSource(context.Background(), path))
	require.Equal(t, 1, f.Size())
}

func TestMalformed(t *testing.T) {
	bad := strings.Replace(entry(1, 0, fullWeek), "Mean Anom(rad):", "Mean Anom(rad): x", 1)
	f := New()
	require.ErrorIs(t, f.AddDataSource(context.Background(), write(t, bad)), core.ErrSourceFormat)

	missing := strings.Replace(entry(1, 0, fullWeek), "Af1(s/s):                   0.3637978807E-011\n", "", 1)
	require.ErrorIs(t, f.AddDataSource(context.Background(), write(t, missing)), core.ErrSourceFormat)

	require.ErrorIs(t, f.AddDataSource(context.Background(), write(t, "\n\n")), core.ErrSourceFormat)
	require.Zero(t, f.Size())
}

func TestSniffAndProcess(t *testing.T) {
	content := entry(1, 0, fullWeek) + entry(2, 0, fullWeek) + entry(3, 0, fullWeek)
	f := New()
	require.True(t, f.Sniff([]byte(content)))
	require.False(t, f.Sniff([]byte("#cP2020  1  1")))

	var got []*core.NavData
	err := f.Process(context.Background(), write(t, content), core.CallbackFunc(func(nd *core.NavData) bool {
		got = append(got, nd)
		return len(got) < 3
	}))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Zero(t, f.Size())
}

func TestFullGPSWeek(t *testing.T) {
	require.Equal(t, 2086, formats.FullGPSWeek(38, 2086))
	require.Equal(t, 2047, formats.FullGPSWeek(1023, 2050))
	require.Equal(t, 2049, formats.FullGPSWeek(1, 2045))
	require.Equal(t, 2086, formats.FullGPSWeek(2086, 0))
	require.Equal(t, 2086, formats.FullGPSWeek(2086, 2086))
}
