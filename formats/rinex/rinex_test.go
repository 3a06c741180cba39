package rinex

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const testWeek = 2086 // 2020-01-01 is Wednesday of GPS week 2086

func hdr(content, label string) string {
	return fmt.Sprintf("%-60s%s\n", content, label)
}

func d19(vals ...float64) string {
	var b strings.Builder
	for _, v := range vals {
		fmt.Fprintf(&b, "%19.12E", v)
	}
	return b.String()
}

// orbitLines renders the seven broadcast orbit lines with the given indent.
func orbitLines(indent string, o [28]float64) string {
	var b strings.Builder
	for l := 0; l < 7; l++ {
		b.WriteString(indent + d19(o[4*l:4*l+4]...) + "\n")
	}
	return b.String()
}

// keplerValues fills the orbit values shared by the test records.
func keplerValues(toe, week, xmit, health, fit float64) [28]float64 {
	var o [28]float64
	o[0] = 10      // IODE
	o[1] = -20.5   // Crs
	o[2] = 4.5e-9  // Dn
	o[3] = 0.5     // M0
	o[5] = 0.01    // e
	o[7] = 5153.6  // sqrt A
	o[8] = toe     // Toe
	o[10] = 1.2    // OMEGA0
	o[12] = 0.96   // i0
	o[14] = 0.7    // w
	o[15] = -8e-9  // OMEGA dot
	o[18] = week   // week
	o[20] = 2.0    // accuracy
	o[21] = health // health
	o[22] = -1.1e-8
	o[23] = 10
	o[24] = xmit
	o[25] = fit
	return o
}

func v3Record(sat string, epoch [6]int, clk [3]float64, o [28]float64) string {
	line := fmt.Sprintf("%s %04d %02d %02d %02d %02d %02d%s\n", sat,
		epoch[0], epoch[1], epoch[2], epoch[3], epoch[4], epoch[5], d19(clk[:]...))
	return line + orbitLines("    ", o)
}

func v3Fixture() string {
	var b strings.Builder
	b.WriteString(hdr(fmt.Sprintf("%9.2f%11s%-20s%-20s", 3.04, "", "N: GNSS NAV DATA", "M: MIXED"), labelVersion))
	b.WriteString(hdr("gnss-nav-engine test", "PGM / RUN BY / DATE"))
	b.WriteString(hdr(fmt.Sprintf("%-4s %12.4E%12.4E%12.4E%12.4E", "GPSA", 1.1176e-8, 1.4901e-8, -5.9605e-8, -1.1921e-7), labelIonCorr))
	b.WriteString(hdr(fmt.Sprintf("%-4s %12.4E%12.4E%12.4E%12.4E", "GPSB", 9.0112e4, 1.1469e5, -6.5536e4, -5.2429e5), labelIonCorr))
	b.WriteString(hdr(fmt.Sprintf("%-4s %12.4E%12.4E%12.4E", "GAL", 2.8e1, 0.5, 0.01), labelIonCorr))
	b.WriteString(hdr(fmt.Sprintf("%-4s %17.10E%16.9E%7d%5d", "GPUT", 9.3132257462e-10, 1.776356839e-15, 233472, 2086), labelTimeCorr))
	b.WriteString(hdr(fmt.Sprintf("%-4s %17.10E%16.9E%7d%5d", "GAUT", -1.8626451492e-9, 0.0, 259200, 2086), labelTimeCorr))
	b.WriteString(hdr(fmt.Sprintf("%-4s %17.10E%16.9E%7d%5d", "SBUT", 0.0, 0.0, 0, 0), labelTimeCorr))
	b.WriteString(hdr(fmt.Sprintf("%6d%6d%6d%6d", 18, 18, 2185, 7), labelLeap))
	b.WriteString(hdr("", labelEnd))

	// GPS with a Toe two hours after transmission.
	b.WriteString(v3Record("G01", [6]int{2020, 1, 1, 2, 0, 0}, [3]float64{1e-4, 1e-12, 0},
		keplerValues(266400, testWeek, 259200, 0, 4)))
	// GPS with Toc and HOW both at midnight.
	b.WriteString(v3Record("G02", [6]int{2020, 1, 2, 0, 0, 0}, [3]float64{-2e-5, 0, 0},
		keplerValues(345600, testWeek, 345600, 0, 4)))
	// GLONASS has only three orbit lines and is skipped.
	b.WriteString(fmt.Sprintf("R01 2020 01 01 00 15 00%s\n", d19(1e-5, 0, 0)))
	for i := 0; i < 3; i++ {
		b.WriteString("    " + d19(1, 2, 3, 4) + "\n")
	}
	// Galileo I/NAV E1B, healthy.
	gal := keplerValues(259800, testWeek, 259000, 0, 0)
	gal[17] = 517
	gal[20] = 3.12
	gal[22], gal[23] = 1.5e-9, 1.7e-9
	b.WriteString(v3Record("E11", [6]int{2020, 1, 1, 0, 10, 0}, [3]float64{3e-4, 1e-12, 0}, gal))
	// BeiDou IGSO.
	bds := keplerValues(259200, testWeek-1356, 259000, 0, 1)
	b.WriteString(v3Record("C06", [6]int{2020, 1, 1, 0, 0, 0}, [3]float64{2e-4, 0, 0}, bds))
	return b.String()
}

func v2Fixture() string {
	var b strings.Builder
	b.WriteString(hdr(fmt.Sprintf("%9.2f%11s%-20s%-20s", 2.10, "", "N: GPS NAV DATA", ""), labelVersion))
	b.WriteString(hdr(fmt.Sprintf("  %12.4E%12.4E%12.4E%12.4E", 1.1176e-8, 0.0, 0.0, 0.0), labelIonAlpha))
	b.WriteString(hdr(fmt.Sprintf("  %12.4E%12.4E%12.4E%12.4E", 9.0112e4, 0.0, 0.0, 0.0), labelIonBeta))
	b.WriteString(hdr(fmt.Sprintf("   %19.12E%19.12E%9d%9d", 1e-9, 0.0, 233472, 2086), labelDeltaUTC))
	b.WriteString(hdr(fmt.Sprintf("%6d", 18), labelLeap))
	b.WriteString(hdr("", labelEnd))
	o := keplerValues(266400, testWeek, 259200, 0x3f, 4)
	b.WriteString(fmt.Sprintf("%2d %02d %2d %2d %2d %2d%5.1f%s\n", 5, 20, 1, 1, 2, 0, 0.0, d19(1e-4, 0, 0)))
	b.WriteString(orbitLines("   ", o))
	return b.String()
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func gpsAt(sow float64) navtime.CommonTime {
	return navtime.GPSWeekSecond(testWeek, sow, navtime.GPS)
}

func ephID(sig model.NavSignalID, sat model.SatID) model.NavMessageID {
	return model.NewNavMessageID(model.NavSatelliteID{NavSignalID: sig, Sat: sat, XmitSat: sat}, model.MsgEphemeris)
}

func find(t *testing.T, f *Factory, id model.NavMessageID, when navtime.CommonTime) *core.NavData {
	t.Helper()
	nd, err := f.Find(id, when, model.HealthAny, model.ValidOnly, model.SearchUser)
	require.NoError(t, err)
	return nd
}

func TestLoadRinex3(t *testing.T) {
	f := New()
	require.NoError(t, f.AddDataSource(context.Background(), writeFixture(t, "mixed.rnx", v3Fixture())))

	// 2 GPS x (eph, health, isc) + Galileo eph and 3 health + BeiDou eph
	// + 2 offsets + iono and its health record.
	require.Equal(t, 15, f.Size())

	g01 := find(t, f, ephID(sigGPS, model.NewSatID(1, model.SystemGPS)), gpsAt(262000))
	eph := g01.Payload.(*core.GPSLNavEph)
	require.True(t, g01.TimeStamp.Equal(gpsAt(259200)))
	require.True(t, eph.Toe.Equal(gpsAt(266400)))
	require.InDelta(t, 5153.6*5153.6, eph.A, 1e-6)
	require.Equal(t, uint8(0), eph.FitIntFlag)
	require.Equal(t, uint8(0), eph.URAIndex)
	require.True(t, eph.AntiSpoof)
	require.True(t, eph.Xmit2.IsZero())
	require.Equal(t, model.HealthHealthy, g01.Health)
	require.True(t, g01.BeginFit.Equal(gpsAt(259200)))
	require.True(t, g01.EndFit.Equal(gpsAt(273600)))

	// HOW at midnight moves back 30 s; the time stamp keeps the raw value.
	g02 := find(t, f, ephID(sigGPS, model.NewSatID(2, model.SystemGPS)), gpsAt(346000))
	require.True(t, g02.TimeStamp.Equal(gpsAt(345600)))
	require.True(t, g02.XmitTime.Equal(gpsAt(345570)))

	e11 := find(t, f, ephID(sigGalE1B, model.NewSatID(11, model.SystemGalileo)), gpsAt(260000))
	gal := e11.Payload.(*core.GalINavEph)
	require.Equal(t, navtime.GAL, e11.TimeStamp.System())
	require.Equal(t, uint8(107), gal.SISAIndex)
	require.Equal(t, 1.5e-9, gal.BGDE5aE1)
	require.True(t, gal.Xmit5.Equal(e11.XmitTime.Add(8)))
	require.Equal(t, model.HealthHealthy, e11.Health)

	for _, sig := range []model.NavSignalID{sigGalE1B, sigGalE5a, sigGalE5b} {
		id := ephID(sig, model.NewSatID(11, model.SystemGalileo))
		id.MessageType = model.MsgHealth
		require.True(t, f.IsPresent(id, navtime.BeginningOfTime, navtime.EndOfTime), sig.String())
	}

	c06, err := f.Find(ephID(sigBDSD1, model.NewSatID(6, model.SystemBeiDou)),
		navtime.BDSWeekSecond(testWeek-1356, 260000), model.HealthAny, model.ValidOnly, model.SearchUser)
	require.NoError(t, err)
	require.Equal(t, uint8(1), c06.Payload.(*core.BDSD1NavEph).AODC)

	_, err = f.Find(ephID(model.AnySignalFor(model.NewSatID(1, model.SystemGlonass)).NavSignalID,
		model.NewSatID(1, model.SystemGlonass)), gpsAt(262000), model.HealthAny, model.ValidOnly, model.SearchUser)
	require.ErrorIs(t, err, core.ErrNavDataNotFound)
}

func TestRinex3HeaderRecords(t *testing.T) {
	f := New()
	require.NoError(t, f.AddDataSource(context.Background(), writeFixture(t, "mixed.rnx", v3Fixture())))

	off, err := f.Offset(navtime.GPS, navtime.UTC, gpsAt(233472), model.HealthAny, model.ValidOnly)
	require.NoError(t, err)
	require.InDelta(t, 18+9.3132257462e-10, off, 1e-12)

	off, err = f.Offset(navtime.UTC, navtime.GAL, gpsAt(259200).WithSystem(navtime.UTC), model.HealthAny, model.ValidOnly)
	require.NoError(t, err)
	require.InDelta(t, -(18 - 1.8626451492e-9), off, 1e-12)

	// Iono comes with a healthy PRN 0 so transmitter health filters pass.
	sat0 := model.NewSatID(0, model.SystemGPS)
	ionoID := model.NewNavMessageID(model.NavSatelliteID{NavSignalID: sigGPS, Sat: sat0, XmitSat: sat0}, model.MsgIono)
	nd, err := f.Find(ionoID, gpsAt(270000), model.HealthHealthy, model.ValidOnly, model.SearchUser)
	require.NoError(t, err)
	k := nd.Payload.(*core.KlobucharIono)
	require.Equal(t, 9.0112e4, k.Beta[0])
	require.True(t, nd.TimeStamp.Equal(gpsAt(259200+7200)), "stamped at the first record epoch")
}

func TestLoadRinex2(t *testing.T) {
	f := New()
	require.NoError(t, f.AddDataSource(context.Background(), writeFixture(t, "brdc0010.20n", v2Fixture())))
	require.Equal(t, 3+1+2, f.Size())

	id := ephID(sigGPS, model.NewSatID(5, model.SystemGPS))
	nd := find(t, f, id, gpsAt(262000))
	require.Equal(t, model.HealthUnhealthy, nd.Health)
	require.Equal(t, uint8(0x3f), nd.Payload.(*core.GPSLNavEph).HealthBits)

	_, err := f.Find(id, gpsAt(262000), model.HealthHealthy, model.ValidOnly, model.SearchUser)
	require.ErrorIs(t, err, core.ErrNavDataNotFound)

	off, err := f.Offset(navtime.GPS, navtime.UTC, gpsAt(233472), model.HealthAny, model.ValidOnly)
	require.NoError(t, err)
	require.InDelta(t, 18+1e-9, off, 1e-12)
}

func TestGzipSource(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(v2Fixture()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f := New()
	require.NoError(t, f.AddDataSource(context.Background(), writeFixture(t, "brdc0010.20n.gz", buf.String())))
	require.Equal(t, 6, f.Size())
}

func TestMalformedSourceLeavesStoreUnchanged(t *testing.T) {
	f := New()
	ctx := context.Background()
	require.NoError(t, f.AddDataSource(ctx, writeFixture(t, "good.rnx", v2Fixture())))

	broken := strings.Replace(v3Fixture(), "E11 2020 01 01 00 10 00", "E11 2020 01 01 00 1x 00", 1)
	err := f.AddDataSource(ctx, writeFixture(t, "broken.rnx", broken))
	require.ErrorIs(t, err, core.ErrSourceFormat)
	require.Equal(t, 6, f.Size())

	lines := strings.SplitAfter(v3Fixture(), "\n")
	truncated := strings.Join(lines[:len(lines)-3], "")
	require.ErrorIs(t, f.AddDataSource(ctx, writeFixture(t, "short.rnx", truncated)), core.ErrSourceFormat)
	require.Equal(t, 6, f.Size())

	require.ErrorIs(t, f.AddDataSource(ctx, filepath.Join(t.TempDir(), "missing.rnx")), core.ErrSourceUnreadable)
	require.ErrorIs(t, f.AddDataSource(ctx, writeFixture(t, "obs.rnx",
		hdr(fmt.Sprintf("%9.2f%11s%-20s%-20s", 3.04, "", "O: OBSERVATION DATA", "G"), labelVersion))), core.ErrSourceFormat)
}

func TestEditClearAndReload(t *testing.T) {
	f := New()
	ctx := context.Background()
	src := writeFixture(t, "mixed.rnx", v3Fixture())
	require.NoError(t, f.AddDataSource(ctx, src))

	f.Edit(gpsAt(300000), navtime.EndOfTime)
	require.Equal(t, 12, f.Size(), "records stamped before 300000 survive")

	f.Clear()
	require.Zero(t, f.Size())
	require.NoError(t, f.AddDataSource(ctx, src))
	require.Equal(t, 15, f.Size())
}

func TestProcessStopsEarly(t *testing.T) {
	f := New()
	src := writeFixture(t, "mixed.rnx", v3Fixture())
	var seen []*core.NavData
	err := f.Process(context.Background(), src, core.CallbackFunc(func(nd *core.NavData) bool {
		seen = append(seen, nd)
		return len(seen) < 4
	}))
	require.NoError(t, err)
	require.Len(t, seen, 4)
	require.Zero(t, f.Size())

	// type filters apply to Process too
	f.SetTypeFilter(model.MsgEphemeris)
	seen = seen[:0]
	require.NoError(t, f.Process(context.Background(), src, core.CallbackFunc(func(nd *core.NavData) bool {
		seen = append(seen, nd)
		return true
	})))
	require.Len(t, seen, 4)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New()
	err := f.AddDataSource(ctx, writeFixture(t, "mixed.rnx", v3Fixture()))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.Size())
}

func TestSniff(t *testing.T) {
	f := New()
	require.True(t, f.Sniff([]byte(v3Fixture())))
	require.True(t, f.Sniff([]byte(v2Fixture())))
	require.False(t, f.Sniff([]byte("#dP2020  1  1  0  0  0.00000000      96 ORBIT IGS14 HLM  IGS\n")))
}

func TestAccuracyIndexes(t *testing.T) {
	require.Equal(t, uint8(0), accuracyToURA(2.0))
	require.Equal(t, uint8(6), accuracyToURA(24))
	require.Equal(t, uint8(15), accuracyToURA(7000))
	require.Equal(t, uint8(50), decodeSISA(0.5))
	require.Equal(t, uint8(75), decodeSISA(1.0))
	require.Equal(t, core.GalSISANAPA, decodeSISA(-1))
	require.Equal(t, core.GalSISANAPA, decodeSISA(6.5))
}
