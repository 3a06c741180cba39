package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

func TestLNavFixFitNominal(t *testing.T) {
	nd := lnavEph(1, gpsAt(7230), gpsAt(14400))
	if !nd.BeginFit.Equal(gpsAt(7200)) {
		t.Fatalf("BeginFit = %s, want start of the two hour block", nd.BeginFit)
	}
	if !nd.EndFit.Equal(gpsAt(14400 + 7200)) {
		t.Fatalf("EndFit = %s", nd.EndFit)
	}
	orb := orbitOf(nd.Payload)
	if nd.BeginFit.After(orb.Toe) || !orb.Toe.Before(nd.EndFit) {
		t.Fatalf("Toe %s outside fit [%s, %s)", orb.Toe, nd.BeginFit, nd.EndFit)
	}
}

func TestLNavFixFitUploadCutover(t *testing.T) {
	nd := lnavEph(1, gpsAt(7230), gpsAt(14416))
	if !nd.BeginFit.Equal(gpsAt(7230)) {
		t.Fatalf("offset Toe should keep the transmit time, got %s", nd.BeginFit)
	}
	if !nd.EndFit.Equal(gpsAt(22500)) {
		t.Fatalf("EndFit = %s, want Toe+2h rounded to the next 900 s", nd.EndFit)
	}
}

func TestLNavFitIntervalFlag(t *testing.T) {
	nd := lnavEph(1, gpsAt(0), gpsAt(7200))
	eph := nd.Payload.(*GPSLNavEph)
	eph.FitIntFlag, eph.IODC = 1, 240
	nd.FixFit()
	if !nd.EndFit.Equal(gpsAt(7200 + 4*3600)) {
		t.Fatalf("8 hour fit EndFit = %s", nd.EndFit)
	}
}

func TestUserTime(t *testing.T) {
	nd := lnavEph(1, gpsAt(0), gpsAt(7200))
	eph := nd.Payload.(*GPSLNavEph)
	eph.Xmit2, eph.Xmit3 = gpsAt(6), gpsAt(12)
	if got := nd.UserTime(); !got.Equal(gpsAt(18)) {
		t.Fatalf("LNAV user time = %s", got)
	}

	gal := &NavData{
		ID:        model.NewNavMessageID(model.NavSatelliteID{}, model.MsgEphemeris),
		TimeStamp: gpsAt(100),
		XmitTime:  gpsAt(100),
		Payload:   &GalINavEph{Xmit3: gpsAt(104)},
	}
	// pages 4 and 5 are missing and each add 2 s after page 3, then one
	// more page.
	if got := gal.UserTime(); !got.Equal(gpsAt(104 + 2 + 2 + 2)) {
		t.Fatalf("I/NAV user time = %s", got)
	}

	cnav := &NavData{
		ID:       model.NewNavMessageID(model.NavSatelliteID{NavSignalID: model.NavSignalID{Nav: model.NavGPSCNAVL2}}, model.MsgEphemeris),
		XmitTime: gpsAt(0),
		Payload:  &GPSCNavEph{Xmit11: gpsAt(12), XmitClk: gpsAt(24)},
	}
	if got := cnav.UserTime(); !got.Equal(gpsAt(36)) {
		t.Fatalf("CNAV L2 user time = %s", got)
	}
}

func TestValidatePreambles(t *testing.T) {
	nd := lnavEph(1, gpsAt(0), gpsAt(7200))
	if !nd.Validate() {
		t.Fatalf("good ephemeris failed validation")
	}
	nd.Payload.(*GPSLNavEph).Pre2 = 0x22
	if nd.Validate() {
		t.Fatalf("bad preamble passed validation")
	}
	h := lnavHealth(sigL1CA, 1, gpsAt(0), 0)
	h.Payload.(*GPSLNavHealth).Pre = 0x8c
	if h.Validate() {
		t.Fatalf("bad health preamble passed validation")
	}
}

func TestHealthStatus(t *testing.T) {
	if got := lnavHealth(sigL1CA, 1, gpsAt(0), 0).HealthStatus(); got != model.HealthHealthy {
		t.Fatalf("zero bits = %s", got)
	}
	if got := lnavHealth(sigL1CA, 1, gpsAt(0), 0x3f).HealthStatus(); got != model.HealthUnhealthy {
		t.Fatalf("0x3f = %s", got)
	}
	cases := []struct {
		hs, dvs, sisa uint8
		want          model.SVHealth
	}{
		{GalHealthOK, 0, 107, model.HealthHealthy},
		{GalHealthOK, 0, GalSISANAPA, model.HealthDegraded},
		{GalHealthOK, 1, 107, model.HealthDegraded},
		{GalHealthWillBeOOS, 0, 107, model.HealthDegraded},
		{GalHealthOutOfService, 0, 107, model.HealthUnhealthy},
		{GalHealthInTest, 0, 107, model.HealthUnhealthy},
	}
	for _, c := range cases {
		nd := &NavData{Payload: &GalINavHealth{SigHealth: c.hs, DataValidity: c.dvs, SISAIndex: c.sisa}}
		if got := nd.HealthStatus(); got != c.want {
			t.Fatalf("galHealth(%d,%d,%d) = %s, want %s", c.hs, c.dvs, c.sisa, got, c.want)
		}
	}
}

func TestGPSAlmanacFitIgnoresTransmitTime(t *testing.T) {
	toa := gpsAt(405504)
	// A page decoded from broadcast bits arrives well after the fit opens.
	alm := &NavData{XmitTime: toa.Add(-3600), Payload: &GPSLNavAlm{OrbitKepler: OrbitKepler{Toe: toa}}}
	alm.FixFit()
	if !alm.BeginFit.Equal(toa.Add(-70*3600)) || !alm.EndFit.Equal(toa.Add(74*3600)) {
		t.Fatalf("lnav almanac fit [%s, %s)", alm.BeginFit, alm.EndFit)
	}

	cnav2 := &NavData{XmitTime: toa.Add(-3600), Payload: &GPSCNav2Alm{OrbitKepler: OrbitKepler{Toe: toa}}}
	cnav2.FixFit()
	if !cnav2.BeginFit.Equal(alm.BeginFit) || !cnav2.EndFit.Equal(alm.EndFit) {
		t.Fatalf("cnav2 almanac fit [%s, %s)", cnav2.BeginFit, cnav2.EndFit)
	}
}

func TestGalileoAndBeiDouFit(t *testing.T) {
	toe := navtime.GALWeekSecond(1000, 3600)
	gal := &NavData{XmitTime: toe.Add(-600), Payload: &GalINavEph{OrbitKepler: OrbitKepler{Toe: toe}}}
	gal.FixFit()
	if !gal.BeginFit.Equal(toe.Add(-600)) || !gal.EndFit.Equal(toe.Add(4*3600)) {
		t.Fatalf("galileo fit [%s, %s)", gal.BeginFit, gal.EndFit)
	}

	btoe := navtime.BDSWeekSecond(800, 7200)
	bds := &NavData{XmitTime: btoe.Add(30), Payload: &BDSD1NavEph{OrbitKepler: OrbitKepler{Toe: btoe}}}
	bds.FixFit()
	if !bds.BeginFit.Equal(btoe.Add(30)) || !bds.EndFit.Equal(btoe.Add(30+86400+30)) {
		t.Fatalf("beidou fit [%s, %s)", bds.BeginFit, bds.EndFit)
	}
}

func TestTimeOffsetRoundTrip(t *testing.T) {
	off := &StdTimeOffset{Src: navtime.GPS, Tgt: navtime.UTC, A0: 2e-9, A1: 1e-12, DeltaTLS: 18, RefTime: gpsAt(0)}
	fwd, ok := off.Offset(navtime.GPS, navtime.UTC, gpsAt(1000))
	if !ok {
		t.Fatalf("forward offset not applicable")
	}
	utc, err := gpsAt(1000).Convert(navtime.UTC)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	back, ok := off.Offset(navtime.UTC, navtime.GPS, utc)
	if !ok {
		t.Fatalf("reverse offset not applicable")
	}
	if math.Abs(fwd+back) > 1e-15 {
		t.Fatalf("offsets do not cancel: %g + %g", fwd, back)
	}
	if want := 18 + 2e-9 + 1e-9; math.Abs(fwd-want) > 1e-15 {
		t.Fatalf("forward = %.12f, want %.12f", fwd, want)
	}
	if _, ok := off.Offset(navtime.UTC, navtime.BDT, gpsAt(0)); ok {
		t.Fatalf("UTC->BDT should not be served by a GPS/UTC record")
	}
}

func TestTimeOffsetLeapChange(t *testing.T) {
	off := &StdTimeOffset{Src: navtime.GPS, Tgt: navtime.UTC, DeltaTLS: 17, DeltaTLSF: 18,
		RefTime: gpsAt(0), EffTime: gpsAt(5000)}
	before, _ := off.Offset(navtime.GPS, navtime.UTC, gpsAt(4999))
	after, _ := off.Offset(navtime.GPS, navtime.UTC, gpsAt(5000))
	if before != 17 || after != 18 {
		t.Fatalf("leap change: before=%g after=%g", before, after)
	}
}

func TestKlobucharBounds(t *testing.T) {
	k := &KlobucharIono{
		Alpha: [4]float64{1.118e-8, -7.451e-9, -5.961e-8, 1.192e-7},
		Beta:  [4]float64{1.167e5, -2.294e5, -1.311e5, 1.049e6},
	}
	rx := model.FromGeodetic(40, -105, 1600)
	zenith := model.FromGeodetic(40, -105, 20200e3)
	low := model.FromGeodetic(10, -105, 20200e3)

	when := gpsAt(20 * 3600)
	dz := k.Correction(when, rx, zenith, model.BandL1)
	dl := k.Correction(when, rx, low, model.BandL1)
	if dz <= 0 || dz > 50 {
		t.Fatalf("zenith delay %f m out of range", dz)
	}
	if dl <= dz {
		t.Fatalf("low elevation delay %f should exceed zenith %f", dl, dz)
	}
	if l2 := k.Correction(when, rx, zenith, model.BandL2); l2 <= dz {
		t.Fatalf("L2 delay %f should exceed L1 %f", l2, dz)
	}
	// night-time floor: 5 ns scaled by the obliquity factor
	night := k.Correction(gpsAt(9*3600), rx, zenith, model.BandL1)
	if night < 5e-9*SpeedOfLight*0.99 {
		t.Fatalf("night delay %f below floor", night)
	}
}
