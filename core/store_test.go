package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

func ephQuery(prn int) model.NavMessageID {
	return model.NewNavMessageID(gpsKey(sigL1CA, prn, prn), model.MsgEphemeris)
}

func TestFindUserOrder(t *testing.T) {
	s := loadedStore()
	cases := []struct {
		when    float64
		wantXmt float64
	}{
		{10000, 7200},
		{7203, 0},     // 7200 record not yet received
		{7206, 7200},  // received exactly now
		{20000, 14400},
	}
	for _, c := range cases {
		nd, err := s.Find(ephQuery(1), gpsAt(c.when), model.HealthAny, model.ValidOnly, model.SearchUser)
		if err != nil {
			t.Fatalf("Find at %g: %v", c.when, err)
		}
		if !nd.TimeStamp.Equal(gpsAt(c.wantXmt)) {
			t.Fatalf("Find at %g returned %s, want xmit %g", c.when, nd.TimeStamp, c.wantXmt)
		}
		if nd.UserTime().After(gpsAt(c.when)) || !nd.Covers(gpsAt(c.when)) {
			t.Fatalf("Find at %g returned unusable record %s", c.when, nd)
		}
	}
	if _, err := s.Find(ephQuery(1), gpsAt(30000), model.HealthAny, model.ValidOnly, model.SearchUser); !errors.Is(err, ErrNavDataNotFound) {
		t.Fatalf("past every fit interval err = %v", err)
	}
	if _, err := s.Find(ephQuery(9), gpsAt(10000), model.HealthAny, model.ValidOnly, model.SearchUser); !errors.Is(err, ErrNavDataNotFound) {
		t.Fatalf("unknown satellite err = %v", err)
	}
}

func TestFindNearestIgnoresFit(t *testing.T) {
	s := loadedStore()
	nd, err := s.Find(ephQuery(2), gpsAt(30000), model.HealthAny, model.ValidOnly, model.SearchNearest)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !nd.TimeStamp.Equal(gpsAt(14400)) {
		t.Fatalf("nearest = %s", nd)
	}
	// Toe 7200 and 14400 are equidistant from 10800; the later wins.
	nd, err = s.Find(ephQuery(2), gpsAt(10800), model.HealthAny, model.ValidOnly, model.SearchNearest)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !nd.TimeStamp.Equal(gpsAt(7200)) {
		t.Fatalf("tie went to %s, want the record with Toe 14400", nd)
	}
}

func TestFindValidityFilter(t *testing.T) {
	s := loadedStore()
	bad := lnavEph(1, gpsAt(8000), gpsAt(14400))
	bad.Payload.(*GPSLNavEph).Pre = 0x22
	_ = s.Add(bad)

	nd, err := s.Find(ephQuery(1), gpsAt(10000), model.HealthAny, model.ValidOnly, model.SearchUser)
	if err != nil || !nd.TimeStamp.Equal(gpsAt(7200)) {
		t.Fatalf("ValidOnly = (%v, %v), want the 7200 record", nd, err)
	}
	nd, err = s.Find(ephQuery(1), gpsAt(10000), model.HealthAny, model.InvalidOnly, model.SearchUser)
	if err != nil || nd != bad {
		t.Fatalf("InvalidOnly = (%v, %v), want the corrupted record", nd, err)
	}
	nd, err = s.Find(ephQuery(1), gpsAt(10000), model.HealthAny, model.ValidityAny, model.SearchUser)
	if err != nil || nd != bad {
		t.Fatalf("Any = (%v, %v), want the newest record", nd, err)
	}
}

func TestTypeFilterAtQueryAndIngest(t *testing.T) {
	s := loadedStore()
	s.SetTypeFilter(model.MsgAlmanac)
	if _, err := s.Find(ephQuery(1), gpsAt(10000), model.HealthAny, model.ValidOnly, model.SearchUser); !errors.Is(err, ErrNavDataNotFound) {
		t.Fatalf("filtered type still found, err = %v", err)
	}
	if got := s.AvailableSats(navtime.BeginningOfTime, navtime.EndOfTime); len(got) != 0 {
		t.Fatalf("almanac-only filter should hide ephemeris sats, got %d", len(got))
	}
	if s.Accepts(lnavEph(4, gpsAt(0), gpsAt(7200))) {
		t.Fatalf("ingest filter admitted an ephemeris")
	}
	s.ClearTypeFilter()
	if _, err := s.Find(ephQuery(1), gpsAt(10000), model.HealthAny, model.ValidOnly, model.SearchUser); err != nil {
		t.Fatalf("after clearing filter: %v", err)
	}
}

// Almanac pages for PRN 2 are broadcast by PRN 1, which turns unhealthy
// part way through, and by PRN 3, which stays healthy.
func almanacStore() *Store {
	s := NewStore("test", []model.NavSignalID{sigL1CA, sigL2Y})
	_ = s.Add(lnavHealth(sigL1CA, 1, gpsAt(0), 0))
	_ = s.Add(lnavHealth(sigL1CA, 1, gpsAt(3000), 0x3f))
	_ = s.Add(lnavHealth(sigL1CA, 3, gpsAt(0), 0))
	_ = s.Add(lnavHealth(sigL2Y, 3, gpsAt(0), 0))
	_ = s.Add(lnavAlm(sigL1CA, 2, 1, gpsAt(1000)))
	_ = s.Add(lnavAlm(sigL1CA, 2, 1, gpsAt(4000)))
	_ = s.Add(lnavAlm(sigL1CA, 2, 3, gpsAt(3500)))
	_ = s.Add(lnavAlm(sigL2Y, 2, 3, gpsAt(3600)))
	return s
}

func TestFindTransmitHealth(t *testing.T) {
	s := almanacStore()
	when := gpsAt(5000)
	l1Any := model.NewNavMessageID(model.NavSatelliteID{
		NavSignalID: sigL1CA, Sat: model.NewSatID(2, model.SystemGPS), XmitSat: model.AnySat(),
	}, model.MsgAlmanac)

	cases := []struct {
		name    string
		query   model.NavMessageID
		health  model.SVHealth
		wantTS  float64
		wantXmt int
	}{
		{"any health takes newest", l1Any, model.HealthAny, 4000, 1},
		{"healthy skips unhealthy transmitter", l1Any, model.HealthHealthy, 3500, 3},
		{"unhealthy only", l1Any, model.HealthUnhealthy, 4000, 1},
	}
	for _, c := range cases {
		nd, err := s.Find(c.query, when, c.health, model.ValidOnly, model.SearchUser)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !nd.TimeStamp.Equal(gpsAt(c.wantTS)) || nd.ID.XmitSat.ID != c.wantXmt {
			t.Fatalf("%s: got %s", c.name, nd)
		}
	}

	fromPRN1 := l1Any
	fromPRN1.XmitSat = model.NewSatID(1, model.SystemGPS)
	nd, err := s.Find(fromPRN1, when, model.HealthHealthy, model.ValidOnly, model.SearchUser)
	if err != nil || !nd.TimeStamp.Equal(gpsAt(1000)) {
		t.Fatalf("healthy PRN 1 page = (%v, %v), want the one sent before the outage", nd, err)
	}

	l2 := model.NewNavMessageID(model.NavSatelliteID{
		NavSignalID: sigL2Y, Sat: model.NewSatID(2, model.SystemGPS), XmitSat: model.AnySat(),
	}, model.MsgAlmanac)
	nd, err = s.Find(l2, when, model.HealthHealthy, model.ValidOnly, model.SearchUser)
	if err != nil || nd.ID.Code != model.CodeY {
		t.Fatalf("L2 Y query = (%v, %v)", nd, err)
	}

	wild := l1Any
	wild.NavSignalID = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandAny, Code: model.CodeAny, Nav: model.NavAny}
	nd, err = s.Find(wild, when, model.HealthHealthy, model.ValidOnly, model.SearchUser)
	if err != nil || nd.ID.Carrier != model.BandL2 {
		t.Fatalf("wild signal query = (%v, %v), want the newest healthy page (L2)", nd, err)
	}
}

func TestFindTimeSystemMismatch(t *testing.T) {
	s := loadedStore()
	_, err := s.Find(ephQuery(1), navtime.GPSWeekSecond(testWeek, 10000, navtime.Unknown),
		model.HealthAny, model.ValidOnly, model.SearchUser)
	if !errors.Is(err, navtime.ErrTimeSystemMismatch) {
		t.Fatalf("err = %v, want ErrTimeSystemMismatch", err)
	}
	if _, err := s.Find(ephQuery(1), navtime.GPSWeekSecond(testWeek, 10000, navtime.Any),
		model.HealthAny, model.ValidOnly, model.SearchUser); err != nil {
		t.Fatalf("Any-tagged query failed: %v", err)
	}
}

func TestEditAndClear(t *testing.T) {
	s := loadedStore()
	if s.Size() != 18 || s.NumSatellites() != 3 || s.NumSignals() != 1 {
		t.Fatalf("size/sats/signals = %d/%d/%d", s.Size(), s.NumSatellites(), s.NumSignals())
	}

	s.Edit(gpsAt(7200), gpsAt(14400))
	if s.Size() != 12 {
		t.Fatalf("after Edit size = %d, want 12", s.Size())
	}
	s.EditSatellite(navtime.BeginningOfTime, navtime.EndOfTime, gpsKey(sigL1CA, 1, 1))
	if s.Size() != 8 {
		t.Fatalf("after EditSatellite size = %d, want 8", s.Size())
	}
	s.EditSignal(navtime.BeginningOfTime, navtime.EndOfTime, sigL2Y)
	if s.Size() != 8 {
		t.Fatalf("editing an absent signal changed size to %d", s.Size())
	}
	s.EditSignal(navtime.BeginningOfTime, gpsAt(7200), sigL1CA)
	if s.Size() != 4 {
		t.Fatalf("after EditSignal size = %d, want 4", s.Size())
	}
	if got := s.InitialTime(); !got.Equal(gpsAt(14400)) {
		t.Fatalf("InitialTime = %s", got)
	}

	s.Clear()
	if s.Size() != 0 {
		t.Fatalf("after Clear size = %d", s.Size())
	}
	if !s.InitialTime().Equal(navtime.EndOfTime) || !s.FinalTime().Equal(navtime.BeginningOfTime) {
		t.Fatalf("empty bounds = %s .. %s", s.InitialTime(), s.FinalTime())
	}
}

func TestBoundsPolicy(t *testing.T) {
	ts := loadedStore()
	if !ts.InitialTime().Equal(gpsAt(0)) || !ts.FinalTime().Equal(gpsAt(14400)) {
		t.Fatalf("time stamp bounds = %s .. %s", ts.InitialTime(), ts.FinalTime())
	}
	fit := loadedStore(WithBoundsPolicy(BoundsFit))
	if !fit.FinalTime().Equal(gpsAt(28800)) {
		t.Fatalf("fit bounds final = %s", fit.FinalTime())
	}
}

func TestAvailableSatsAndPresence(t *testing.T) {
	s := loadedStore()
	sats := s.AvailableSats(gpsAt(0), gpsAt(1))
	if len(sats) != 3 {
		t.Fatalf("AvailableSats = %v", sats)
	}
	for i := 1; i < len(sats); i++ {
		if !sats[i-1].Less(sats[i]) {
			t.Fatalf("AvailableSats not sorted: %v", sats)
		}
	}
	if got := s.AvailableSats(gpsAt(1), gpsAt(7200)); len(got) != 0 {
		t.Fatalf("half-open range leaked %v", got)
	}
	if !s.IsPresent(ephQuery(1), gpsAt(7200), gpsAt(7201)) {
		t.Fatalf("IsPresent missed the 7200 ephemeris")
	}
	if s.IsPresent(model.NewNavMessageID(gpsKey(sigL1CA, 1, 1), model.MsgAlmanac), navtime.BeginningOfTime, navtime.EndOfTime) {
		t.Fatalf("IsPresent found an almanac in an ephemeris-only store")
	}
}

func TestIngestIsAllOrNothing(t *testing.T) {
	s := loadedStore()
	boom := errors.New("truncated record")
	err := s.Ingest(context.Background(), "broken", func(cb NavDataCallback) error {
		cb.Process(lnavEph(7, gpsAt(0), gpsAt(7200)))
		cb.Process(lnavEph(8, gpsAt(0), gpsAt(7200)))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if s.Size() != 18 {
		t.Fatalf("failed ingest changed size to %d", s.Size())
	}

	err = s.Ingest(context.Background(), "good", func(cb NavDataCallback) error {
		cb.Process(lnavEph(7, gpsAt(0), gpsAt(7200)))
		bad := lnavEph(8, gpsAt(0), gpsAt(7200))
		bad.Payload.(*GPSLNavEph).Pre = 1
		cb.Process(bad)
		return nil
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if s.Size() != 19 {
		t.Fatalf("size = %d, want the valid record only", s.Size())
	}
}

func TestDeliverStopsWhenAsked(t *testing.T) {
	s := NewStore("test", nil)
	var seen int
	err := s.Deliver(func(cb NavDataCallback) error {
		for prn := 1; prn <= 5; prn++ {
			if !cb.Process(lnavEph(prn, gpsAt(0), gpsAt(7200))) {
				return nil
			}
		}
		return nil
	}, CallbackFunc(func(*NavData) bool {
		seen++
		return seen < 2
	}))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if seen != 2 || s.Size() != 0 {
		t.Fatalf("seen=%d size=%d", seen, s.Size())
	}
}

func TestStoreOffset(t *testing.T) {
	s := NewStore("test", []model.NavSignalID{sigL1CA})
	_ = s.Add(&NavData{
		ID:        model.NewNavMessageID(gpsKey(sigL1CA, 0, 0), model.MsgTimeOffset),
		TimeStamp: gpsAt(0),
		XmitTime:  gpsAt(0),
		Payload:   &StdTimeOffset{Src: navtime.GPS, Tgt: navtime.UTC, DeltaTLS: 17, RefTime: gpsAt(0)},
	})
	fwd, err := s.Offset(navtime.GPS, navtime.UTC, gpsAt(100), model.HealthAny, model.ValidOnly)
	if err != nil || fwd != 17 {
		t.Fatalf("GPS->UTC = (%g, %v)", fwd, err)
	}
	back, err := s.Offset(navtime.UTC, navtime.GPS, gpsAt(100).WithSystem(navtime.UTC), model.HealthAny, model.ValidOnly)
	if err != nil || back != -17 {
		t.Fatalf("UTC->GPS = (%g, %v)", back, err)
	}
	if _, err := s.Offset(navtime.UTC, navtime.BDT, gpsAt(100).WithSystem(navtime.UTC), model.HealthAny, model.ValidOnly); !errors.Is(err, ErrNavDataNotFound) {
		t.Fatalf("UTC->BDT err = %v", err)
	}
	if _, err := s.Offset(navtime.GPS, navtime.UTC, gpsAt(100).WithSystem(navtime.GAL), model.HealthAny, model.ValidOnly); !errors.Is(err, navtime.ErrTimeSystemMismatch) {
		t.Fatalf("mis-tagged query err = %v", err)
	}
}

func TestStoreOffsetConvertsAcrossLeapChange(t *testing.T) {
	s := NewStore("test", []model.NavSignalID{sigL1CA})
	_ = s.Add(&NavData{
		ID:        model.NewNavMessageID(gpsKey(sigL1CA, 0, 0), model.MsgTimeOffset),
		TimeStamp: gpsAt(0),
		XmitTime:  gpsAt(0),
		Payload: &StdTimeOffset{Src: navtime.GPS, Tgt: navtime.UTC, DeltaTLS: 17, DeltaTLSF: 18,
			RefTime: gpsAt(0), EffTime: gpsAt(5000)},
	})

	// GPS 5010 is after the change even though its UTC label reads 4992.
	utc, err := gpsAt(5010).Convert(navtime.UTC)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	back, err := s.Offset(navtime.UTC, navtime.GPS, utc, model.HealthAny, model.ValidOnly)
	if err != nil || back != -18 {
		t.Fatalf("UTC->GPS after the change = (%g, %v), want -18", back, err)
	}

	utc, _ = gpsAt(4990).Convert(navtime.UTC)
	back, err = s.Offset(navtime.UTC, navtime.GPS, utc, model.HealthAny, model.ValidOnly)
	if err != nil || back != -17 {
		t.Fatalf("UTC->GPS before the change = (%g, %v), want -17", back, err)
	}
}

func TestStoreOffsetNotApplicable(t *testing.T) {
	s := NewStore("test", []model.NavSignalID{sigL1CA})
	_ = s.Add(&NavData{
		ID:        model.NewNavMessageID(gpsKey(sigL1CA, 0, 0), model.MsgTimeOffset),
		TimeStamp: gpsAt(0),
		XmitTime:  gpsAt(0),
		Payload: &StdTimeOffset{Src: navtime.GPS, Tgt: navtime.UTC, DeltaTLS: 18,
			RefTime: gpsAt(0).WithSystem(navtime.TimeSystem(42))},
	})
	off, err := s.Offset(navtime.GPS, navtime.UTC, gpsAt(100), model.HealthAny, model.ValidOnly)
	if !errors.Is(err, ErrNavDataNotFound) {
		t.Fatalf("Offset = (%g, %v), want ErrNavDataNotFound", off, err)
	}
}

func TestConcurrentReadsDuringIngest(t *testing.T) {
	s := loadedStore()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := s.Find(ephQuery(2), gpsAt(10000), model.HealthAny, model.ValidOnly, model.SearchUser); err != nil {
					t.Errorf("Find: %v", err)
					return
				}
			}
		}()
	}
	for prn := 10; prn < 20; prn++ {
		_ = s.Ingest(context.Background(), "more", func(cb NavDataCallback) error {
			cb.Process(lnavEph(prn, gpsAt(0), gpsAt(7200)))
			return nil
		})
	}
	wg.Wait()
	if s.NumSatellites() != 13 {
		t.Fatalf("NumSatellites = %d", s.NumSatellites())
	}
}

func TestDump(t *testing.T) {
	s := loadedStore()
	n := s.Size()

	var one bytes.Buffer
	if err := s.Dump(&one, DumpOneLine); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if strings.Count(one.String(), "\n") != 1 || !strings.Contains(one.String(), fmt.Sprintf("%d records", n)) {
		t.Fatalf("one line dump = %q", one.String())
	}

	var brief bytes.Buffer
	if err := s.Dump(&brief, DumpBrief); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if got := strings.Count(brief.String(), "\n"); got != n+1 {
		t.Fatalf("brief dump has %d lines, want %d", got, n+1)
	}

	var full bytes.Buffer
	if err := s.Dump(&full, DumpFull); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if got := strings.Count(full.String(), "\n"); got != 2*n+1 {
		t.Fatalf("full dump has %d lines, want %d", got, 2*n+1)
	}
}
