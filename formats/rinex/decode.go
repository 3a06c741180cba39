package rinex

import (
	"context"
	"io"
	"math"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// Signals produced from RINEX nav data. RINEX does not say which signal a
// record was decoded from, so GPS and QZSS records are filed under L1 C/A.
var (
	sigGPS    = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandL1, Code: model.CodeCA, Nav: model.NavGPSLNAV}
	sigQZSS   = model.NavSignalID{System: model.SystemQZSS, Carrier: model.BandL1, Code: model.CodeCA, Nav: model.NavGPSLNAV}
	sigGalE1B = model.NavSignalID{System: model.SystemGalileo, Carrier: model.BandL1, Code: model.CodeE1B, Nav: model.NavGalINAV}
	sigGalE5b = model.NavSignalID{System: model.SystemGalileo, Carrier: model.BandE5b, Code: model.CodeE5bI, Nav: model.NavGalINAV}
	sigGalE5a = model.NavSignalID{System: model.SystemGalileo, Carrier: model.BandL5, Code: model.CodeE5aI, Nav: model.NavGalFNAV}
	sigBDSD1  = model.NavSignalID{System: model.SystemBeiDou, Carrier: model.BandB1, Code: model.CodeB1I, Nav: model.NavBeiDouD1}
	sigBDSD2  = model.NavSignalID{System: model.SystemBeiDou, Carrier: model.BandB1, Code: model.CodeB1I, Nav: model.NavBeiDouD2}
)

// Galileo data source bits (RINEX 3 table A8).
const (
	galSrcINavE1B = 0x01
	galSrcFNavE5a = 0x02
	galSrcINavE5b = 0x04
)

// Galileo page durations, used to fill the later page transmit times.
const (
	galINavPageSec = 2
	galFNavPageSec = 10
)

// record is one data block: the satellite, the epoch (Toc) and the clock
// and orbit values in file order.
type record struct {
	sat   model.SatID
	epoch navtime.CommonTime
	v     []float64 // af0 af1 af2, then broadcast orbit lines 1-7
}

// orbit value offsets into record.v.
const (
	iAf0 = iota
	iAf1
	iAf2
	iIODE
	iCrs
	iDn
	iM0
	iCuc
	iEcc
	iCus
	iSqrtA
	iToe
	iCic
	iOMEGA0
	iCis
	iI0
	iCrc
	iW
	iOMEGAdot
	iIdot
	iCodesL2 // GPS codes on L2, Galileo data sources
	iWeek
	iL2P
	iAccuracy
	iHealth
	iTgd  // GPS TGD, Galileo BGD E5a/E1, BeiDou TGD1
	iIODC // GPS IODC, Galileo BGD E5b/E1, BeiDou TGD2
	iXmit
	iFit // GPS fit interval, BeiDou AODC
	numValues = iFit + 3
)

type decoder struct {
	lr  *formats.LineReader
	h   *header
	cb  core.NavDataCallback
	log logging.Logger
	ctx context.Context

	ionoDone bool
	skipped  map[model.SatelliteSystem]int
}

// Decode reads a RINEX 2 or 3 navigation file from r and hands every record
// to cb until cb returns false. Systems without a broadcast Kepler model
// (GLONASS, SBAS) are skipped.
func Decode(ctx context.Context, r io.Reader, source string, cb core.NavDataCallback, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	lr := formats.NewLineReader(ctx, r, source)
	h, err := readHeader(lr)
	if err != nil {
		return err
	}
	d := &decoder{lr: lr, h: h, cb: cb, log: log, ctx: ctx, skipped: make(map[model.SatelliteSystem]int)}
	if !d.emit(d.timeOffsets()...) {
		return nil
	}
	for {
		rec, ok, err := d.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if !d.ionoDone {
			d.ionoDone = true
			if !d.emit(d.iono(rec.epoch)...) {
				return nil
			}
		}
		var out []*core.NavData
		switch rec.sat.System {
		case model.SystemGPS, model.SystemQZSS:
			out = d.gps(rec)
		case model.SystemGalileo:
			out = d.galileo(rec)
		case model.SystemBeiDou:
			out = d.beidou(rec)
		default:
			d.skipped[rec.sat.System]++
			continue
		}
		if !d.emit(out...) {
			return nil
		}
	}
	for sys, n := range d.skipped {
		d.log.Debug(ctx, "skipped unsupported RINEX records",
			logging.String("system", sys.String()),
			logging.Int("records", n),
		)
	}
	return nil
}

func (d *decoder) emit(nds ...*core.NavData) bool {
	for _, nd := range nds {
		if !d.cb.Process(nd) {
			return false
		}
	}
	return true
}

// next reads one data record. Blank lines between records are tolerated.
func (d *decoder) next() (*record, bool, error) {
	var line string
	for {
		l, ok := d.lr.Next()
		if !ok {
			return nil, false, d.lr.Err()
		}
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}
	rec := &record{v: make([]float64, numValues)}
	var (
		valStart, orbStart int
		err                error
	)
	if len(line) < 22 {
		return nil, false, d.lr.Errorf("short record line")
	}
	if d.h.rinex3() {
		rec.sat, err = model.ParseSatID(strings.ReplaceAll(line[:3], " ", "0"))
		if err != nil {
			return nil, false, d.lr.Errorf("satellite: %v", err)
		}
		rec.epoch, err = d.epoch(formats.Field(line, 3, 20), rec.sat.System, false)
		valStart, orbStart = 23, 4
	} else {
		prn, perr := formats.ParseInt(formats.Field(line, 0, 2))
		if perr != nil {
			return nil, false, d.lr.Errorf("satellite: %v", perr)
		}
		sys := d.h.system
		if sys == model.SystemUnknown {
			sys = model.SystemGPS
		}
		rec.sat = model.NewSatID(prn, sys)
		rec.epoch, err = d.epoch(formats.Field(line, 2, 20), sys, true)
		valStart, orbStart = 22, 3
	}
	if err != nil {
		return nil, false, err
	}
	for i := 0; i < 3; i++ {
		if rec.v[i], err = formats.ParseFloat(formats.Field(line, valStart+19*i, 19)); err != nil {
			return nil, false, d.lr.Errorf("clock value %d: %v", i, err)
		}
	}
	lines := 7
	switch rec.sat.System {
	case model.SystemGlonass, model.SystemSBAS:
		lines = 3
	}
	for l := 0; l < lines; l++ {
		orbit, ok := d.lr.Next()
		if !ok {
			if err := d.lr.Err(); err != nil {
				return nil, false, err
			}
			return nil, false, d.lr.Errorf("truncated record for %s", rec.sat)
		}
		if lines != 7 {
			continue
		}
		for i := 0; i < 4; i++ {
			idx := 3 + 4*l + i
			if idx >= numValues {
				break
			}
			if rec.v[idx], err = formats.ParseFloat(formats.Field(orbit, orbStart+19*i, 19)); err != nil {
				return nil, false, d.lr.Errorf("orbit value %d: %v", idx, err)
			}
		}
	}
	return rec, true, nil
}

// epoch parses "yyyy mm dd hh mm ss" (two-digit year in RINEX 2) in the
// satellite's own time system.
func (d *decoder) epoch(field string, sys model.SatelliteSystem, twoDigitYear bool) (navtime.CommonTime, error) {
	f := strings.Fields(field)
	if len(f) != 6 {
		return navtime.CommonTime{}, d.lr.Errorf("epoch %q", strings.TrimSpace(field))
	}
	var n [5]int
	for i := 0; i < 5; i++ {
		v, err := formats.ParseInt(f[i])
		if err != nil {
			return navtime.CommonTime{}, d.lr.Errorf("epoch %q: %v", field, err)
		}
		n[i] = v
	}
	sec, err := formats.ParseFloat(f[5])
	if err != nil {
		return navtime.CommonTime{}, d.lr.Errorf("epoch %q: %v", field, err)
	}
	if twoDigitYear {
		if n[0] < 80 {
			n[0] += 2000
		} else if n[0] < 100 {
			n[0] += 1900
		}
	}
	return navtime.FromCivil(n[0], n[1], n[2], n[3], n[4], sec, timeSystemOf(sys)), nil
}

func timeSystemOf(sys model.SatelliteSystem) navtime.TimeSystem {
	switch sys {
	case model.SystemGalileo:
		return navtime.GAL
	case model.SystemBeiDou:
		return navtime.BDT
	case model.SystemQZSS:
		return navtime.QZS
	case model.SystemGlonass:
		return navtime.GLO
	}
	return navtime.GPS
}

func (rec *record) kepler(toc, toe navtime.CommonTime) core.OrbitKepler {
	v := rec.v
	return core.OrbitKepler{
		Toe:      toe,
		Toc:      toc,
		M0:       v[iM0],
		Dn:       v[iDn],
		Ecc:      v[iEcc],
		A:        v[iSqrtA] * v[iSqrtA],
		OMEGA0:   v[iOMEGA0],
		I0:       v[iI0],
		W:        v[iW],
		OMEGAdot: v[iOMEGAdot],
		Idot:     v[iIdot],
		Cuc:      v[iCuc],
		Cus:      v[iCus],
		Crc:      v[iCrc],
		Crs:      v[iCrs],
		Cic:      v[iCic],
		Cis:      v[iCis],
		Af0:      v[iAf0],
		Af1:      v[iAf1],
		Af2:      v[iAf2],
	}
}

// weekNear returns the week that puts sow within half a week of ref.
func weekNear(week int, sow, refSOW float64) int {
	switch diff := sow - refSOW; {
	case diff < -navtime.HalfWeek:
		return week + 1
	case diff > navtime.HalfWeek:
		return week - 1
	}
	return week
}

// gps converts a GPS or QZSS record into an ephemeris plus the health and
// group delay records it implies.
func (d *decoder) gps(rec *record) []*core.NavData {
	v := rec.v
	ts := timeSystemOf(rec.sat.System)
	sig := sigGPS
	if rec.sat.System == model.SystemQZSS {
		sig = sigQZSS
	}
	week := int(v[iWeek])
	howSOW := int64(v[iXmit])
	_, tocSOW := rec.epoch.GPSWeek()
	xmitWeek := week

	// A Toc and HOW both at midnight mean the HOW was really 30 s earlier.
	adj := howSOW
	if int64(tocSOW)%86400 == 0 && howSOW%86400 == 0 && int64(tocSOW) == howSOW {
		adj -= 30
		if adj < 0 {
			adj += int64(navtime.SecondsPerWeek)
			xmitWeek--
		}
	}
	xmitSOW := float64(adj - adj%30)
	xmit := navtime.GPSWeekSecond(xmitWeek, xmitSOW, ts)
	stamp := navtime.GPSWeekSecond(week, v[iXmit], ts)
	toe := navtime.GPSWeekSecond(weekNear(xmitWeek, v[iToe], xmitSOW), v[iToe], ts)

	id := model.NavSatelliteID{NavSignalID: sig, Sat: rec.sat, XmitSat: rec.sat}
	health := model.HealthHealthy
	if v[iHealth] != 0 {
		health = model.HealthUnhealthy
	}
	var fitFlag uint8
	if v[iFit] > 4 {
		fitFlag = 1
	}
	eph := &core.NavData{
		ID:        model.NewNavMessageID(id, model.MsgEphemeris),
		TimeStamp: stamp,
		XmitTime:  xmit,
		Health:    health,
		Payload: &core.GPSLNavEph{
			OrbitKepler: rec.kepler(rec.epoch, toe),
			IODC:        uint16(v[iIODC]),
			IODE:        uint16(v[iIODE]),
			FitIntFlag:  fitFlag,
			HealthBits:  uint8(v[iHealth]),
			URAIndex:    accuracyToURA(v[iAccuracy]),
			Tgd:         v[iTgd],
			CodesL2:     uint8(v[iCodesL2]),
			L2PData:     v[iL2P] > 0,
			// A-S is assumed on for GPS and off for QZSS; RINEX does not
			// carry it.
			AntiSpoof: rec.sat.System == model.SystemGPS,
		},
	}
	eph.FixFit()
	hea := &core.NavData{
		ID:        model.NewNavMessageID(id, model.MsgHealth),
		TimeStamp: stamp,
		XmitTime:  stamp,
		Payload:   &core.GPSLNavHealth{SVHealth: uint8(v[iHealth])},
	}
	isc := &core.NavData{
		ID:        model.NewNavMessageID(id, model.MsgISC),
		TimeStamp: stamp,
		XmitTime:  stamp,
		Payload:   &core.GPSLNavISC{ISC: v[iTgd]},
	}
	return []*core.NavData{eph, hea, isc}
}

// galileo converts a Galileo record. One ephemeris is produced, I/NAV when
// an I/NAV source bit is set and F/NAV otherwise, plus health for all three
// signals the record describes.
func (d *decoder) galileo(rec *record) []*core.NavData {
	v := rec.v
	src := int(v[iCodesL2])
	week := int(v[iWeek])
	// The RINEX Galileo week is continuous with the GPS week.
	xmit := navtime.GPSWeekSecond(week, v[iXmit], navtime.GAL)
	toe := navtime.GPSWeekSecond(weekNear(week, v[iToe], v[iXmit]), v[iToe], navtime.GAL)
	orbit := rec.kepler(rec.epoch, toe)
	sisa := decodeSISA(v[iAccuracy])
	bits := int(v[iHealth])
	dvsE1B, hsE1B := uint8(bits&0x01), uint8((bits>>1)&0x03)
	dvsE5a, hsE5a := uint8((bits>>3)&0x01), uint8((bits>>4)&0x03)
	dvsE5b, hsE5b := uint8((bits>>6)&0x01), uint8((bits>>7)&0x03)

	key := func(sig model.NavSignalID) model.NavSatelliteID {
		return model.NavSatelliteID{NavSignalID: sig, Sat: rec.sat, XmitSat: rec.sat}
	}
	var eph *core.NavData
	switch {
	case src&(galSrcINavE1B|galSrcINavE5b) != 0:
		sig, hs, dvs := sigGalE1B, hsE1B, dvsE1B
		if src&galSrcINavE1B == 0 {
			sig, hs, dvs = sigGalE5b, hsE5b, dvsE5b
		}
		p := &core.GalINavEph{
			OrbitKepler: orbit,
			BGDE5aE1:    v[iTgd],
			BGDE5bE1:    v[iIODC],
			SISAIndex:   sisa,
			SVID:        uint8(rec.sat.ID),
			IODNav:      uint16(v[iIODE]),
			HSE1B:       hsE1B,
			HSE5b:       hsE5b,
			DVSE1B:      dvsE1B,
			DVSE5b:      dvsE5b,
		}
		p.Xmit2 = xmit.Add(galINavPageSec)
		p.Xmit3 = p.Xmit2.Add(galINavPageSec)
		p.Xmit4 = p.Xmit3.Add(galINavPageSec)
		p.Xmit5 = p.Xmit4.Add(galINavPageSec)
		eph = &core.NavData{
			ID:        model.NewNavMessageID(key(sig), model.MsgEphemeris),
			TimeStamp: xmit,
			XmitTime:  xmit,
			Health:    galHealthOf(hs, dvs, sisa),
			Payload:   p,
		}
	case src&galSrcFNavE5a != 0:
		p := &core.GalFNavEph{
			OrbitKepler: orbit,
			BGDE5aE1:    v[iTgd],
			SISAIndex:   sisa,
			SVID:        uint8(rec.sat.ID),
			IODNav:      uint16(v[iIODE]),
			HSE5a:       hsE5a,
			DVSE5a:      dvsE5a,
		}
		p.Xmit2 = xmit.Add(galFNavPageSec)
		p.Xmit3 = p.Xmit2.Add(galFNavPageSec)
		p.Xmit4 = p.Xmit3.Add(galFNavPageSec)
		eph = &core.NavData{
			ID:        model.NewNavMessageID(key(sigGalE5a), model.MsgEphemeris),
			TimeStamp: xmit,
			XmitTime:  xmit,
			Health:    galHealthOf(hsE5a, dvsE5a, sisa),
			Payload:   p,
		}
	default:
		d.log.Warn(d.ctx, "galileo record without a known data source",
			logging.String("sat", rec.sat.String()),
			logging.Int("sources", src),
		)
		return nil
	}
	eph.FixFit()

	healthRec := func(sig model.NavSignalID, p core.Payload) *core.NavData {
		return &core.NavData{
			ID:        model.NewNavMessageID(key(sig), model.MsgHealth),
			TimeStamp: xmit,
			XmitTime:  xmit,
			Payload:   p,
		}
	}
	return []*core.NavData{
		eph,
		healthRec(sigGalE1B, &core.GalINavHealth{SigHealth: hsE1B, DataValidity: dvsE1B, SISAIndex: sisa}),
		healthRec(sigGalE5a, &core.GalFNavHealth{SigHealth: hsE5a, DataValidity: dvsE5a, SISAIndex: sisa}),
		healthRec(sigGalE5b, &core.GalINavHealth{SigHealth: hsE5b, DataValidity: dvsE5b, SISAIndex: sisa}),
	}
}

// galHealthOf evaluates a Galileo health triple through a health record so
// the envelope agrees with what a health query would report.
func galHealthOf(hs, dvs, sisa uint8) model.SVHealth {
	nd := core.NavData{Payload: &core.GalINavHealth{SigHealth: hs, DataValidity: dvs, SISAIndex: sisa}}
	return nd.HealthStatus()
}

// beidou converts a BeiDou D1/D2 record. GEO satellites are filed under D2.
func (d *decoder) beidou(rec *record) []*core.NavData {
	v := rec.v
	week := int(v[iWeek])
	xmit := navtime.BDSWeekSecond(week, v[iXmit])
	toe := navtime.BDSWeekSecond(weekNear(week, v[iToe], v[iXmit]), v[iToe])
	sig := sigBDSD1
	if isGEO(rec.sat.ID) {
		sig = sigBDSD2
	}
	id := model.NavSatelliteID{NavSignalID: sig, Sat: rec.sat, XmitSat: rec.sat}
	p := &core.BDSD1NavEph{
		OrbitKepler: rec.kepler(rec.epoch, toe),
		AODE:        uint8(v[iIODE]),
		AODC:        uint8(v[iFit]),
		SatH1:       uint8(v[iHealth]),
		URAI:        accuracyToURA(v[iAccuracy]),
		Tgd1:        v[iTgd],
		Tgd2:        v[iIODC],
	}
	health := model.HealthHealthy
	if p.SatH1 != 0 {
		health = model.HealthUnhealthy
	}
	eph := &core.NavData{
		ID:        model.NewNavMessageID(id, model.MsgEphemeris),
		TimeStamp: xmit,
		XmitTime:  xmit,
		Health:    health,
		Payload:   p,
	}
	eph.FixFit()
	return []*core.NavData{eph}
}

func isGEO(prn int) bool { return prn <= 5 || prn >= 59 }

// timeOffsets turns the header corrections into offset records stamped at
// their reference time.
func (d *decoder) timeOffsets() []*core.NavData {
	var out []*core.NavData
	for _, tc := range d.h.corr {
		systems, ok := corrSystems[tc.kind]
		if !ok {
			d.log.Debug(d.ctx, "skipping unsupported time correction", logging.String("kind", tc.kind))
			continue
		}
		src, tgt := systems[0], systems[1]
		ref := tc.refTime(src)
		off := &core.StdTimeOffset{Src: src, Tgt: tgt, A0: tc.a0, A1: tc.a1, RefTime: ref}
		if tgt == navtime.UTC && d.h.leap.valid {
			off.DeltaTLS, off.DeltaTLSF = d.h.leap.leapFor(src)
			if d.h.leap.wnLSF != 0 {
				off.EffTime = d.h.leap.effTime(src, tc.refWeek)
			} else {
				off.DeltaTLSF = off.DeltaTLS
			}
		}
		sat := model.NewSatID(0, systemOfTime(src))
		id := model.NavSatelliteID{NavSignalID: signalForSystem(sat.System), Sat: sat, XmitSat: sat}
		out = append(out, &core.NavData{
			ID:        model.NewNavMessageID(id, model.MsgTimeOffset),
			TimeStamp: ref,
			XmitTime:  ref,
			Payload:   off,
		})
	}
	return out
}

// iono turns the header Klobuchar terms into records stamped at the first
// data epoch. The GPS model comes with a healthy "PRN 0" health record so
// queries that filter on transmitter health still find it.
func (d *decoder) iono(first navtime.CommonTime) []*core.NavData {
	var out []*core.NavData
	for _, pair := range []struct {
		a, b string
		sys  model.SatelliteSystem
	}{
		{"GPSA", "GPSB", model.SystemGPS},
		{"BDSA", "BDSB", model.SystemBeiDou},
	} {
		alpha, okA := d.h.iono[pair.a]
		beta, okB := d.h.iono[pair.b]
		if !okA || !okB {
			continue
		}
		sat := model.NewSatID(0, pair.sys)
		id := model.NavSatelliteID{NavSignalID: signalForSystem(pair.sys), Sat: sat, XmitSat: sat}
		target := navtime.GPS
		if pair.sys == model.SystemBeiDou {
			target = navtime.BDT
		}
		when, err := first.Convert(target)
		if err != nil {
			when = first.WithSystem(target)
		}
		out = append(out, &core.NavData{
			ID:        model.NewNavMessageID(id, model.MsgIono),
			TimeStamp: when,
			XmitTime:  when,
			Payload:   &core.KlobucharIono{Alpha: alpha, Beta: beta},
		})
		if pair.sys == model.SystemGPS {
			bod := navtime.New(when.MJD(), 0, when.System())
			out = append(out, &core.NavData{
				ID:        model.NewNavMessageID(id, model.MsgHealth),
				TimeStamp: bod,
				XmitTime:  bod,
				Payload:   &core.GPSLNavHealth{},
			})
		}
	}
	if _, ok := d.h.iono["GAL"]; ok {
		d.log.Debug(d.ctx, "skipping NeQuick-G coefficients")
	}
	return out
}

func systemOfTime(ts navtime.TimeSystem) model.SatelliteSystem {
	switch ts {
	case navtime.GAL:
		return model.SystemGalileo
	case navtime.BDT:
		return model.SystemBeiDou
	case navtime.QZS:
		return model.SystemQZSS
	}
	return model.SystemGPS
}

func signalForSystem(sys model.SatelliteSystem) model.NavSignalID {
	switch sys {
	case model.SystemGalileo:
		return sigGalE1B
	case model.SystemBeiDou:
		return sigBDSD1
	case model.SystemQZSS:
		return sigQZSS
	}
	return sigGPS
}

var uraBounds = []float64{2.4, 3.4, 4.85, 6.85, 9.65, 13.65, 24, 48, 96, 192, 384, 768, 1536, 3072, 6144}

// accuracyToURA maps a user range accuracy in metres to the broadcast index.
func accuracyToURA(m float64) uint8 {
	for i, b := range uraBounds {
		if m <= b {
			return uint8(i)
		}
	}
	return 15
}

// decodeSISA maps a Galileo signal-in-space accuracy in metres to its index.
// Negative accuracy means no prediction is available.
func decodeSISA(m float64) uint8 {
	switch {
	case m < 0:
		return core.GalSISANAPA
	case m < 0.5:
		return uint8(math.Round(m * 100))
	case m < 1:
		return uint8(math.Round((m + 0.5) * 50))
	case m < 2:
		return uint8(math.Round((m + 2) * 25))
	case m <= 6:
		return uint8(math.Round(100 + (m-2)/0.16))
	}
	return core.GalSISANAPA
}
