package navbits

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

// Signal is the only signal the format carries: GPS L1 C/A LNAV.
var Signal = model.NavSignalID{
	System:  model.SystemGPS,
	Carrier: model.BandL1,
	Code:    model.CodeCA,
	Nav:     model.NavGPSLNAV,
}

// Page IDs in subframes 4 and 5 that carry something other than an
// almanac.
const (
	svidUTCIono    = 56
	svidPage25Sub5 = 51 // almanac week and health for PRN 1-24
	svidPage25Sub4 = 63 // health for PRN 25-32
)

type frame struct {
	bits subframe
	xmit navtime.CommonTime
}

type pendingAlm struct {
	nd  *core.NavData
	toa float64
}

type decoder struct {
	ctx context.Context
	lr  *formats.LineReader
	cb  core.NavDataCallback
	log logging.Logger

	eph     map[int]*[3]*frame         // subframes 1-3 by transmitting PRN
	wna     map[int]navtime.CommonTime // almanac reference time by transmitting PRN
	pending map[int][]pendingAlm       // almanacs waiting for their week
}

// Decode reads lines of "week,sow,prn,hex" where sow is the start of the
// subframe and hex its 300 bits as 75 hex digits. Ephemerides are emitted
// once subframes 1-3 with matching issue of data have been seen, almanacs
// once the page 25 almanac week has arrived.
func Decode(ctx context.Context, r io.Reader, source string, cb core.NavDataCallback, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	d := &decoder{
		ctx:     ctx,
		lr:      formats.NewLineReader(ctx, r, source),
		cb:      cb,
		log:     log,
		eph:     make(map[int]*[3]*frame),
		wna:     make(map[int]navtime.CommonTime),
		pending: make(map[int][]pendingAlm),
	}
	frames := 0
	for {
		line, ok := d.lr.Next()
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prn, f, err := d.parse(line)
		if err != nil {
			return err
		}
		frames++
		if !d.subframe(prn, f) {
			return nil
		}
	}
	if err := d.lr.Err(); err != nil {
		return err
	}
	if frames == 0 {
		return d.lr.Errorf("no subframes")
	}
	waiting := 0
	for _, p := range d.pending {
		waiting += len(p)
	}
	if waiting > 0 {
		d.log.Debug(ctx, "almanac pages without a reference week dropped",
			logging.String("source", source),
			logging.Int("pages", waiting),
		)
	}
	return nil
}

func (d *decoder) parse(line string) (int, *frame, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return 0, nil, d.lr.Errorf("want week,sow,prn,bits; got %d fields", len(fields))
	}
	week, err := formats.ParseInt(fields[0])
	if err != nil {
		return 0, nil, d.lr.Errorf("week: %v", err)
	}
	sow, err := formats.ParseFloat(fields[1])
	if err != nil || sow < 0 || sow >= navtime.SecondsPerWeek {
		return 0, nil, d.lr.Errorf("seconds of week %q", fields[1])
	}
	prn, err := formats.ParseInt(fields[2])
	if err != nil || prn < 1 || prn > 32 {
		return 0, nil, d.lr.Errorf("prn %q", fields[2])
	}
	bits, err := parseSubframe(strings.TrimSpace(fields[3]))
	if err != nil {
		return 0, nil, d.lr.Errorf("%v", err)
	}
	return prn, &frame{bits: bits, xmit: navtime.GPSWeekSecond(week, sow, navtime.GPS)}, nil
}

// subframe dispatches on the subframe ID. It returns false once the
// callback has asked to stop.
func (d *decoder) subframe(prn int, f *frame) bool {
	switch sfid := f.bits.u(49, 3); sfid {
	case 1, 2, 3:
		return d.ephemeris(prn, int(sfid), f)
	case 4, 5:
		switch svid := int(f.bits.u(62, 6)); {
		case svid >= 1 && svid <= 32:
			return d.almanac(prn, svid, f)
		case svid == svidPage25Sub5:
			return d.page25(prn, f)
		case svid == svidPage25Sub4:
			return d.page25Sub4(prn, f)
		case svid == svidUTCIono:
			return d.utcIono(prn, f)
		}
	default:
		d.log.Debug(d.ctx, "subframe id out of range", logging.Int("line", d.lr.Line()), logging.Int("sfid", int(sfid)))
	}
	return true
}

func (d *decoder) id(sat, xmit int, mt model.NavMessageType) model.NavMessageID {
	return model.NewNavMessageID(model.NavSatelliteID{
		NavSignalID: Signal,
		Sat:         model.NewSatID(sat, model.SystemGPS),
		XmitSat:     model.NewSatID(xmit, model.SystemGPS),
	}, mt)
}

func (d *decoder) health(sat, xmit int, bits uint8, f *frame) *core.NavData {
	p := &core.GPSLNavHealth{Pre: uint32(f.bits.u(0, 8)), SVHealth: bits}
	return &core.NavData{
		ID:        d.id(sat, xmit, model.MsgHealth),
		TimeStamp: f.xmit,
		XmitTime:  f.xmit,
		Health:    p.Status(),
		Payload:   p,
	}
}

func (d *decoder) ephemeris(prn, sfid int, f *frame) bool {
	if sfid == 1 {
		if !d.cb.Process(d.health(prn, prn, uint8(f.bits.u(76, 6)), f)) {
			return false
		}
	}
	set, ok := d.eph[prn]
	if !ok {
		set = new([3]*frame)
		d.eph[prn] = set
	}
	set[sfid-1] = f
	if set[0] == nil || set[1] == nil || set[2] == nil {
		return true
	}
	sf1, sf2, sf3 := set[0].bits, set[1].bits, set[2].bits
	iodc := sf1.u(210, 8)
	if iodc != sf2.u(60, 8) || iodc != sf3.u(270, 8) {
		// mid-cutover; wait for a consistent set
		return true
	}
	delete(d.eph, prn)

	xmit := set[0].xmit
	refWeek, _ := xmit.GPSWeek()
	wn := formats.RolloverWeek(int(sf1.u(60, 10)), 10, refWeek)
	toe := navtime.GPSWeekSecond(wn, scaleU(sf2.u(270, 16), 4), navtime.GPS)
	toc := navtime.GPSWeekSecond(wn, scaleU(sf1.u(218, 16), 4), navtime.GPS)
	ahalf := scaleU(sf2.usplit(226, 8, 240, 24), -19)
	healthBits := uint8(sf1.u(76, 6))

	eph := &core.GPSLNavEph{
		OrbitKepler: core.OrbitKepler{
			Toe:      toe,
			Toc:      toc,
			M0:       semi(sf2.split(106, 8, 120, 24), -31),
			Dn:       semi(sf2.s(90, 16), -43),
			Ecc:      scaleU(sf2.usplit(166, 8, 180, 24), -33),
			A:        ahalf * ahalf,
			OMEGA0:   semi(sf3.split(76, 8, 90, 24), -31),
			I0:       semi(sf3.split(136, 8, 150, 24), -31),
			W:        semi(sf3.split(196, 8, 210, 24), -31),
			OMEGAdot: semi(sf3.s(240, 24), -43),
			Idot:     semi(sf3.s(278, 14), -43),
			Cuc:      scaleS(sf2.s(150, 16), -29),
			Cus:      scaleS(sf2.s(210, 16), -29),
			Crc:      scaleS(sf3.s(180, 16), -5),
			Crs:      scaleS(sf2.s(68, 16), -5),
			Cic:      scaleS(sf3.s(60, 16), -29),
			Cis:      scaleS(sf3.s(120, 16), -29),
			Af0:      scaleS(sf1.s(270, 22), -31),
			Af1:      scaleS(sf1.s(248, 16), -43),
			Af2:      scaleS(sf1.s(240, 8), -55),
		},
		Xmit2:      set[1].xmit,
		Xmit3:      set[2].xmit,
		Pre:        uint32(sf1.u(0, 8)),
		Pre2:       uint32(sf2.u(0, 8)),
		Pre3:       uint32(sf3.u(0, 8)),
		IODC:       uint16(sf1.usplit(82, 2, 210, 8)),
		IODE:       uint16(sf2.u(60, 8)),
		FitIntFlag: uint8(sf2.u(286, 1)),
		HealthBits: healthBits,
		URAIndex:   uint8(sf1.u(72, 4)),
		Tgd:        scaleS(sf1.s(196, 8), -31),
		CodesL2:    uint8(sf1.u(70, 2)),
		L2PData:    sf1.u(90, 1) == 1,
		AntiSpoof:  sf1.u(48, 1) == 1,
		Alert:      sf1.u(47, 1) == 1,
	}
	status := model.HealthHealthy
	if healthBits != 0 {
		status = model.HealthUnhealthy
	}
	nd := &core.NavData{
		ID:        d.id(prn, prn, model.MsgEphemeris),
		TimeStamp: xmit,
		XmitTime:  xmit,
		Health:    status,
		Payload:   eph,
	}
	nd.FixFit()
	isc := &core.NavData{
		ID:        d.id(prn, prn, model.MsgISC),
		TimeStamp: xmit,
		XmitTime:  xmit,
		Payload:   &core.GPSLNavISC{Pre: eph.Pre, ISC: eph.Tgd},
	}
	return d.cb.Process(nd) && d.cb.Process(isc)
}

func (d *decoder) almanac(xmitPRN, prn int, f *frame) bool {
	b := f.bits
	healthBits := uint8(b.u(136, 8))
	if !d.cb.Process(d.health(prn, xmitPRN, healthBits, f)) {
		return false
	}
	deltaI := semi(b.s(98, 16), -19)
	ahalf := scaleU(b.u(150, 24), -11)
	toa := scaleU(b.u(90, 8), 12)
	alm := &core.GPSLNavAlm{
		OrbitKepler: core.OrbitKepler{
			Ecc:      scaleU(b.u(68, 16), -21),
			I0:       0.3*math.Pi + deltaI,
			OMEGAdot: semi(b.s(120, 16), -38),
			A:        ahalf * ahalf,
			OMEGA0:   semi(b.s(180, 24), -23),
			W:        semi(b.s(210, 24), -23),
			M0:       semi(b.s(240, 24), -23),
			Af0:      scaleS(b.split(270, 8, 289, 3), -20),
			Af1:      scaleS(b.s(278, 11), -38),
		},
		Pre:        uint32(b.u(0, 8)),
		Toa:        toa,
		DeltaI:     deltaI,
		HealthBits: healthBits,
	}
	status := model.HealthHealthy
	if healthBits != 0 {
		status = model.HealthUnhealthy
	}
	nd := &core.NavData{
		ID:        d.id(prn, xmitPRN, model.MsgAlmanac),
		TimeStamp: f.xmit,
		XmitTime:  f.xmit,
		Health:    status,
		Payload:   alm,
	}
	if ref, ok := d.wna[xmitPRN]; ok && refSOW(ref) == toa {
		return d.cb.Process(finishAlm(nd, ref))
	}
	d.pending[xmitPRN] = append(d.pending[xmitPRN], pendingAlm{nd: nd, toa: toa})
	return true
}

func refSOW(t navtime.CommonTime) float64 {
	_, sow := t.GPSWeek()
	return sow
}

func finishAlm(nd *core.NavData, ref navtime.CommonTime) *core.NavData {
	alm := nd.Payload.(*core.GPSLNavAlm)
	alm.Toe, alm.Toc = ref, ref
	nd.FixFit()
	return nd
}

// page25 reads the almanac reference week and the six-bit health of PRN
// 1-24, then releases any almanacs that were waiting for that week.
func (d *decoder) page25(xmitPRN int, f *frame) bool {
	b := f.bits
	toa := scaleU(b.u(68, 8), 12)
	refWeek, _ := f.xmit.GPSWeek()
	wna := formats.RolloverWeek(int(b.u(76, 8)), 8, refWeek)
	ref := navtime.GPSWeekSecond(wna, toa, navtime.GPS)
	d.wna[xmitPRN] = ref

	kept := d.pending[xmitPRN][:0]
	for _, p := range d.pending[xmitPRN] {
		if p.toa != toa {
			kept = append(kept, p)
			continue
		}
		if !d.cb.Process(finishAlm(p.nd, ref)) {
			return false
		}
	}
	d.pending[xmitPRN] = kept

	for i := 0; i < 24; i++ {
		bit := 90 + i/4*30 + i%4*6
		if !d.cb.Process(d.health(i+1, xmitPRN, uint8(b.u(bit, 6)), f)) {
			return false
		}
	}
	return true
}

// page25Sub4 reads the six-bit health of PRN 25-32.
func (d *decoder) page25Sub4(xmitPRN int, f *frame) bool {
	if !d.cb.Process(d.health(25, xmitPRN, uint8(f.bits.u(228, 6)), f)) {
		return false
	}
	for i := 0; i < 7; i++ {
		bit := 240 + i/4*30 + i%4*6
		if !d.cb.Process(d.health(26+i, xmitPRN, uint8(f.bits.u(bit, 6)), f)) {
			return false
		}
	}
	return true
}

// utcIono reads subframe 4 page 18: the Klobuchar coefficients and the
// GPS-UTC parameters.
func (d *decoder) utcIono(xmitPRN int, f *frame) bool {
	b := f.bits
	refWeek, _ := f.xmit.GPSWeek()
	wnt := formats.RolloverWeek(int(b.u(226, 8)), 8, refWeek)
	wnLSF := formats.RolloverWeek(int(b.u(248, 8)), 8, refWeek)
	off := &core.StdTimeOffset{
		Src:       navtime.GPS,
		Tgt:       navtime.UTC,
		A0:        scaleS(b.split(180, 24, 210, 8), -30),
		A1:        scaleS(b.s(150, 24), -50),
		DeltaTLS:  float64(b.s(240, 8)),
		RefTime:   navtime.GPSWeekSecond(wnt, scaleU(b.u(218, 8), 12), navtime.GPS),
		EffTime:   navtime.GPSWeekSecond(wnLSF, float64(b.u(256, 8))*86400, navtime.GPS),
		DeltaTLSF: float64(b.s(270, 8)),
	}
	iono := &core.KlobucharIono{
		Alpha: [4]float64{
			scaleS(b.s(68, 8), -30),
			scaleS(b.s(76, 8), -27),
			scaleS(b.s(90, 8), -24),
			scaleS(b.s(98, 8), -24),
		},
		Beta: [4]float64{
			scaleS(b.s(106, 8), 11),
			scaleS(b.s(120, 8), 14),
			scaleS(b.s(128, 8), 16),
			scaleS(b.s(136, 8), 16),
		},
	}
	offND := &core.NavData{
		ID:        d.id(xmitPRN, xmitPRN, model.MsgTimeOffset),
		TimeStamp: f.xmit,
		XmitTime:  f.xmit,
		Payload:   off,
	}
	ionoND := &core.NavData{
		ID:        d.id(xmitPRN, xmitPRN, model.MsgIono),
		TimeStamp: f.xmit,
		XmitTime:  f.xmit,
		Payload:   iono,
	}
	return d.cb.Process(offND) && d.cb.Process(ionoND)
}
