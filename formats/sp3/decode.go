package sp3

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

// Bad clock values are written as 999999.999999 microseconds.
const badClock = 999999.0

type header struct {
	version byte
	timeSys navtime.TimeSystem
	posBase float64
	clkBase float64
	hasVel  bool
}

// signalFor files precise data under a signal that only names the system.
func signalFor(sys model.SatelliteSystem) model.NavSignalID {
	return model.NavSignalID{System: sys, Carrier: model.BandAny, Code: model.CodeAny, Nav: model.NavSP3}
}

type pending struct {
	id    model.NavSatelliteID
	orbit *core.SP3Orbit
	clock *core.SP3Clock
}

type decoder struct {
	lr  *formats.LineReader
	h   header
	cb  core.NavDataCallback
	log logging.Logger
	ctx context.Context

	epoch   navtime.CommonTime
	order   []model.SatID
	current map[model.SatID]*pending
}

// Decode reads an SP3 a/c/d file and hands one orbit record, and one clock
// record where the clock is known, per satellite and epoch to cb.
func Decode(ctx context.Context, r io.Reader, source string, cb core.NavDataCallback, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	d := &decoder{
		lr:      formats.NewLineReader(ctx, r, source),
		cb:      cb,
		log:     log,
		ctx:     ctx,
		current: make(map[model.SatID]*pending),
	}
	first, err := d.readHeader()
	if err != nil {
		return err
	}
	line, ok := first, true
	for ok {
		switch {
		case strings.HasPrefix(line, "EOF"):
			d.flush()
			return nil
		case strings.HasPrefix(line, "*"):
			more, err := d.startEpoch(line)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		case strings.HasPrefix(line, "P"):
			if err := d.position(line); err != nil {
				return err
			}
		case strings.HasPrefix(line, "V"):
			if err := d.velocity(line); err != nil {
				return err
			}
		}
		line, ok = d.lr.Next()
	}
	if err := d.lr.Err(); err != nil {
		return err
	}
	d.flush()
	return nil
}

// readHeader consumes lines up to and returns the first epoch line.
func (d *decoder) readHeader() (string, error) {
	line, ok := d.lr.Next()
	if !ok {
		if err := d.lr.Err(); err != nil {
			return "", err
		}
		return "", d.lr.Errorf("empty file")
	}
	if len(line) < 3 || line[0] != '#' || !strings.ContainsRune("abcd", rune(line[1])) {
		return "", d.lr.Errorf("not an SP3 file")
	}
	d.h = header{version: line[1], timeSys: navtime.GPS, hasVel: line[2] == 'V'}
	firstC, firstF := true, true
	for {
		line, ok = d.lr.Next()
		if !ok {
			if err := d.lr.Err(); err != nil {
				return "", err
			}
			return "", d.lr.Errorf("no epochs")
		}
		switch {
		case strings.HasPrefix(line, "*"):
			return line, nil
		case strings.HasPrefix(line, "%c") && firstC:
			firstC = false
			if d.h.version >= 'c' {
				if ts, err := navtime.ParseTimeSystem(formats.Field(line, 9, 3)); err == nil && ts != navtime.Unknown {
					d.h.timeSys = ts
				}
			}
		case strings.HasPrefix(line, "%f") && firstF:
			firstF = false
			d.h.posBase, _ = formats.ParseFloat(formats.Field(line, 3, 10))
			d.h.clkBase, _ = formats.ParseFloat(formats.Field(line, 14, 12))
		}
	}
}

// startEpoch flushes the previous epoch and parses "*  yyyy mm dd hh mm ss".
func (d *decoder) startEpoch(line string) (bool, error) {
	if !d.flush() {
		return false, nil
	}
	f := strings.Fields(line[1:])
	if len(f) < 6 {
		return false, d.lr.Errorf("epoch line %q", line)
	}
	var n [5]int
	for i := range n {
		v, err := formats.ParseInt(f[i])
		if err != nil {
			return false, d.lr.Errorf("epoch: %v", err)
		}
		n[i] = v
	}
	sec, err := formats.ParseFloat(f[5])
	if err != nil {
		return false, d.lr.Errorf("epoch: %v", err)
	}
	d.epoch = navtime.FromCivil(n[0], n[1], n[2], n[3], n[4], sec, d.h.timeSys)
	return true, nil
}

func (d *decoder) satField(line string) (model.SatID, error) {
	raw := formats.Field(line, 1, 3)
	if raw != "" && raw[0] >= '0' && raw[0] <= '9' {
		raw = "G" + raw
	}
	sat, err := model.ParseSatID(strings.ReplaceAll(raw, " ", "0"))
	if err != nil {
		return model.SatID{}, d.lr.Errorf("satellite: %v", err)
	}
	return sat, nil
}

// values parses the three coordinates and the clock of a P or V line.
func (d *decoder) values(line string) ([4]float64, error) {
	var v [4]float64
	for i := range v {
		x, err := formats.ParseFloat(formats.Field(line, 4+14*i, 14))
		if err != nil {
			return v, d.lr.Errorf("value %d: %v", i, err)
		}
		v[i] = x
	}
	return v, nil
}

// sigma converts a base^exponent accuracy field into the given unit.
func sigma(base float64, field string, unit float64) float64 {
	exp, err := formats.ParseInt(field)
	if err != nil || field == "" || base <= 0 {
		return 0
	}
	return math.Pow(base, float64(exp)) * unit
}

func (d *decoder) position(line string) error {
	sat, err := d.satField(line)
	if err != nil {
		return err
	}
	v, err := d.values(line)
	if err != nil {
		return err
	}
	p := &pending{
		id:    model.NavSatelliteID{NavSignalID: signalFor(sat.System), Sat: sat, XmitSat: sat},
		orbit: &core.SP3Orbit{},
	}
	if v[0] == 0 && v[1] == 0 && v[2] == 0 {
		d.log.Debug(d.ctx, "sp3 position missing",
			logging.String("sat", sat.String()),
			logging.String("epoch", d.epoch.String()),
		)
		nan := math.NaN()
		p.orbit.Pos = model.Vec3{X: nan, Y: nan, Z: nan}
	} else {
		// km to m
		p.orbit.Pos = model.Vec3{X: v[0] * 1000, Y: v[1] * 1000, Z: v[2] * 1000}
	}
	p.orbit.PosSigma = model.Vec3{
		X: sigma(d.h.posBase, formats.Field(line, 61, 2), 1e-3),
		Y: sigma(d.h.posBase, formats.Field(line, 64, 2), 1e-3),
		Z: sigma(d.h.posBase, formats.Field(line, 67, 2), 1e-3),
	}
	if v[3] < badClock && v[3] != 0 {
		p.orbit.HasClock = true
		p.orbit.ClkBias = v[3] * 1e-6
		p.clock = &core.SP3Clock{
			Bias:  p.orbit.ClkBias,
			Sigma: sigma(d.h.clkBase, formats.Field(line, 70, 3), 1e-12),
		}
	}
	if _, seen := d.current[sat]; !seen {
		d.order = append(d.order, sat)
	}
	d.current[sat] = p
	return nil
}

func (d *decoder) velocity(line string) error {
	sat, err := d.satField(line)
	if err != nil {
		return err
	}
	p, ok := d.current[sat]
	if !ok {
		return d.lr.Errorf("velocity for %s without a position", sat)
	}
	v, err := d.values(line)
	if err != nil {
		return err
	}
	// dm/s to m/s, 1e-4 us/s to s/s
	p.orbit.Vel = model.Vec3{X: v[0] / 10, Y: v[1] / 10, Z: v[2] / 10}
	p.orbit.HasVel = true
	if p.orbit.HasClock && v[3] < badClock {
		p.orbit.ClkDrift = v[3] * 1e-10
		p.clock.Drift = p.orbit.ClkDrift
		p.clock.HasDrift = true
	}
	return nil
}

// flush emits the records gathered for the current epoch. It returns false
// once the callback asked to stop.
func (d *decoder) flush() bool {
	for _, sat := range d.order {
		p := d.current[sat]
		orbit := &core.NavData{
			ID:        model.NewNavMessageID(p.id, model.MsgEphemeris),
			TimeStamp: d.epoch,
			XmitTime:  d.epoch,
			Health:    model.HealthHealthy,
			Payload:   p.orbit,
		}
		if !d.cb.Process(orbit) {
			return false
		}
		if p.clock == nil {
			continue
		}
		clock := &core.NavData{
			ID:        model.NewNavMessageID(p.id, model.MsgClock),
			TimeStamp: d.epoch,
			XmitTime:  d.epoch,
			Health:    model.HealthHealthy,
			Payload:   p.clock,
		}
		if !d.cb.Process(clock) {
			return false
		}
	}
	d.order = d.order[:0]
	clear(d.current)
	return true
}
