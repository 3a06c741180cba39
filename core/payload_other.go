package core

import (
	"math"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// BDSD1NavEph is a BeiDou D1 (MEO/IGSO) or D2 (GEO) ephemeris. Times are in
// BDT.
type BDSD1NavEph struct {
	OrbitKepler
	Xmit2, Xmit3    navtime.CommonTime
	Pre, Pre2, Pre3 uint32
	AODE, AODC      uint8
	SatH1           uint8
	URAI            uint8
	Tgd1, Tgd2      float64
}

func (*BDSD1NavEph) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*BDSD1NavEph) isPayload() {}

// SP3Orbit is one precise position sample in metres (and optionally a
// velocity in m/s). Clock values live in SP3Clock records; an interpolated
// result carries both.
type SP3Orbit struct {
	Pos      model.Vec3
	Vel      model.Vec3
	HasVel   bool
	PosSigma model.Vec3
	ClkBias  float64
	ClkDrift float64
	HasClock bool
}

func (*SP3Orbit) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*SP3Orbit) isPayload() {}

// SP3Clock is one precise clock sample in seconds.
type SP3Clock struct {
	Bias     float64
	Drift    float64
	HasDrift bool
	Sigma    float64
}

func (*SP3Clock) MessageType() model.NavMessageType { return model.MsgClock }
func (*SP3Clock) isPayload() {}

// StdTimeOffset relates two time systems with a quadratic polynomial plus a
// leap second count:
//
//	offset = DeltaTLS + A0 + A1*dt + A2*dt^2, dt = when - RefTime
//
// The offset converts Src to Tgt as t_tgt = t_src - offset.
type StdTimeOffset struct {
	Src, Tgt   navtime.TimeSystem
	A0, A1, A2 float64
	DeltaTLS   float64
	RefTime    navtime.CommonTime
	// EffTime is when DeltaTLSF replaces DeltaTLS. Zero means no scheduled
	// change.
	EffTime   navtime.CommonTime
	DeltaTLSF float64
}

func (*StdTimeOffset) MessageType() model.NavMessageType { return model.MsgTimeOffset }
func (*StdTimeOffset) isPayload() {}

// Converts reports whether the record relates from and to in either
// direction.
func (o *StdTimeOffset) Converts(from, to navtime.TimeSystem) bool {
	return (o.Src == from && o.Tgt == to) || (o.Src == to && o.Tgt == from)
}

// Offset evaluates the polynomial at when, which must be expressed in the
// from system. The sign follows the direction of conversion.
func (o *StdTimeOffset) Offset(from, to navtime.TimeSystem, when navtime.CommonTime) (float64, bool) {
	if !o.Converts(from, to) {
		return 0, false
	}
	ref, ok := expressIn(o.RefTime, when.System())
	if !ok {
		return 0, false
	}
	dt, err := when.Sub(ref)
	if err != nil {
		return 0, false
	}
	leap := o.DeltaTLS
	if !o.EffTime.IsZero() {
		eff, ok := expressIn(o.EffTime, when.System())
		if !ok {
			return 0, false
		}
		if !when.Before(eff) {
			leap = o.DeltaTLSF
		}
	}
	offset := leap + o.A0 + o.A1*dt + o.A2*dt*dt
	if from == o.Tgt {
		offset = -offset
	}
	return offset, true
}

// expressIn converts t to sys. Wildcard systems on either side are
// relabelled, since they name no scale to convert from or to.
func expressIn(t navtime.CommonTime, sys navtime.TimeSystem) (navtime.CommonTime, bool) {
	switch {
	case t.System() == sys:
		return t, true
	case isWild(t.System()), isWild(sys):
		return t.WithSystem(sys), true
	}
	out, err := t.Convert(sys)
	return out, err == nil
}

func isWild(sys navtime.TimeSystem) bool {
	return sys == navtime.Any || sys == navtime.Unknown
}

// KlobucharIono holds the broadcast ionosphere model coefficients.
type KlobucharIono struct {
	Alpha [4]float64 // s, s/semicircle, s/semicircle^2, s/semicircle^3
	Beta  [4]float64 // s, s/semicircle, ...
}

func (*KlobucharIono) MessageType() model.NavMessageType { return model.MsgIono }
func (*KlobucharIono) isPayload() {}

// Correction returns the ionospheric group delay in metres on band for a
// signal from sv received at rx.
func (k *KlobucharIono) Correction(when navtime.CommonTime, rx, sv model.Position, band model.CarrierBand) float64 {
	latDeg, lonDeg, _ := rx.Geodetic()
	elDeg := rx.ElevationDegrees(sv)
	azDeg := rx.AzimuthDegrees(sv)

	// semicircles
	el := elDeg / 180
	az := azDeg / 180
	lat := latDeg / 180
	lon := lonDeg / 180

	psi := 0.0137/(el+0.11) - 0.022
	phiI := lat + psi*math.Cos(az*math.Pi)
	if phiI > 0.416 {
		phiI = 0.416
	} else if phiI < -0.416 {
		phiI = -0.416
	}
	lambdaI := lon + psi*math.Sin(az*math.Pi)/math.Cos(phiI*math.Pi)
	_, sow := when.GPSWeek()
	t := math.Mod(43200*lambdaI+math.Mod(sow, 86400), 86400)
	if t < 0 {
		t += 86400
	}
	phiM := phiI + 0.064*math.Cos((lambdaI-1.617)*math.Pi)

	amp := k.Alpha[0] + phiM*(k.Alpha[1]+phiM*(k.Alpha[2]+phiM*k.Alpha[3]))
	if amp < 0 {
		amp = 0
	}
	per := k.Beta[0] + phiM*(k.Beta[1]+phiM*(k.Beta[2]+phiM*k.Beta[3]))
	if per < 72000 {
		per = 72000
	}
	x := 2 * math.Pi * (t - 50400) / per
	f := 1 + 16*math.Pow(0.53-el, 3)

	delay := f * 5e-9
	if math.Abs(x) < 1.57 {
		x2 := x * x
		delay = f * (5e-9 + amp*(1+x2*(-0.5+x2/24)))
	}
	if fr := band.Frequency(); fr > 0 && band != model.BandL1 {
		ratio := model.BandL1.Frequency() / fr
		delay *= ratio * ratio
	}
	return delay * SpeedOfLight
}
