package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const earthRotationRate = 7.2921151467e-5

// TLEOrbit is a two-line element set propagated with SGP4. It is used for
// satellites with no broadcast or precise orbit available.
type TLEOrbit struct {
	Line1, Line2 string
	NoradID      int
	Epoch        navtime.CommonTime // UTC

	sat satellite.Satellite
}

func (*TLEOrbit) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*TLEOrbit) isPayload() {}

// NewTLEOrbit validates and initialises SGP4 for the element set. The lines
// are checked before go-satellite sees them since it exits the process on
// malformed input.
func NewTLEOrbit(line1, line2 string) (*TLEOrbit, error) {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")
	o := &TLEOrbit{Line1: line1, Line2: line2}
	if err := o.validate(); err != nil {
		return nil, err
	}
	norad, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return nil, fmt.Errorf("%w: norad id %q", ErrSourceFormat, line1[2:7])
	}
	o.NoradID = norad
	epoch, err := tleEpoch(line1[18:32])
	if err != nil {
		return nil, err
	}
	o.Epoch = epoch

	o.sat = satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if o.sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init failed for %d: code=%d %s", ErrSourceFormat, norad, o.sat.Error, o.sat.ErrorStr)
	}
	return o, nil
}

func (o *TLEOrbit) validate() error {
	if len(o.Line1) != 69 || len(o.Line2) != 69 {
		return fmt.Errorf("%w: tle line lengths %d/%d, expected 69", ErrSourceFormat, len(o.Line1), len(o.Line2))
	}
	if o.Line1[0] != '1' || o.Line2[0] != '2' {
		return fmt.Errorf("%w: tle lines must start with 1 and 2", ErrSourceFormat)
	}
	return nil
}

// tleEpoch parses the YYDDD.DDDDDDDD epoch field.
func tleEpoch(field string) (navtime.CommonTime, error) {
	field = strings.TrimSpace(field)
	if len(field) < 5 {
		return navtime.CommonTime{}, fmt.Errorf("%w: tle epoch %q", ErrSourceFormat, field)
	}
	yy, err := strconv.Atoi(field[:2])
	if err != nil {
		return navtime.CommonTime{}, fmt.Errorf("%w: tle epoch year %q", ErrSourceFormat, field)
	}
	days, err := strconv.ParseFloat(field[2:], 64)
	if err != nil {
		return navtime.CommonTime{}, fmt.Errorf("%w: tle epoch day %q", ErrSourceFormat, field)
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	doy := int(days)
	return navtime.FromYDS(year, doy, (days-float64(doy))*86400, navtime.UTC), nil
}

// xvt propagates to when and rotates TEME into ECEF.
func (o *TLEOrbit) xvt(when navtime.CommonTime) (model.Xvt, error) {
	utc, err := when.Convert(navtime.UTC)
	if err != nil {
		return model.Xvt{}, err
	}
	y, mo, d, h, mi, s := utc.Civil()
	sec := int(s)
	frac := s - float64(sec)

	pos, vel := satellite.Propagate(o.sat, y, mo, d, h, mi, sec)
	if isBad(pos.X) || isBad(pos.Y) || isBad(pos.Z) {
		return model.Xvt{}, fmt.Errorf("sgp4 propagation failed for %d: output is NaN/Inf", o.NoradID)
	}
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return model.Xvt{}, fmt.Errorf("sgp4 propagation failed for %d: unreasonable position magnitude %.1f km", o.NoradID, mag)
	}

	gmst := satellite.ThetaG_JD(satellite.JDay(y, mo, d, h, mi, sec))
	p := satellite.ECIToECEF(pos, gmst)
	v := satellite.ECIToECEF(vel, gmst)

	// go-satellite works in kilometres; Xvt is in metres.
	const kmToM = 1000.0
	x := model.Vec3{X: p.X * kmToM, Y: p.Y * kmToM, Z: p.Z * kmToM}
	ve := model.Vec3{
		X: v.X*kmToM + earthRotationRate*x.Y,
		Y: v.Y*kmToM - earthRotationRate*x.X,
		Z: v.Z * kmToM,
	}
	// Propagate only takes whole seconds; step the remainder linearly.
	x = model.Vec3{X: x.X + ve.X*frac, Y: x.Y + ve.Y*frac, Z: x.Z + ve.Z*frac}
	return model.Xvt{X: x, V: ve, Frame: model.FrameWGS84}, nil
}
