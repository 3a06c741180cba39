package core

import (
	"fmt"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

type orbitCarrier interface {
	orbit() *OrbitKepler
}

// orbitOf returns the Keplerian elements of an orbit payload, or nil.
func orbitOf(p Payload) *OrbitKepler {
	if oc, ok := p.(orbitCarrier); ok {
		return oc.orbit()
	}
	return nil
}

// IsOrbit reports whether the record can be evaluated for a position.
func (nd *NavData) IsOrbit() bool {
	switch nd.Payload.(type) {
	case *SP3Orbit, *TLEOrbit:
		return true
	}
	return orbitOf(nd.Payload) != nil
}

// Xvt evaluates an orbit record at when. The query time is converted into
// the record's time system first; a query in Unknown against a known system
// fails with navtime.ErrTimeSystemMismatch.
func (nd *NavData) Xvt(when navtime.CommonTime) (model.Xvt, error) {
	if nd == nil {
		return model.Xvt{}, ErrNilNavData
	}
	var (
		xvt model.Xvt
		err error
	)
	switch p := nd.Payload.(type) {
	case *GPSLNavEph, *GPSLNavAlm, *GPSCNavEph, *GPSCNav2Eph, *GPSCNav2Alm,
		*GalINavEph, *GalFNavEph, *GalINavAlm, *GalFNavAlm:
		k := orbitOf(p)
		w, aerr := alignTo(when, k.Toe.System())
		if aerr != nil {
			return model.Xvt{}, aerr
		}
		xvt, err = k.keplerXvt(w, nd.ID.Sat.System, false)
	case *BDSD1NavEph:
		w, aerr := alignTo(when, p.Toe.System())
		if aerr != nil {
			return model.Xvt{}, aerr
		}
		xvt, err = p.keplerXvt(w, model.SystemBeiDou, isBeiDouGEO(nd.ID.Sat.ID))
	case *SP3Orbit:
		xvt = model.Xvt{X: p.Pos, V: p.Vel, ClkBias: p.ClkBias, ClkDrift: p.ClkDrift, Frame: model.FrameITRF}
	case *TLEOrbit:
		xvt, err = p.xvt(when)
	default:
		return model.Xvt{}, fmt.Errorf("%w: xvt for %T", ErrUnsupportedPayload, nd.Payload)
	}
	if err != nil {
		return model.Xvt{}, err
	}
	xvt.Health = nd.HealthStatus()
	return xvt, nil
}

// alignTo expresses when in sys. Any retags, equal systems pass through,
// two known systems convert, anything else is a mismatch.
func alignTo(when navtime.CommonTime, sys navtime.TimeSystem) (navtime.CommonTime, error) {
	switch {
	case when.System() == sys, sys == navtime.Any:
		return when, nil
	case when.System() == navtime.Any:
		return when.WithSystem(sys), nil
	case when.System() == navtime.Unknown || sys == navtime.Unknown:
		return when, fmt.Errorf("%w: %s query against %s data", navtime.ErrTimeSystemMismatch, when.System(), sys)
	}
	return when.Convert(sys)
}
