package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const (
	SpeedOfLight = 299792458.0

	keplerTolerance = 1e-14
	keplerMaxIter   = 30
)

// OrbitKepler holds the broadcast Keplerian elements and clock polynomial
// shared by every ephemeris and almanac payload. A is the semi-major axis at
// Toe in metres.
type OrbitKepler struct {
	Toe, Toc navtime.CommonTime

	M0, Dn, Dndot float64
	Ecc           float64
	A, Adot       float64
	OMEGA0        float64
	I0            float64
	W             float64
	OMEGAdot      float64
	Idot          float64

	Cuc, Cus float64
	Crc, Crs float64
	Cic, Cis float64

	Af0, Af1, Af2 float64
}

func (k *OrbitKepler) orbit() *OrbitKepler { return k }

// keplerSane rejects elements that can never produce a bounded orbit.
func (k *OrbitKepler) keplerSane() bool {
	return k.Ecc >= 0 && k.Ecc < 1 && k.A >= 0 && !isBad(k.M0) && !isBad(k.A)
}

// Ahalf is the square root of the semi-major axis.
func (k *OrbitKepler) Ahalf() float64 { return math.Sqrt(k.A) }

// orbitConstants are the per-constellation values used when evaluating
// broadcast elements.
type orbitConstants struct {
	GM     float64 // m^3/s^2
	OmegaE float64 // rad/s
	Frame  string
}

var (
	gpsConstants = orbitConstants{GM: 3.986005e14, OmegaE: 7.2921151467e-5, Frame: model.FrameWGS84}
	galConstants = orbitConstants{GM: 3.986004418e14, OmegaE: 7.2921151467e-5, Frame: model.FrameGTRF}
	bdsConstants = orbitConstants{GM: 3.986004418e14, OmegaE: 7.2921150e-5, Frame: model.FrameCGCS}
)

func constantsFor(sys model.SatelliteSystem) orbitConstants {
	switch sys {
	case model.SystemGalileo:
		return galConstants
	case model.SystemBeiDou:
		return bdsConstants
	}
	return gpsConstants
}

// SolveKepler solves E - e*sin(E) = M for the eccentric anomaly with Newton
// iterations, failing with ErrKeplerNoConvergence instead of looping.
func SolveKepler(meanAnomaly, ecc float64) (float64, error) {
	return solveKepler(meanAnomaly, ecc, keplerMaxIter)
}

func solveKepler(meanAnomaly, ecc float64, maxIter int) (float64, error) {
	if isBad(meanAnomaly) || isBad(ecc) || ecc < 0 || ecc >= 1 {
		return 0, fmt.Errorf("%w: M=%g e=%g", ErrKeplerNoConvergence, meanAnomaly, ecc)
	}
	ea := meanAnomaly + ecc*math.Sin(meanAnomaly)
	for i := 0; i < maxIter; i++ {
		delta := (ea - ecc*math.Sin(ea) - meanAnomaly) / (1 - ecc*math.Cos(ea))
		ea -= delta
		if math.Abs(delta) <= keplerTolerance {
			return ea, nil
		}
	}
	return 0, fmt.Errorf("%w: M=%g e=%g after %d iterations", ErrKeplerNoConvergence, meanAnomaly, ecc, maxIter)
}

// clock returns the polynomial clock bias (s) and drift (s/s) at when.
func (k *OrbitKepler) clock(when navtime.CommonTime) (bias, drift float64, err error) {
	dt, err := when.Sub(k.Toc)
	if err != nil {
		return 0, 0, err
	}
	bias = k.Af0 + dt*(k.Af1+dt*k.Af2)
	drift = k.Af1 + 2*dt*k.Af2
	return bias, drift, nil
}

// planeState is the satellite state in the orbital plane plus the angles
// needed to rotate it into ECEF.
type planeState struct {
	xip, yip       float64 // in-plane position
	xipDot, yipDot float64
	cosi, sini     float64
	inclDot        float64
	ea, ecc, ak    float64
}

func (k *OrbitKepler) inPlane(elapte float64, c orbitConstants) (planeState, error) {
	ak := k.A + k.Adot*elapte
	dnA := k.Dn + 0.5*k.Dndot*elapte
	amm := math.Sqrt(c.GM)/(k.A*math.Sqrt(k.A)) + dnA

	meana := math.Mod(k.M0+elapte*amm, 2*math.Pi)
	ea, err := SolveKepler(meana, k.Ecc)
	if err != nil {
		return planeState{}, err
	}

	ecc := k.Ecc
	g := math.Sqrt(1 - ecc*ecc)
	sinea, cosea := math.Sincos(ea)
	gsta := g * sinea
	gcta := cosea - ecc
	v := math.Atan2(gsta, gcta)

	alat := v + k.W
	s2al, c2al := math.Sincos(2 * alat)
	du := c2al*k.Cuc + s2al*k.Cus
	dr := c2al*k.Crc + s2al*k.Crs
	di := c2al*k.Cic + s2al*k.Cis

	u := alat + du
	r := ak*(1-ecc*cosea) + dr
	incl := k.I0 + k.Idot*elapte + di

	su, cu := math.Sincos(u)
	sini, cosi := math.Sincos(incl)

	// rates
	eaDot := amm / (1 - ecc*cosea)
	vDot := eaDot * g / (1 - ecc*cosea)
	alatDot := vDot
	duDot := 2 * alatDot * (c2al*k.Cus - s2al*k.Cuc)
	drDot := 2 * alatDot * (c2al*k.Crs - s2al*k.Crc)
	diDot := 2 * alatDot * (c2al*k.Cis - s2al*k.Cic)
	uDot := alatDot + duDot
	rDot := ak*ecc*sinea*eaDot + k.Adot*(1-ecc*cosea) + drDot

	return planeState{
		xip:     r * cu,
		yip:     r * su,
		xipDot:  rDot*cu - r*su*uDot,
		yipDot:  rDot*su + r*cu*uDot,
		cosi:    cosi,
		sini:    sini,
		inclDot: k.Idot + diDot,
		ea:      ea,
		ecc:     ecc,
		ak:      ak,
	}, nil
}

// keplerXvt evaluates the elements at when. geo selects the BeiDou GEO
// rotation.
func (k *OrbitKepler) keplerXvt(when navtime.CommonTime, sys model.SatelliteSystem, geo bool) (model.Xvt, error) {
	c := constantsFor(sys)
	elapte, err := when.Sub(k.Toe)
	if err != nil {
		return model.Xvt{}, err
	}
	ps, err := k.inPlane(elapte, c)
	if err != nil {
		return model.Xvt{}, err
	}
	toeSOW := secondsOfWeek(k.Toe, sys)

	var xvt model.Xvt
	if geo {
		xvt.X, xvt.V = geoECEF(k, ps, elapte, toeSOW, c)
	} else {
		anlon := k.OMEGA0 + (k.OMEGAdot-c.OmegaE)*elapte - c.OmegaE*toeSOW
		xvt.X, xvt.V = planeToECEF(ps, anlon, k.OMEGAdot-c.OmegaE)
	}

	xvt.ClkBias, xvt.ClkDrift, err = k.clock(when)
	if err != nil {
		return model.Xvt{}, err
	}
	xvt.RelCorr = -2 * math.Sqrt(c.GM) / (SpeedOfLight * SpeedOfLight) * ps.ecc * math.Sqrt(ps.ak) * math.Sin(ps.ea)
	xvt.Frame = c.Frame
	return xvt, nil
}

func planeToECEF(ps planeState, anlon, anlonDot float64) (model.Vec3, model.Vec3) {
	sanl, canl := math.Sincos(anlon)
	pos := model.Vec3{
		X: ps.xip*canl - ps.yip*ps.cosi*sanl,
		Y: ps.xip*sanl + ps.yip*ps.cosi*canl,
		Z: ps.yip * ps.sini,
	}
	vel := model.Vec3{
		X: -anlonDot*pos.Y + ps.xipDot*canl - (ps.yipDot*ps.cosi-ps.yip*ps.sini*ps.inclDot)*sanl,
		Y: anlonDot*pos.X + ps.xipDot*sanl + (ps.yipDot*ps.cosi-ps.yip*ps.sini*ps.inclDot)*canl,
		Z: ps.yipDot*ps.sini + ps.yip*ps.cosi*ps.inclDot,
	}
	return pos, vel
}

// geoECEF handles BeiDou GEO satellites, whose elements are broadcast in an
// inertial-like frame tilted by 5 degrees.
func geoECEF(k *OrbitKepler, ps planeState, elapte, toeSOW float64, c orbitConstants) (model.Vec3, model.Vec3) {
	at := func(ps planeState, dt float64) model.Vec3 {
		anlon := k.OMEGA0 + k.OMEGAdot*dt - c.OmegaE*toeSOW
		sanl, canl := math.Sincos(anlon)
		xg := ps.xip*canl - ps.yip*ps.cosi*sanl
		yg := ps.xip*sanl + ps.yip*ps.cosi*canl
		zg := ps.yip * ps.sini

		sx, cx := math.Sincos(-5 * math.Pi / 180)
		sz, cz := math.Sincos(c.OmegaE * dt)
		// Rx(-5 deg) then Rz(omegaE*dt)
		y1 := cx*yg + sx*zg
		z1 := -sx*yg + cx*zg
		return model.Vec3{
			X: cz*xg + sz*y1,
			Y: -sz*xg + cz*y1,
			Z: z1,
		}
	}
	pos := at(ps, elapte)

	const h = 0.5
	vel := model.Vec3{}
	before, errB := k.inPlane(elapte-h, c)
	after, errA := k.inPlane(elapte+h, c)
	if errB == nil && errA == nil {
		p0 := at(before, elapte-h)
		p1 := at(after, elapte+h)
		vel = model.Vec3{X: (p1.X - p0.X) / (2 * h), Y: (p1.Y - p0.Y) / (2 * h), Z: (p1.Z - p0.Z) / (2 * h)}
	}
	return pos, vel
}

// secondsOfWeek expresses t in the week of the constellation whose
// elements are being evaluated.
func secondsOfWeek(t navtime.CommonTime, sys model.SatelliteSystem) float64 {
	switch sys {
	case model.SystemBeiDou:
		_, sow := t.BDSWeek()
		return sow
	case model.SystemGalileo:
		_, sow := t.GALWeek()
		return sow
	}
	_, sow := t.GPSWeek()
	return sow
}

// isBeiDouGEO reports whether a BeiDou PRN is a geostationary satellite.
func isBeiDouGEO(prn int) bool {
	return (prn >= 1 && prn <= 5) || (prn >= 59 && prn <= 63)
}

func isBad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func vecBad(v model.Vec3) bool { return isBad(v.X) || isBad(v.Y) || isBad(v.Z) }
