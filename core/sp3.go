package core

import (
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const (
	// SP3InterpolationPoints is the number of samples fed to the Lagrange
	// polynomial when enough are available.
	SP3InterpolationPoints = 10
	// SP3MaxGap is the largest spacing, in seconds, between neighbouring
	// samples that interpolation will bridge.
	SP3MaxGap = 900.0
)

// InterpolateOrbit builds an SP3Orbit record at when from time-ordered
// samples of one satellite. Position comes from a Lagrange polynomial over
// up to SP3InterpolationPoints neighbouring samples; velocity from the same
// polynomial over the velocity samples when every sample has one, otherwise
// from the derivative of the position polynomial. Clock values are linear
// between the two bracketing samples.
//
// Times outside the data, or inside a gap wider than SP3MaxGap, fail with
// an error matching both ErrNavDataNotFound and ErrOrbitGap.
func InterpolateOrbit(samples []*NavData, when navtime.CommonTime) (*NavData, error) {
	lo, hi, w, err := bracket(samples, when)
	if err != nil {
		return nil, err
	}
	first, last := contiguousRun(samples, lo, hi)
	n := last - first + 1
	if n > SP3InterpolationPoints {
		n = SP3InterpolationPoints
	}
	start := lo - n/2 + 1
	if start < first {
		start = first
	}
	if start+n-1 > last {
		start = last - n + 1
	}
	window := samples[start : start+n]

	ref := window[0].TimeStamp
	xs := make([]float64, n)
	pos := make([]model.Vec3, n)
	vel := make([]model.Vec3, n)
	allVel := true
	for i, nd := range window {
		p, ok := nd.Payload.(*SP3Orbit)
		if !ok {
			return nil, fmt.Errorf("%w: %T in orbit samples", ErrUnsupportedPayload, nd.Payload)
		}
		xs[i] = sinceRef(nd.TimeStamp, ref)
		pos[i] = p.Pos
		vel[i] = p.Vel
		allVel = allVel && p.HasVel
	}
	x := sinceRef(w, ref)

	out := &SP3Orbit{HasVel: true}
	out.Pos = lagrangeVec(xs, pos, x)
	if allVel {
		out.Vel = lagrangeVec(xs, vel, x)
	} else {
		out.Vel = lagrangeDerivVec(xs, pos, x)
	}

	a := samples[lo].Payload.(*SP3Orbit)
	b := samples[hi].Payload.(*SP3Orbit)
	out.PosSigma = maxVec(a.PosSigma, b.PosSigma)
	if a.HasClock && b.HasClock {
		out.HasClock = true
		span := sinceRef(samples[hi].TimeStamp, samples[lo].TimeStamp)
		if span == 0 {
			out.ClkBias, out.ClkDrift = a.ClkBias, a.ClkDrift
		} else {
			frac := sinceRef(w, samples[lo].TimeStamp) / span
			out.ClkBias = a.ClkBias + frac*(b.ClkBias-a.ClkBias)
			if a.HasVel && b.HasVel {
				out.ClkDrift = a.ClkDrift + frac*(b.ClkDrift-a.ClkDrift)
			} else {
				out.ClkDrift = (b.ClkBias - a.ClkBias) / span
			}
		}
	}
	return interpolated(samples[lo], w, out), nil
}

// InterpolateClock builds an SP3Clock record at when, linear between the
// bracketing samples.
func InterpolateClock(samples []*NavData, when navtime.CommonTime) (*NavData, error) {
	lo, hi, w, err := bracket(samples, when)
	if err != nil {
		return nil, err
	}
	a, ok1 := samples[lo].Payload.(*SP3Clock)
	b, ok2 := samples[hi].Payload.(*SP3Clock)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: clock samples expected", ErrUnsupportedPayload)
	}
	out := &SP3Clock{Bias: a.Bias, Drift: a.Drift, HasDrift: true, Sigma: math.Max(a.Sigma, b.Sigma)}
	if span := sinceRef(samples[hi].TimeStamp, samples[lo].TimeStamp); span > 0 {
		frac := sinceRef(w, samples[lo].TimeStamp) / span
		out.Bias = a.Bias + frac*(b.Bias-a.Bias)
		if a.HasDrift && b.HasDrift {
			out.Drift = a.Drift + frac*(b.Drift-a.Drift)
		} else {
			out.Drift = (b.Bias - a.Bias) / span
		}
	}
	return interpolated(samples[lo], w, out), nil
}

func interpolated(proto *NavData, when navtime.CommonTime, p Payload) *NavData {
	return &NavData{
		ID:        proto.ID,
		TimeStamp: when,
		XmitTime:  when,
		Health:    proto.Health,
		Payload:   p,
	}
}

// bracket finds the samples either side of when (the same index twice on
// an exact hit) and returns when expressed in the samples' time system.
func bracket(samples []*NavData, when navtime.CommonTime) (int, int, navtime.CommonTime, error) {
	if len(samples) == 0 {
		return 0, 0, when, fmt.Errorf("%w: no samples", ErrNavDataNotFound)
	}
	w, err := alignTo(when, samples[0].TimeStamp.System())
	if err != nil {
		return 0, 0, when, err
	}
	idx := sort.Search(len(samples), func(i int) bool { return !samples[i].TimeStamp.Before(w) })
	switch {
	case idx < len(samples) && samples[idx].TimeStamp.Equal(w):
		return idx, idx, w, nil
	case idx == 0 || idx == len(samples):
		return 0, 0, w, fmt.Errorf("%w: %w: %s outside %s..%s", ErrNavDataNotFound, ErrOrbitGap,
			w, samples[0].TimeStamp, samples[len(samples)-1].TimeStamp)
	}
	lo, hi := idx-1, idx
	if gap := sinceRef(samples[hi].TimeStamp, samples[lo].TimeStamp); gap > SP3MaxGap {
		return 0, 0, w, fmt.Errorf("%w: %w: %.0f s between %s and %s", ErrNavDataNotFound, ErrOrbitGap,
			gap, samples[lo].TimeStamp, samples[hi].TimeStamp)
	}
	return lo, hi, w, nil
}

// contiguousRun widens [lo, hi] to the surrounding samples not separated by
// more than SP3MaxGap.
func contiguousRun(samples []*NavData, lo, hi int) (int, int) {
	for lo > 0 && sinceRef(samples[lo].TimeStamp, samples[lo-1].TimeStamp) <= SP3MaxGap {
		lo--
	}
	for hi < len(samples)-1 && sinceRef(samples[hi+1].TimeStamp, samples[hi].TimeStamp) <= SP3MaxGap {
		hi++
	}
	return lo, hi
}

// sinceRef is t - ref in seconds, ignoring the time system tags.
func sinceRef(t, ref navtime.CommonTime) float64 {
	d, _ := t.Sub(ref.WithSystem(t.System()))
	return d
}

func lagrange(xs, ys []float64, x float64) float64 {
	var sum float64
	for i := range xs {
		l := 1.0
		for j := range xs {
			if j != i {
				l *= (x - xs[j]) / (xs[i] - xs[j])
			}
		}
		sum += l * ys[i]
	}
	return sum
}

// lagrangeDeriv differentiates the interpolating polynomial at x. It stays
// finite on the nodes themselves.
func lagrangeDeriv(xs, ys []float64, x float64) float64 {
	var sum float64
	for i := range xs {
		var dl float64
		for k := range xs {
			if k == i {
				continue
			}
			term := 1 / (xs[i] - xs[k])
			for j := range xs {
				if j != i && j != k {
					term *= (x - xs[j]) / (xs[i] - xs[j])
				}
			}
			dl += term
		}
		sum += dl * ys[i]
	}
	return sum
}

func lagrangeVec(xs []float64, vs []model.Vec3, x float64) model.Vec3 {
	cx, cy, cz := components(vs)
	return model.Vec3{X: lagrange(xs, cx, x), Y: lagrange(xs, cy, x), Z: lagrange(xs, cz, x)}
}

func lagrangeDerivVec(xs []float64, vs []model.Vec3, x float64) model.Vec3 {
	cx, cy, cz := components(vs)
	return model.Vec3{X: lagrangeDeriv(xs, cx, x), Y: lagrangeDeriv(xs, cy, x), Z: lagrangeDeriv(xs, cz, x)}
}

func components(vs []model.Vec3) (xs, ys, zs []float64) {
	xs = make([]float64, len(vs))
	ys = make([]float64, len(vs))
	zs = make([]float64, len(vs))
	for i, v := range vs {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	return xs, ys, zs
}

func maxVec(a, b model.Vec3) model.Vec3 {
	return model.Vec3{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}
