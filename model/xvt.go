package model

import "fmt"

// Xvt is a satellite state evaluated at one instant: ECEF position (m),
// velocity (m/s), clock bias (s), clock drift (s/s) and the relativistic
// clock correction (s).
type Xvt struct {
	X        Vec3
	V        Vec3
	ClkBias  float64
	ClkDrift float64
	RelCorr  float64
	Health   SVHealth
	Frame    string
}

func (x Xvt) String() string {
	return fmt.Sprintf("x=(%.3f, %.3f, %.3f) v=(%.4f, %.4f, %.4f) clk=%.6e drift=%.6e rel=%.6e %s",
		x.X.X, x.X.Y, x.X.Z, x.V.X, x.V.Y, x.V.Z, x.ClkBias, x.ClkDrift, x.RelCorr, x.Health)
}

// Frame names for Xvt.Frame.
const (
	FrameWGS84   = "WGS84"
	FrameITRF    = "ITRF"
	FrameCGCS    = "CGCS2000"
	FrameGTRF    = "GTRF"
	FrameUnknown = "Unknown"
)
