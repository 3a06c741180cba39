package model

import "math"

// WGS84 ellipsoid.
const (
	WGS84SemiMajor     = 6378137.0
	WGS84Flattening    = 1.0 / 298.257223563
	wgs84Eccentricity2 = WGS84Flattening * (2 - WGS84Flattening)
)

// Vec3 is an ECEF vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Position is a point in ECEF metres.
type Position struct {
	Vec3
}

// NewPosition wraps ECEF coordinates.
func NewPosition(x, y, z float64) Position {
	return Position{Vec3{X: x, Y: y, Z: z}}
}

// FromGeodetic builds a position from geodetic latitude and longitude in
// degrees and height above the ellipsoid in metres.
func FromGeodetic(latDeg, lonDeg, height float64) Position {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	sinLat := math.Sin(lat)
	n := WGS84SemiMajor / math.Sqrt(1-wgs84Eccentricity2*sinLat*sinLat)
	return NewPosition(
		(n+height)*math.Cos(lat)*math.Cos(lon),
		(n+height)*math.Cos(lat)*math.Sin(lon),
		(n*(1-wgs84Eccentricity2)+height)*sinLat,
	)
}

// Geodetic returns latitude and longitude in degrees and height in metres.
func (p Position) Geodetic() (latDeg, lonDeg, height float64) {
	x, y, z := p.X, p.Y, p.Z
	rho := math.Hypot(x, y)
	lon := math.Atan2(y, x)
	if rho < 1e-9 {
		lat := math.Copysign(math.Pi/2, z)
		b := WGS84SemiMajor * (1 - WGS84Flattening)
		return lat * 180 / math.Pi, lon * 180 / math.Pi, math.Abs(z) - b
	}
	lat := math.Atan2(z, rho*(1-wgs84Eccentricity2))
	var n, h float64
	for i := 0; i < 10; i++ {
		sinLat := math.Sin(lat)
		n = WGS84SemiMajor / math.Sqrt(1-wgs84Eccentricity2*sinLat*sinLat)
		h = rho/math.Cos(lat) - n
		next := math.Atan2(z, rho*(1-wgs84Eccentricity2*n/(n+h)))
		if math.Abs(next-lat) < 1e-12 {
			lat = next
			break
		}
		lat = next
	}
	return lat * 180 / math.Pi, lon * 180 / math.Pi, h
}

// enu rotates the line of sight to target into the local east/north/up frame
// at p.
func (p Position) enu(target Position) (e, n, u float64) {
	latDeg, lonDeg, _ := p.Geodetic()
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	d := target.Sub(p.Vec3)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)
	e = -sinLon*d.X + cosLon*d.Y
	n = -sinLat*cosLon*d.X - sinLat*sinLon*d.Y + cosLat*d.Z
	u = cosLat*cosLon*d.X + cosLat*sinLon*d.Y + sinLat*d.Z
	return
}

// ElevationDegrees returns the geodetic elevation of target seen from p.
// 0 is the local horizon, 90 is overhead.
func (p Position) ElevationDegrees(target Position) float64 {
	e, n, u := p.enu(target)
	horiz := math.Hypot(e, n)
	if horiz == 0 && u == 0 {
		return 90
	}
	return math.Atan2(u, horiz) * 180 / math.Pi
}

// AzimuthDegrees returns the geodetic azimuth of target seen from p,
// clockwise from north in [0, 360).
func (p Position) AzimuthDegrees(target Position) float64 {
	e, n, _ := p.enu(target)
	az := math.Atan2(e, n) * 180 / math.Pi
	if az < 0 {
		az += 360
	}
	return az
}
