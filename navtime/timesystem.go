package navtime

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeSystemMismatch    = errors.New("time system mismatch")
	ErrUnsupportedConversion = errors.New("unsupported time system conversion")
)

// TimeSystem identifies the reference scale a CommonTime is expressed in.
type TimeSystem int

const (
	Unknown TimeSystem = iota
	Any
	GPS
	GAL
	BDT
	GLO
	QZS
	UTC
	TAI
)

var timeSystemNames = map[TimeSystem]string{
	Unknown: "Unknown",
	Any:     "Any",
	GPS:     "GPS",
	GAL:     "GAL",
	BDT:     "BDT",
	GLO:     "GLO",
	QZS:     "QZS",
	UTC:     "UTC",
	TAI:     "TAI",
}

func (ts TimeSystem) String() string {
	if s, ok := timeSystemNames[ts]; ok {
		return s
	}
	return fmt.Sprintf("TimeSystem(%d)", int(ts))
}

// ParseTimeSystem accepts the short names used by String as well as the
// RINEX style aliases (GPST, GST, BDS, GLONASS, QZSS).
func ParseTimeSystem(s string) (TimeSystem, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GPS", "GPST":
		return GPS, nil
	case "GAL", "GST":
		return GAL, nil
	case "BDT", "BDS":
		return BDT, nil
	case "GLO", "GLONASS", "GLOT":
		return GLO, nil
	case "QZS", "QZSS", "QZST":
		return QZS, nil
	case "UTC":
		return UTC, nil
	case "TAI":
		return TAI, nil
	case "ANY":
		return Any, nil
	case "", "UNKNOWN":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown time system %q", s)
}

// known reports whether ts names a concrete scale.
func (ts TimeSystem) known() bool {
	return ts != Unknown && ts != Any
}

// convertible reports whether ts is a concrete scale with a defined
// relation to TAI.
func (ts TimeSystem) convertible() bool {
	_, named := timeSystemNames[ts]
	return named && ts.known()
}

// arithmeticCompatible allows Any as a wildcard. Unknown only pairs with
// itself or Any.
func arithmeticCompatible(a, b TimeSystem) bool {
	return a == b || a == Any || b == Any
}

// orderable treats both Any and Unknown as wildcards.
func orderable(a, b TimeSystem) bool {
	return a == b || !a.known() || !b.known()
}

// Comparable reports whether instants in the two systems may be ordered
// against each other without conversion.
func Comparable(a, b TimeSystem) bool {
	return orderable(a, b)
}

// leapSecond is one step of the UTC leap second table.
type leapSecond struct {
	total int // TAI-UTC after the step, seconds
	mjd   int64
}

// utcLeapSeconds is ordered newest first.
var utcLeapSeconds = []leapSecond{
	{37, 57754}, // 2017-01-01
	{36, 57204}, // 2015-07-01
	{35, 56109}, // 2012-07-01
	{34, 54832}, // 2009-01-01
	{33, 53736}, // 2006-01-01
	{32, 51179}, // 1999-01-01
	{31, 50630}, // 1997-07-01
	{30, 50083}, // 1996-01-01
	{29, 49534}, // 1994-07-01
	{28, 49169}, // 1993-07-01
	{27, 48804}, // 1992-07-01
	{26, 48257}, // 1991-01-01
	{25, 47892}, // 1990-01-01
	{24, 47161}, // 1988-01-01
	{23, 46247}, // 1985-07-01
	{22, 45516}, // 1983-07-01
	{21, 45151}, // 1982-07-01
	{20, 44786}, // 1981-07-01
	{19, 44239}, // 1980-01-01
	{18, 43874}, // 1979-01-01
	{17, 43509}, // 1978-01-01
	{16, 43144}, // 1977-01-01
	{15, 42778}, // 1976-01-01
	{14, 42413}, // 1975-01-01
	{13, 42048}, // 1974-01-01
	{12, 41683}, // 1973-01-01
	{11, 41499}, // 1972-07-01
}

// TAIMinusUTC returns TAI-UTC in seconds on the given UTC modified Julian day.
func TAIMinusUTC(mjd int64) int {
	for _, ls := range utcLeapSeconds {
		if mjd >= ls.mjd {
			return ls.total
		}
	}
	return 10
}

// GPSMinusUTC returns the integer GPS-UTC offset (leap seconds) in effect on
// the given UTC modified Julian day.
func GPSMinusUTC(mjd int64) int {
	return TAIMinusUTC(mjd) - taiMinusGPS
}

const (
	taiMinusGPS = 19
	taiMinusBDT = 33
	gloMinusUTC = 3 * 3600
)
