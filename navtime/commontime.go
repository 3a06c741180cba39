// Package navtime provides the time representation shared by every
// navigation record: an integer day, integer milliseconds of day and a
// sub-millisecond remainder, tagged with the time system it belongs to.
package navtime

import (
	"fmt"
	"math"
	"time"
)

const (
	msPerDay  = int64(86400000)
	secPerDay = 86400.0

	// MJD of the GPS, Galileo and BeiDou week zero epochs.
	GPSEpochMJD = int64(44244)
	GALEpochMJD = int64(51412)
	BDTEpochMJD = int64(53736)

	SecondsPerWeek = 604800.0
	HalfWeek       = 302400.0
)

// CommonTime is an absolute instant tagged with a time system.
// The zero value is MJD 0 in the Unknown system.
type CommonTime struct {
	day  int64      // modified Julian day
	msod int64      // milliseconds of day
	fsod float64    // seconds below one millisecond, [0, 0.001)
	sys  TimeSystem
}

var (
	BeginningOfTime = CommonTime{day: -100000000, sys: Any}
	EndOfTime       = CommonTime{day: 100000000, sys: Any}
)

// New builds a CommonTime from a modified Julian day and seconds of day.
// Seconds outside [0, 86400) roll into neighbouring days.
func New(mjd int64, sod float64, sys TimeSystem) CommonTime {
	t := CommonTime{day: mjd, sys: sys}
	return t.Add(sod)
}

// GPSWeekSecond builds an instant from a full GPS week and seconds of week.
func GPSWeekSecond(week int, sow float64, sys TimeSystem) CommonTime {
	return weekSecond(GPSEpochMJD, week, sow, sys)
}

// GALWeekSecond builds an instant from a Galileo week and seconds of week.
func GALWeekSecond(week int, sow float64) CommonTime {
	return weekSecond(GALEpochMJD, week, sow, GAL)
}

// BDSWeekSecond builds an instant from a BeiDou week and seconds of week.
func BDSWeekSecond(week int, sow float64) CommonTime {
	return weekSecond(BDTEpochMJD, week, sow, BDT)
}

func weekSecond(epoch int64, week int, sow float64, sys TimeSystem) CommonTime {
	return New(epoch+int64(week)*7, sow, sys)
}

// FromCivil builds an instant from a calendar date and time of day.
func FromCivil(year, month, day, hour, minute int, second float64, sys TimeSystem) CommonTime {
	sod := float64(hour*3600+minute*60) + second
	return New(civilToMJD(year, month, day), sod, sys)
}

// FromYDS builds an instant from year, day of year and seconds of day.
func FromYDS(year, doy int, sod float64, sys TimeSystem) CommonTime {
	return New(civilToMJD(year, 1, 1)+int64(doy-1), sod, sys)
}

// FromTime converts a time.Time, using its UTC calendar fields, and tags the
// result with sys. No scale conversion is applied.
func FromTime(t time.Time, sys TimeSystem) CommonTime {
	t = t.UTC()
	sec := float64(t.Second()) + float64(t.Nanosecond())/1e9
	return FromCivil(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), sec, sys)
}

func (t CommonTime) System() TimeSystem { return t.sys }

// WithSystem retags t without converting it.
func (t CommonTime) WithSystem(sys TimeSystem) CommonTime {
	t.sys = sys
	return t
}

func (t CommonTime) MJD() int64 { return t.day }

// SecondOfDay returns seconds since the start of the day.
func (t CommonTime) SecondOfDay() float64 {
	return float64(t.msod)/1000.0 + t.fsod
}

// IsZero reports whether t is the zero value.
func (t CommonTime) IsZero() bool {
	return t == CommonTime{}
}

// GPSWeek returns the full GPS week and seconds of week of t, ignoring its
// time system tag.
func (t CommonTime) GPSWeek() (int, float64) {
	return t.weekOf(GPSEpochMJD)
}

// GALWeek returns the Galileo week and seconds of week.
func (t CommonTime) GALWeek() (int, float64) {
	return t.weekOf(GALEpochMJD)
}

// BDSWeek returns the BeiDou week and seconds of week.
func (t CommonTime) BDSWeek() (int, float64) {
	return t.weekOf(BDTEpochMJD)
}

func (t CommonTime) weekOf(epoch int64) (int, float64) {
	d := t.day - epoch
	week := floorDiv(d, 7)
	dow := d - week*7
	return int(week), float64(dow)*secPerDay + t.SecondOfDay()
}

// Civil returns calendar fields.
func (t CommonTime) Civil() (year, month, day, hour, minute int, second float64) {
	year, month, day = mjdToCivil(t.day)
	sod := t.SecondOfDay()
	hour = int(sod / 3600)
	minute = int((sod - float64(hour)*3600) / 60)
	second = sod - float64(hour*3600+minute*60)
	return
}

// YDS returns year, day of year and seconds of day.
func (t CommonTime) YDS() (year, doy int, sod float64) {
	year, _, _ = mjdToCivil(t.day)
	doy = int(t.day-civilToMJD(year, 1, 1)) + 1
	return year, doy, t.SecondOfDay()
}

// Time returns the calendar fields of t as a UTC-labelled time.Time.
func (t CommonTime) Time() time.Time {
	y, mo, d := mjdToCivil(t.day)
	ns := t.msod*int64(time.Millisecond) + int64(math.Round(t.fsod*1e9))
	return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC).Add(time.Duration(ns))
}

func (t CommonTime) String() string {
	y, mo, d, h, mi, s := t.Civil()
	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%06.3f %s", y, mo, d, h, mi, s, t.sys)
}

// Add returns t shifted by seconds, keeping the time system.
func (t CommonTime) Add(seconds float64) CommonTime {
	whole := math.Trunc(seconds)
	frac := seconds - whole
	ms := math.Floor(frac * 1000)
	t.msod += int64(whole)*1000 + int64(ms)
	t.fsod += frac - ms/1000
	t.day, t.msod, t.fsod = normalize(t.day, t.msod, t.fsod)
	return t
}

// Sub returns t-o in seconds. Both instants must share a time system unless
// one of them is Any.
func (t CommonTime) Sub(o CommonTime) (float64, error) {
	if !arithmeticCompatible(t.sys, o.sys) {
		return 0, fmt.Errorf("%w: %s - %s", ErrTimeSystemMismatch, t.sys, o.sys)
	}
	return t.diff(o), nil
}

func (t CommonTime) diff(o CommonTime) float64 {
	return float64(t.day-o.day)*secPerDay + float64(t.msod-o.msod)/1000.0 + (t.fsod - o.fsod)
}

// Compare orders t against o: -1, 0 or +1. Any and Unknown are wildcards;
// two different known systems yield ErrTimeSystemMismatch.
func (t CommonTime) Compare(o CommonTime) (int, error) {
	if !orderable(t.sys, o.sys) {
		return 0, fmt.Errorf("%w: %s vs %s", ErrTimeSystemMismatch, t.sys, o.sys)
	}
	return t.order(o), nil
}

func (t CommonTime) order(o CommonTime) int {
	switch {
	case t.day != o.day:
		return sign64(t.day - o.day)
	case t.msod != o.msod:
		return sign64(t.msod - o.msod)
	}
	d := t.fsod - o.fsod
	if math.Abs(d) < 1e-12 {
		return 0
	}
	if d < 0 {
		return -1
	}
	return 1
}

// Before, After and Equal ignore the time system tag. Callers that mix
// systems should use Compare.
func (t CommonTime) Before(o CommonTime) bool { return t.order(o) < 0 }
func (t CommonTime) After(o CommonTime) bool  { return t.order(o) > 0 }
func (t CommonTime) Equal(o CommonTime) bool  { return t.order(o) == 0 }

// Convert re-expresses t in another time system using fixed offsets between
// the satellite scales and the leap second table for UTC and GLONASS.
func (t CommonTime) Convert(to TimeSystem) (CommonTime, error) {
	if t.sys == to {
		return t, nil
	}
	if !t.sys.convertible() || !to.convertible() {
		return t, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, t.sys, to)
	}
	tai := t.toTAI()
	return fromTAI(tai, to), nil
}

func (t CommonTime) toTAI() CommonTime {
	var out CommonTime
	switch t.sys {
	case GPS, GAL, QZS:
		out = t.Add(taiMinusGPS)
	case BDT:
		out = t.Add(taiMinusBDT)
	case UTC:
		out = t.Add(float64(TAIMinusUTC(t.day)))
	case GLO:
		utc := t.Add(-gloMinusUTC)
		out = utc.Add(float64(TAIMinusUTC(utc.day)))
	default:
		out = t
	}
	out.sys = TAI
	return out
}

func fromTAI(tai CommonTime, to TimeSystem) CommonTime {
	var out CommonTime
	switch to {
	case GPS, GAL, QZS:
		out = tai.Add(-taiMinusGPS)
	case BDT:
		out = tai.Add(-taiMinusBDT)
	case UTC, GLO:
		guess := tai.Add(-float64(TAIMinusUTC(tai.day)))
		out = tai.Add(-float64(TAIMinusUTC(guess.day)))
		if to == GLO {
			out = out.Add(gloMinusUTC)
		}
	default:
		out = tai
	}
	out.sys = to
	return out
}

func normalize(day, msod int64, fsod float64) (int64, int64, float64) {
	if fsod >= 0.001 || fsod < 0 {
		ms := math.Floor(fsod * 1000)
		msod += int64(ms)
		fsod -= ms / 1000
		if fsod < 0 {
			fsod = 0
		}
		if fsod >= 0.001 {
			msod++
			fsod -= 0.001
		}
	}
	if msod >= msPerDay || msod < 0 {
		d := floorDiv(msod, msPerDay)
		day += d
		msod -= d * msPerDay
	}
	return day, msod, fsod
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func sign64(v int64) int {
	if v < 0 {
		return -1
	}
	return 1
}

func civilToMJD(year, month, day int) int64 {
	a := (14 - month) / 12
	y := year + 4800 - a
	m := month + 12*a - 3
	jdn := day + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
	return int64(jdn) - 2400001
}

func mjdToCivil(mjd int64) (year, month, day int) {
	a := mjd + 2400001 + 32044
	b := (4*a + 3) / 146097
	c := a - 146097*b/4
	d := (4*c + 3) / 1461
	e := c - 1461*d/4
	m := (5*e + 2) / 153
	day = int(e - (153*m+2)/5 + 1)
	month = int(m + 3 - 12*(m/10))
	year = int(100*b + d - 4800 + m/10)
	return
}
