package formats

import (
	"math"
	"time"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// AlmanacSignal is where Yuma and SEM almanacs are filed: both are GPS L1
// C/A legacy navigation data.
var AlmanacSignal = model.NavSignalID{
	System:  model.SystemGPS,
	Carrier: model.BandL1,
	Code:    model.CodeCA,
	Nav:     model.NavGPSLNAV,
}

// The almanac reference time is transmitted up to 70 hours ahead of Toa.
const almanacLead = 70 * 3600.0

// GPSAlmanac is one satellite's entry in a Yuma or SEM file, angles in
// radians.
type GPSAlmanac struct {
	PRN      int
	Week     int // full GPS week
	Toa      float64
	Health   uint8
	Ecc      float64
	I0       float64 // total inclination
	OMEGAdot float64
	Ahalf    float64
	OMEGA0   float64
	W        float64
	M0       float64
	Af0      float64
	Af1      float64
}

// Records converts the entry into an almanac and a health record. The
// almanac's transmit time is its fit start; the health record is stamped at
// the same instant.
func (a *GPSAlmanac) Records() (alm, health *core.NavData) {
	sat := model.NewSatID(a.PRN, model.SystemGPS)
	id := model.NavSatelliteID{NavSignalID: AlmanacSignal, Sat: sat, XmitSat: sat}
	toa := navtime.GPSWeekSecond(a.Week, a.Toa, navtime.GPS)
	begin := toa.Add(-almanacLead)

	status := model.HealthHealthy
	if a.Health != 0 {
		status = model.HealthUnhealthy
	}
	alm = &core.NavData{
		ID:        model.NewNavMessageID(id, model.MsgAlmanac),
		TimeStamp: begin,
		XmitTime:  begin,
		Health:    status,
		Payload: &core.GPSLNavAlm{
			OrbitKepler: core.OrbitKepler{
				Toe:      toa,
				Toc:      toa,
				M0:       a.M0,
				Ecc:      a.Ecc,
				A:        a.Ahalf * a.Ahalf,
				OMEGA0:   a.OMEGA0,
				I0:       a.I0,
				W:        a.W,
				OMEGAdot: a.OMEGAdot,
				Af0:      a.Af0,
				Af1:      a.Af1,
			},
			Toa:        a.Toa,
			DeltaI:     a.I0 - 0.3*math.Pi,
			HealthBits: a.Health,
		},
	}
	alm.FixFit()
	health = &core.NavData{
		ID:        model.NewNavMessageID(id, model.MsgHealth),
		TimeStamp: begin,
		XmitTime:  begin,
		Health:    status,
		Payload:   &core.GPSLNavHealth{SVHealth: a.Health},
	}
	return alm, health
}

// FullGPSWeek resolves a week number that may have been truncated to ten
// bits. A non-zero near picks the full week closest to it. Otherwise weeks
// that are already full pass through and truncated ones resolve against
// the current date.
func FullGPSWeek(week, near int) int {
	if near <= 0 {
		if week >= 1024 {
			return week
		}
		near, _ = navtime.FromTime(time.Now(), navtime.GPS).GPSWeek()
	}
	return RolloverWeek(week, 10, near)
}

// RolloverWeek extends a week number broadcast with only its low bits to
// the full week closest to ref.
func RolloverWeek(short, bits, ref int) int {
	span := 1 << bits
	week := short%span + ref/span*span
	switch diff := ref - week; {
	case diff > span/2:
		week += span
	case diff < -span/2:
		week -= span
	}
	return week
}
