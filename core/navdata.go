package core

import (
	"fmt"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// Payload is the message-specific body of a NavData record. The set of
// implementations is closed to this package.
type Payload interface {
	MessageType() model.NavMessageType
	isPayload()
}

// NavData is one decoded navigation record. The envelope carries what every
// message has in common; Payload carries the variant.
//
// TimeStamp is the record's position in the store (the first transmit time
// for broadcast data, the epoch for SP3 samples, the reference time for
// almanac-only formats). BeginFit/EndFit are only meaningful for orbit
// payloads once FixFit has run.
type NavData struct {
	ID        model.NavMessageID
	TimeStamp navtime.CommonTime
	XmitTime  navtime.CommonTime
	BeginFit  navtime.CommonTime
	EndFit    navtime.CommonTime
	Health    model.SVHealth
	Payload   Payload
}

func (nd *NavData) String() string {
	return fmt.Sprintf("%s @ %s", nd.ID, nd.TimeStamp)
}

// Validate reports whether the payload passes its message-level checks
// (preambles, field ranges).
func (nd *NavData) Validate() bool {
	switch p := nd.Payload.(type) {
	case *GPSLNavEph:
		return lnavPreamble(p.Pre) && lnavPreamble(p.Pre2) && lnavPreamble(p.Pre3) && p.keplerSane()
	case *GPSLNavAlm:
		return lnavPreamble(p.Pre) && p.Toa >= 0 && p.Toa <= 602112 && p.keplerSane()
	case *GPSLNavHealth:
		return lnavPreamble(p.Pre)
	case *GPSLNavISC:
		return lnavPreamble(p.Pre)
	case *GPSCNavEph:
		return lnavPreamble(p.Pre) && lnavPreamble(p.Pre11) && lnavPreamble(p.PreClk) && p.keplerSane()
	case *GPSCNav2Eph:
		return p.keplerSane()
	case *GPSCNav2Alm:
		return p.Toa >= 0 && p.Toa <= 602112 && p.keplerSane()
	case *GalINavEph:
		return p.keplerSane()
	case *GalFNavEph:
		return p.keplerSane()
	case *GalINavAlm:
		return p.keplerSane()
	case *GalFNavAlm:
		return p.keplerSane()
	case *GalINavHealth, *GalFNavHealth:
		return true
	case *BDSD1NavEph:
		return bdsPreamble(p.Pre) && bdsPreamble(p.Pre2) && bdsPreamble(p.Pre3) && p.keplerSane()
	case *SP3Orbit:
		return !vecBad(p.Pos)
	case *SP3Clock:
		return !isBad(p.Bias)
	case *TLEOrbit:
		return p.validate() == nil
	case *StdTimeOffset:
		return p.Src != p.Tgt && !isBad(p.A0) && !isBad(p.A1)
	case *KlobucharIono:
		return true
	}
	return false
}

// FixFit fills BeginFit and EndFit from the payload's timing fields.
// Payloads without a fit interval leave the envelope untouched.
func (nd *NavData) FixFit() {
	switch p := nd.Payload.(type) {
	case *GPSLNavEph:
		nd.BeginFit, nd.EndFit = gpsBroadcastFit(nd.ID.System, nd.XmitTime, p.Toe,
			0, 3600*legacyFitHours(p.IODC, p.FitIntFlag)/2)
	case *GPSCNavEph:
		first := earliest(nd.XmitTime, p.Xmit11, p.XmitClk)
		nd.BeginFit, nd.EndFit = gpsBroadcastFit(nd.ID.System, first, p.Toe, 90*60, 90*60)
	case *GPSCNav2Eph:
		nd.BeginFit, nd.EndFit = gpsBroadcastFit(nd.ID.System, nd.XmitTime, p.Toe, 90*60, 90*60)
	case *GPSLNavAlm:
		nd.BeginFit = p.Toe.Add(-almanacLeadSeconds)
		nd.EndFit = p.Toe.Add(almanacFitSeconds)
	case *GPSCNav2Alm:
		nd.BeginFit = p.Toe.Add(-almanacLeadSeconds)
		nd.EndFit = p.Toe.Add(almanacFitSeconds)
	case *GalINavEph, *GalFNavEph:
		nd.BeginFit = nd.XmitTime
		nd.EndFit = orbitOf(p).Toe.Add(4 * 3600)
	case *GalINavAlm, *GalFNavAlm:
		nd.BeginFit = nd.XmitTime
		nd.EndFit = orbitOf(p).Toe.Add(almanacFitSeconds)
	case *BDSD1NavEph:
		nd.BeginFit = p.Toe.Add(-7200)
		if nd.XmitTime.After(p.Toe) {
			nd.BeginFit = nd.XmitTime
		}
		nd.EndFit = nd.XmitTime.Add(86400 + 30)
	case *TLEOrbit:
		nd.BeginFit = p.Epoch.Add(-tleFitSeconds)
		nd.EndFit = p.Epoch.Add(tleFitSeconds)
	}
}

// UserTime is the earliest instant at which a receiver could have the whole
// record in hand. Searches in User order never return a record whose user
// time is after the query time.
func (nd *NavData) UserTime() navtime.CommonTime {
	switch p := nd.Payload.(type) {
	case *GPSLNavEph:
		return latest(nd.XmitTime, p.Xmit2, p.Xmit3).Add(6)
	case *GPSLNavAlm, *GPSLNavHealth, *GPSLNavISC:
		return nd.TimeStamp.Add(6)
	case *GPSCNavEph:
		mr := latest(nd.XmitTime, p.Xmit11, p.XmitClk)
		if nd.ID.Nav == model.NavGPSCNAVL2 {
			return mr.Add(12)
		}
		return mr.Add(6)
	case *GPSCNav2Eph:
		return nd.XmitTime.Add(18)
	case *GPSCNav2Alm:
		return nd.TimeStamp.Add(5.48)
	case *GalINavEph:
		return pagedUserTime(nd.XmitTime, 2, p.Xmit2, p.Xmit3, p.Xmit4, p.Xmit5)
	case *GalFNavEph:
		return pagedUserTime(nd.XmitTime, 10, p.Xmit2, p.Xmit3, p.Xmit4)
	case *GalINavAlm:
		return latest(nd.XmitTime, p.Xmit2).Add(2)
	case *GalFNavAlm:
		return latest(nd.XmitTime, p.Xmit2).Add(10)
	case *GalINavHealth:
		return nd.TimeStamp.Add(2)
	case *GalFNavHealth:
		return nd.TimeStamp.Add(10)
	case *BDSD1NavEph:
		return latest(nd.XmitTime, p.Xmit2, p.Xmit3).Add(6)
	case *SP3Orbit, *SP3Clock, *TLEOrbit, *StdTimeOffset, *KlobucharIono:
		return nd.TimeStamp
	}
	return nd.TimeStamp
}

// RefTime is the instant a Nearest search measures distance from: Toe for
// orbits, the reference time for offsets, otherwise the time stamp.
func (nd *NavData) RefTime() navtime.CommonTime {
	if o := orbitOf(nd.Payload); o != nil {
		return o.Toe
	}
	switch p := nd.Payload.(type) {
	case *StdTimeOffset:
		return p.RefTime
	case *TLEOrbit:
		return p.Epoch
	}
	return nd.TimeStamp
}

// HasFit reports whether the record carries a fit interval that User
// searches must respect.
func (nd *NavData) HasFit() bool {
	switch nd.Payload.(type) {
	case *SP3Orbit, *SP3Clock:
		return false
	}
	return !nd.EndFit.IsZero()
}

// Covers reports whether when lies in [BeginFit, EndFit).
func (nd *NavData) Covers(when navtime.CommonTime) bool {
	return !when.Before(nd.BeginFit) && when.Before(nd.EndFit)
}

// HealthStatus is the record's health as seen by a filter. Health payloads
// derive it from their raw bits, everything else uses the envelope.
func (nd *NavData) HealthStatus() model.SVHealth {
	switch p := nd.Payload.(type) {
	case *GPSLNavHealth:
		return p.Status()
	case *GalINavHealth:
		return galHealth(p.SigHealth, p.DataValidity, p.SISAIndex)
	case *GalFNavHealth:
		return galHealth(p.SigHealth, p.DataValidity, p.SISAIndex)
	case *GalINavAlm:
		return galAlmanacHealth(p.HSE1B, p.HSE5b)
	case *GalFNavAlm:
		return galAlmanacHealth(p.HSE5a)
	case *BDSD1NavEph:
		if p.SatH1 == 0 {
			return model.HealthHealthy
		}
		return model.HealthUnhealthy
	}
	return nd.Health
}

const (
	almanacLeadSeconds = 70 * 3600.0
	almanacFitSeconds  = 74 * 3600.0
	tleFitSeconds      = 3 * 86400.0
)

func lnavPreamble(p uint32) bool { return p == 0 || p == 0x8b }

const bdsPreambleBits = 0x712

func bdsPreamble(p uint32) bool { return p == 0 || p == bdsPreambleBits }

// gpsBroadcastFit applies the GPS broadcast ephemeris fit rules. nominalMod
// is the Toe phase (seconds into the 2 hour cycle) of an uncut upload.
func gpsBroadcastFit(sys model.SatelliteSystem, xmit, toe navtime.CommonTime, nominalMod float64, halfFit float64) (begin, end navtime.CommonTime) {
	xweek, xsow := xmit.GPSWeek()
	_, toeSOW := toe.GPSWeek()
	xs := int64(xsow)
	isNominal := int64(toeSOW)%7200 == int64(nominalMod)
	end = toe.Add(halfFit)
	if sys == model.SystemGPS && isNominal {
		xs -= xs % 7200
	}
	begin = navtime.GPSWeekSecond(xweek, float64(xs), xmit.System())
	if !isNominal {
		sow := int64(toeSOW)
		mid := (sow/900 + 1) * 900
		end = end.Add(float64(mid - sow))
	}
	return begin, end
}

// legacyFitHours decodes the LNAV fit interval flag and IODC into hours.
func legacyFitHours(iodc uint16, fitIntFlag uint8) float64 {
	if fitIntFlag == 0 {
		return 4
	}
	switch {
	case iodc >= 240 && iodc <= 247:
		return 8
	case (iodc >= 248 && iodc <= 255) || iodc == 496:
		return 14
	case (iodc >= 497 && iodc <= 503) || (iodc >= 1021 && iodc <= 1023):
		return 26
	case iodc >= 504 && iodc <= 510:
		return 50
	case iodc == 511 || (iodc >= 752 && iodc <= 756):
		return 74
	case iodc >= 757 && iodc <= 763:
		return 98
	}
	return 6
}

// pagedUserTime adds pageSec for every page whose transmit time is unknown,
// then one more page for the last one to finish.
func pagedUserTime(first navtime.CommonTime, pageSec float64, pages ...navtime.CommonTime) navtime.CommonTime {
	rv := first
	for _, p := range pages {
		if p.IsZero() {
			rv = rv.Add(pageSec)
			continue
		}
		if p.After(rv) {
			rv = p
		}
	}
	return rv.Add(pageSec)
}

// latest ignores unset times.
func latest(first navtime.CommonTime, rest ...navtime.CommonTime) navtime.CommonTime {
	rv := first
	for _, t := range rest {
		if !t.IsZero() && t.After(rv) {
			rv = t
		}
	}
	return rv
}

// earliest ignores unset times.
func earliest(first navtime.CommonTime, rest ...navtime.CommonTime) navtime.CommonTime {
	rv := first
	for _, t := range rest {
		if !t.IsZero() && t.Before(rv) {
			rv = t
		}
	}
	return rv
}
