package core

import (
	"math"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const testWeek = 2000

var (
	sigL1CA = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandL1, Code: model.CodeCA, Nav: model.NavGPSLNAV}
	sigL2Y  = model.NavSignalID{System: model.SystemGPS, Carrier: model.BandL2, Code: model.CodeY, Nav: model.NavGPSLNAV}
)

func gpsAt(sow float64) navtime.CommonTime {
	return navtime.GPSWeekSecond(testWeek, sow, navtime.GPS)
}

func gpsKey(sig model.NavSignalID, prn, xmit int) model.NavSatelliteID {
	return model.NavSatelliteID{
		NavSignalID: sig,
		Sat:         model.NewSatID(prn, model.SystemGPS),
		XmitSat:     model.NewSatID(xmit, model.SystemGPS),
	}
}

func circularOrbit(toe navtime.CommonTime) OrbitKepler {
	return OrbitKepler{
		Toe:    toe,
		Toc:    toe,
		A:      26560e3,
		I0:     55 * math.Pi / 180,
		OMEGA0: 1.0,
	}
}

func lnavEph(prn int, xmit, toe navtime.CommonTime) *NavData {
	nd := &NavData{
		ID:        model.NewNavMessageID(gpsKey(sigL1CA, prn, prn), model.MsgEphemeris),
		TimeStamp: xmit,
		XmitTime:  xmit,
		Health:    model.HealthHealthy,
		Payload:   &GPSLNavEph{OrbitKepler: circularOrbit(toe), Pre: 0x8b, Pre2: 0x8b, Pre3: 0x8b},
	}
	nd.FixFit()
	return nd
}

func lnavHealth(sig model.NavSignalID, prn int, t navtime.CommonTime, bits uint8) *NavData {
	return &NavData{
		ID:        model.NewNavMessageID(gpsKey(sig, prn, prn), model.MsgHealth),
		TimeStamp: t,
		XmitTime:  t,
		Payload:   &GPSLNavHealth{Pre: 0x8b, SVHealth: bits},
	}
}

func lnavAlm(sig model.NavSignalID, prn, xmit int, t navtime.CommonTime) *NavData {
	orb := circularOrbit(gpsAt(61440))
	nd := &NavData{
		ID:        model.NewNavMessageID(gpsKey(sig, prn, xmit), model.MsgAlmanac),
		TimeStamp: t,
		XmitTime:  t,
		Health:    model.HealthHealthy,
		Payload:   &GPSLNavAlm{OrbitKepler: orb, Pre: 0x8b, Toa: 61440},
	}
	nd.FixFit()
	return nd
}

// loadedStore holds three satellites with ephemerides transmitted every two
// hours and a matching health record per ephemeris.
func loadedStore(opts ...StoreOption) *Store {
	s := NewStore("test", []model.NavSignalID{sigL1CA, sigL2Y}, opts...)
	for prn := 1; prn <= 3; prn++ {
		for i := 0; i < 3; i++ {
			xmit := gpsAt(float64(i) * 7200)
			_ = s.Add(lnavEph(prn, xmit, xmit.Add(7200)))
			_ = s.Add(lnavHealth(sigL1CA, prn, xmit, 0))
		}
	}
	return s
}
