package core

import (
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// Galileo signal health status values (HS field).
const (
	GalHealthOK           uint8 = 0
	GalHealthOutOfService uint8 = 1
	GalHealthWillBeOOS    uint8 = 2
	GalHealthInTest       uint8 = 3
)

// GalSISANAPA is the SISA index meaning no accuracy prediction available.
const GalSISANAPA uint8 = 255

// GalINavEph is an I/NAV ephemeris assembled from word types 1-5.
type GalINavEph struct {
	OrbitKepler
	Xmit2, Xmit3, Xmit4, Xmit5 navtime.CommonTime
	BGDE5aE1                   float64
	BGDE5bE1                   float64
	SISAIndex                  uint8
	SVID                       uint8
	IODNav                     uint16
	HSE1B, HSE5b               uint8
	DVSE1B, DVSE5b             uint8
}

func (*GalINavEph) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*GalINavEph) isPayload() {}

// GalFNavEph is an F/NAV ephemeris assembled from page types 1-4.
type GalFNavEph struct {
	OrbitKepler
	Xmit2, Xmit3, Xmit4 navtime.CommonTime
	BGDE5aE1            float64
	SISAIndex           uint8
	SVID                uint8
	IODNav              uint16
	HSE5a               uint8
	DVSE5a              uint8
}

func (*GalFNavEph) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*GalFNavEph) isPayload() {}

// GalINavAlm is one I/NAV almanac entry.
type GalINavAlm struct {
	OrbitKepler
	Xmit2  navtime.CommonTime
	DAhalf float64
	DeltaI float64
	WNa    int
	T0a    float64
	IODa   uint8
	HSE1B  uint8
	HSE5b  uint8
}

func (*GalINavAlm) MessageType() model.NavMessageType { return model.MsgAlmanac }
func (*GalINavAlm) isPayload() {}

// GalFNavAlm is one F/NAV almanac entry.
type GalFNavAlm struct {
	OrbitKepler
	Xmit2  navtime.CommonTime
	DAhalf float64
	DeltaI float64
	WNa    int
	T0a    float64
	IODa   uint8
	HSE5a  uint8
}

func (*GalFNavAlm) MessageType() model.NavMessageType { return model.MsgAlmanac }
func (*GalFNavAlm) isPayload() {}

// GalINavHealth is the health of one I/NAV signal component.
type GalINavHealth struct {
	SigHealth    uint8
	DataValidity uint8
	SISAIndex    uint8
}

func (*GalINavHealth) MessageType() model.NavMessageType { return model.MsgHealth }
func (*GalINavHealth) isPayload() {}

// GalFNavHealth is the health of the E5a F/NAV signal.
type GalFNavHealth struct {
	SigHealth    uint8
	DataValidity uint8
	SISAIndex    uint8
}

func (*GalFNavHealth) MessageType() model.NavMessageType { return model.MsgHealth }
func (*GalFNavHealth) isPayload() {}

// galHealth combines signal health, data validity and SISA into one status.
func galHealth(hs, dvs, sisa uint8) model.SVHealth {
	switch {
	case hs == GalHealthOK && dvs == 0 && sisa != GalSISANAPA:
		return model.HealthHealthy
	case hs == GalHealthOK:
		return model.HealthDegraded
	case hs == GalHealthWillBeOOS:
		return model.HealthDegraded
	}
	return model.HealthUnhealthy
}

// galAlmanacHealth mirrors galHealth for almanac entries, which only carry
// the HS bits.
func galAlmanacHealth(hs ...uint8) model.SVHealth {
	allOK, allOut := true, true
	for _, h := range hs {
		allOK = allOK && h == GalHealthOK
		allOut = allOut && h == GalHealthOutOfService
	}
	switch {
	case allOK:
		return model.HealthHealthy
	case allOut:
		return model.HealthUnhealthy
	}
	return model.HealthDegraded
}
