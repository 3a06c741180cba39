package core

import (
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// GPSLNavEph is a legacy navigation (subframes 1-3) ephemeris.
type GPSLNavEph struct {
	OrbitKepler
	Xmit2, Xmit3     navtime.CommonTime
	Pre, Pre2, Pre3  uint32
	IODC             uint16
	IODE             uint16
	FitIntFlag       uint8
	HealthBits       uint8
	URAIndex         uint8
	Tgd              float64
	CodesL2          uint8
	L2PData          bool
	AntiSpoof        bool
	Alert            bool
}

func (*GPSLNavEph) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*GPSLNavEph) isPayload() {}

// GPSLNavAlm is one page of the legacy almanac.
type GPSLNavAlm struct {
	OrbitKepler
	Pre        uint32
	Toa        float64
	DeltaI     float64
	HealthBits uint8
}

func (*GPSLNavAlm) MessageType() model.NavMessageType { return model.MsgAlmanac }
func (*GPSLNavAlm) isPayload() {}

// GPSLNavHealth is the raw health word for one satellite. Ephemeris health is
// 6 bits, almanac health 8 bits; either way zero means healthy.
type GPSLNavHealth struct {
	Pre      uint32
	SVHealth uint8
}

func (*GPSLNavHealth) MessageType() model.NavMessageType { return model.MsgHealth }
func (*GPSLNavHealth) isPayload() {}

// Status converts the raw bits.
func (h *GPSLNavHealth) Status() model.SVHealth {
	if h.SVHealth == 0 {
		return model.HealthHealthy
	}
	return model.HealthUnhealthy
}

// GPSLNavISC carries the L1/L2 group delay (Tgd) in seconds.
type GPSLNavISC struct {
	Pre uint32
	ISC float64
}

func (*GPSLNavISC) MessageType() model.NavMessageType { return model.MsgISC }
func (*GPSLNavISC) isPayload() {}

// GPSCNavEph is a CNAV (message types 10, 11 and a clock message) ephemeris.
type GPSCNavEph struct {
	OrbitKepler
	Xmit11, XmitClk   navtime.CommonTime
	Pre, Pre11, PreClk uint32
	HealthL1          bool
	HealthL2          bool
	HealthL5          bool
	URAED             int8
	Top               navtime.CommonTime
}

func (*GPSCNavEph) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*GPSCNavEph) isPayload() {}

// GPSCNav2Eph is an L1C CNAV-2 subframe 2 ephemeris.
type GPSCNav2Eph struct {
	OrbitKepler
	HealthL1C bool
	URAED     int8
	Top       navtime.CommonTime
	ITOW      uint8
}

func (*GPSCNav2Eph) MessageType() model.NavMessageType { return model.MsgEphemeris }
func (*GPSCNav2Eph) isPayload() {}

// GPSCNav2Alm is a CNAV-2 midi almanac.
type GPSCNav2Alm struct {
	OrbitKepler
	HealthL1 bool
	HealthL2 bool
	HealthL5 bool
	DeltaI   float64
	WNa      int
	Toa      float64
}

func (*GPSCNav2Alm) MessageType() model.NavMessageType { return model.MsgAlmanac }
func (*GPSCNav2Alm) isPayload() {}
