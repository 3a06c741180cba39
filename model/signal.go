package model

import (
	"fmt"
	"strings"
)

// CarrierBand is the RF band a navigation message is broadcast on.
type CarrierBand int

const (
	BandUnknown CarrierBand = iota
	BandAny
	BandL1
	BandL2
	BandL5
	BandE5b
	BandE6
	BandB1
	BandB2
	BandB3
	BandG1
	BandG2
)

var bandNames = map[CarrierBand]string{
	BandUnknown: "Unknown",
	BandAny:     "Any",
	BandL1:      "L1",
	BandL2:      "L2",
	BandL5:      "L5",
	BandE5b:     "E5b",
	BandE6:      "E6",
	BandB1:      "B1",
	BandB2:      "B2",
	BandB3:      "B3",
	BandG1:      "G1",
	BandG2:      "G2",
}

func (b CarrierBand) String() string {
	if n, ok := bandNames[b]; ok {
		return n
	}
	return fmt.Sprintf("CarrierBand(%d)", int(b))
}

// Frequency returns the nominal carrier frequency in Hz, or 0 when unknown.
func (b CarrierBand) Frequency() float64 {
	switch b {
	case BandL1:
		return 1575.42e6
	case BandL2:
		return 1227.60e6
	case BandL5:
		return 1176.45e6
	case BandE5b:
		return 1207.14e6
	case BandE6:
		return 1278.75e6
	case BandB1:
		return 1561.098e6
	case BandB2:
		return 1207.14e6
	case BandB3:
		return 1268.52e6
	case BandG1:
		return 1602.0e6
	case BandG2:
		return 1246.0e6
	}
	return 0
}

// TrackingCode is the ranging code a navigation message rides on.
type TrackingCode int

const (
	CodeUnknown TrackingCode = iota
	CodeAny
	CodeCA
	CodeP
	CodeY
	CodeL2CM
	CodeL2CL
	CodeL5I
	CodeL5Q
	CodeL1CD
	CodeL1CP
	CodeE1B
	CodeE5aI
	CodeE5bI
	CodeB1I
	CodeB3I
)

var codeNames = map[TrackingCode]string{
	CodeUnknown: "Unknown",
	CodeAny:     "Any",
	CodeCA:      "CA",
	CodeP:       "P",
	CodeY:       "Y",
	CodeL2CM:    "L2CM",
	CodeL2CL:    "L2CL",
	CodeL5I:     "L5I",
	CodeL5Q:     "L5Q",
	CodeL1CD:    "L1CD",
	CodeL1CP:    "L1CP",
	CodeE1B:     "E1B",
	CodeE5aI:    "E5aI",
	CodeE5bI:    "E5bI",
	CodeB1I:     "B1I",
	CodeB3I:     "B3I",
}

func (c TrackingCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("TrackingCode(%d)", int(c))
}

// NavType identifies the navigation message standard.
type NavType int

const (
	NavUnknown NavType = iota
	NavAny
	NavGPSLNAV
	NavGPSCNAVL2
	NavGPSCNAVL5
	NavGPSCNAV2
	NavGalINAV
	NavGalFNAV
	NavBeiDouD1
	NavBeiDouD2
	NavSP3
	NavTLE
)

var navNames = map[NavType]string{
	NavUnknown:   "Unknown",
	NavAny:       "Any",
	NavGPSLNAV:   "GPSLNAV",
	NavGPSCNAVL2: "GPSCNAVL2",
	NavGPSCNAVL5: "GPSCNAVL5",
	NavGPSCNAV2:  "GPSCNAV2",
	NavGalINAV:   "GalINAV",
	NavGalFNAV:   "GalFNAV",
	NavBeiDouD1:  "BeiDou_D1",
	NavBeiDouD2:  "BeiDou_D2",
	NavSP3:       "SP3",
	NavTLE:       "TLE",
}

func (n NavType) String() string {
	if s, ok := navNames[n]; ok {
		return s
	}
	return fmt.Sprintf("NavType(%d)", int(n))
}

// NavMessageType classifies navigation records.
type NavMessageType int

const (
	MsgUnknown NavMessageType = iota
	MsgAlmanac
	MsgEphemeris
	MsgTimeOffset
	MsgHealth
	MsgClock
	MsgIono
	MsgISC
)

var msgNames = map[NavMessageType]string{
	MsgUnknown:    "Unknown",
	MsgAlmanac:    "Almanac",
	MsgEphemeris:  "Ephemeris",
	MsgTimeOffset: "TimeOffset",
	MsgHealth:     "Health",
	MsgClock:      "Clock",
	MsgIono:       "Iono",
	MsgISC:        "ISC",
}

func (m NavMessageType) String() string {
	if s, ok := msgNames[m]; ok {
		return s
	}
	return fmt.Sprintf("NavMessageType(%d)", int(m))
}

// AllMessageTypes lists every concrete message type.
func AllMessageTypes() []NavMessageType {
	return []NavMessageType{MsgAlmanac, MsgEphemeris, MsgTimeOffset, MsgHealth, MsgClock, MsgIono, MsgISC}
}

// ParseNavMessageType accepts names case-insensitively, with or without
// underscores ("time_offset", "TimeOffset").
func ParseNavMessageType(s string) (NavMessageType, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for k, v := range msgNames {
		if strings.ToLower(v) == key && k != MsgUnknown {
			return k, nil
		}
	}
	return MsgUnknown, fmt.Errorf("unknown navigation message type %q", s)
}

// NavSignalID identifies a signal: constellation, carrier, code and message
// standard. BandAny, CodeAny and NavAny are wildcards.
type NavSignalID struct {
	System  SatelliteSystem
	Carrier CarrierBand
	Code    TrackingCode
	Nav     NavType
}

// Matches reports whether the (possibly wild) signal s accepts other.
func (s NavSignalID) Matches(other NavSignalID) bool {
	if s.System != other.System && s.System != SystemUnknown && other.System != SystemUnknown {
		return false
	}
	if s.Carrier != other.Carrier && s.Carrier != BandAny && other.Carrier != BandAny {
		return false
	}
	if s.Code != other.Code && s.Code != CodeAny && other.Code != CodeAny {
		return false
	}
	if s.Nav != other.Nav && s.Nav != NavAny && other.Nav != NavAny {
		return false
	}
	return true
}

// Less gives the deterministic order used when iterating signals.
func (s NavSignalID) Less(o NavSignalID) bool {
	if s.System != o.System {
		return s.System < o.System
	}
	if s.Carrier != o.Carrier {
		return s.Carrier < o.Carrier
	}
	if s.Code != o.Code {
		return s.Code < o.Code
	}
	return s.Nav < o.Nav
}

func (s NavSignalID) String() string {
	return fmt.Sprintf("%s %s:%s:%s", s.System, s.Carrier, s.Code, s.Nav)
}

// NavSatelliteID names the subject satellite, the transmitting satellite and
// the signal a record came from.
type NavSatelliteID struct {
	NavSignalID
	Sat     SatID
	XmitSat SatID
}

// NewNavSatelliteID builds a concrete identifier where subject and
// transmitter are the same satellite.
func NewNavSatelliteID(sat SatID, carrier CarrierBand, code TrackingCode, nav NavType) NavSatelliteID {
	return NavSatelliteID{
		NavSignalID: NavSignalID{System: sat.System, Carrier: carrier, Code: code, Nav: nav},
		Sat:         sat,
		XmitSat:     sat,
	}
}

// AnySignalFor matches any signal and any transmitter carrying data for sat.
func AnySignalFor(sat SatID) NavSatelliteID {
	return NavSatelliteID{
		NavSignalID: NavSignalID{System: sat.System, Carrier: BandAny, Code: CodeAny, Nav: NavAny},
		Sat:         sat,
		XmitSat:     AnySat(),
	}
}

// Matches reports whether the query n accepts the concrete identifier other.
func (n NavSatelliteID) Matches(other NavSatelliteID) bool {
	return n.NavSignalID.Matches(other.NavSignalID) &&
		n.Sat.Matches(other.Sat) &&
		n.XmitSat.Matches(other.XmitSat)
}

// Less orders by signal, then subject, then transmitter.
func (n NavSatelliteID) Less(o NavSatelliteID) bool {
	if n.NavSignalID != o.NavSignalID {
		return n.NavSignalID.Less(o.NavSignalID)
	}
	if n.Sat != o.Sat {
		return n.Sat.Less(o.Sat)
	}
	return n.XmitSat.Less(o.XmitSat)
}

func (n NavSatelliteID) String() string {
	return fmt.Sprintf("%s sat=%s xmit=%s", n.NavSignalID, n.Sat, n.XmitSat)
}

// NavMessageID is the lookup key: a satellite/signal plus a message type.
type NavMessageID struct {
	NavSatelliteID
	MessageType NavMessageType
}

// NewNavMessageID pairs an identifier with a message type.
func NewNavMessageID(id NavSatelliteID, mt NavMessageType) NavMessageID {
	return NavMessageID{NavSatelliteID: id, MessageType: mt}
}

func (m NavMessageID) String() string {
	return fmt.Sprintf("%s %s", m.MessageType, m.NavSatelliteID)
}
