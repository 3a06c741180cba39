package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SatelliteSystem identifies a GNSS constellation.
type SatelliteSystem int

const (
	SystemUnknown SatelliteSystem = iota
	SystemGPS
	SystemGalileo
	SystemGlonass
	SystemBeiDou
	SystemQZSS
	SystemIRNSS
	SystemSBAS
)

var systemNames = map[SatelliteSystem]string{
	SystemUnknown: "Unknown",
	SystemGPS:     "GPS",
	SystemGalileo: "Galileo",
	SystemGlonass: "Glonass",
	SystemBeiDou:  "BeiDou",
	SystemQZSS:    "QZSS",
	SystemIRNSS:   "IRNSS",
	SystemSBAS:    "SBAS",
}

func (s SatelliteSystem) String() string {
	if n, ok := systemNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SatelliteSystem(%d)", int(s))
}

// SystemFromRINEX maps the single-character RINEX 3 system code.
func SystemFromRINEX(c byte) SatelliteSystem {
	switch c {
	case 'G', ' ':
		return SystemGPS
	case 'E':
		return SystemGalileo
	case 'R':
		return SystemGlonass
	case 'C':
		return SystemBeiDou
	case 'J':
		return SystemQZSS
	case 'I':
		return SystemIRNSS
	case 'S':
		return SystemSBAS
	}
	return SystemUnknown
}

// RINEXCode is the inverse of SystemFromRINEX.
func (s SatelliteSystem) RINEXCode() byte {
	switch s {
	case SystemGPS:
		return 'G'
	case SystemGalileo:
		return 'E'
	case SystemGlonass:
		return 'R'
	case SystemBeiDou:
		return 'C'
	case SystemQZSS:
		return 'J'
	case SystemIRNSS:
		return 'I'
	case SystemSBAS:
		return 'S'
	}
	return '?'
}

// SatID identifies one satellite. WildID and WildSys turn the corresponding
// field into a wildcard during lookups.
type SatID struct {
	ID      int
	System  SatelliteSystem
	WildID  bool
	WildSys bool
}

// NewSatID returns a fully specified satellite.
func NewSatID(id int, sys SatelliteSystem) SatID {
	return SatID{ID: id, System: sys}
}

// AnySatOf matches every satellite of one system.
func AnySatOf(sys SatelliteSystem) SatID {
	return SatID{System: sys, WildID: true}
}

// AnySat matches every satellite.
func AnySat() SatID {
	return SatID{WildID: true, WildSys: true}
}

// IsWild reports whether any field is a wildcard.
func (s SatID) IsWild() bool { return s.WildID || s.WildSys }

// Matches reports whether s, possibly holding wildcards, accepts other.
func (s SatID) Matches(other SatID) bool {
	if !s.WildSys && !other.WildSys && s.System != other.System {
		return false
	}
	if !s.WildID && !other.WildID && s.ID != other.ID {
		return false
	}
	return true
}

// Less orders satellites by system then ID.
func (s SatID) Less(o SatID) bool {
	if s.System != o.System {
		return s.System < o.System
	}
	return s.ID < o.ID
}

func (s SatID) String() string {
	id := "*"
	if !s.WildID {
		id = fmt.Sprintf("%02d", s.ID)
	}
	sys := "*"
	if !s.WildSys {
		sys = string(s.System.RINEXCode())
	}
	return sys + id
}

// ParseSatID accepts "G05", "gps:5", "E11" and similar forms.
func ParseSatID(s string) (SatID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SatID{}, fmt.Errorf("empty satellite id")
	}
	if sys, num, ok := strings.Cut(s, ":"); ok {
		var system SatelliteSystem
		for k, v := range systemNames {
			if strings.EqualFold(v, sys) {
				system = k
			}
		}
		if system == SystemUnknown {
			return SatID{}, fmt.Errorf("unknown satellite system %q", sys)
		}
		id, err := strconv.Atoi(num)
		if err != nil {
			return SatID{}, fmt.Errorf("invalid satellite number %q: %w", num, err)
		}
		return NewSatID(id, system), nil
	}
	system := SystemFromRINEX(strings.ToUpper(s)[0])
	if system == SystemUnknown {
		return SatID{}, fmt.Errorf("unknown satellite system in %q", s)
	}
	id, err := strconv.Atoi(strings.TrimSpace(s[1:]))
	if err != nil {
		return SatID{}, fmt.Errorf("invalid satellite number in %q: %w", s, err)
	}
	return NewSatID(id, system), nil
}
