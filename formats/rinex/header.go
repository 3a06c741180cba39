package rinex

import (
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

const (
	labelVersion  = "RINEX VERSION / TYPE"
	labelIonAlpha = "ION ALPHA"
	labelIonBeta  = "ION BETA"
	labelIonCorr  = "IONOSPHERIC CORR"
	labelDeltaUTC = "DELTA-UTC: A0,A1,T,W"
	labelTimeCorr = "TIME SYSTEM CORR"
	labelLeap     = "LEAP SECONDS"
	labelEnd      = "END OF HEADER"
)

// timeCorr is one polynomial time correction from the header.
type timeCorr struct {
	kind    string
	a0, a1  float64
	refSOW  float64
	refWeek int
}

type leapSeconds struct {
	valid         bool
	dtLS, dtLSF   int
	wnLSF, dn     int
	bdsReferenced bool
}

type header struct {
	version float64
	system  model.SatelliteSystem
	iono    map[string][4]float64
	corr    []timeCorr
	leap    leapSeconds
}

// rinex3 reports whether data records use the three-character satellite
// field.
func (h *header) rinex3() bool { return h.version >= 3 }

func readHeader(lr *formats.LineReader) (*header, error) {
	h := &header{iono: make(map[string][4]float64)}
	first := true
	for {
		line, ok := lr.Next()
		if !ok {
			if err := lr.Err(); err != nil {
				return nil, err
			}
			return nil, lr.Errorf("missing %s", labelEnd)
		}
		label := formats.Field(line, 60, 20)
		if first {
			if label != labelVersion {
				return nil, lr.Errorf("not a RINEX file")
			}
			if err := h.parseVersion(line, lr); err != nil {
				return nil, err
			}
			first = false
			continue
		}
		var err error
		switch {
		case label == labelEnd:
			return h, nil
		case label == labelIonAlpha:
			err = h.parseIono("GPSA", line, 2)
		case label == labelIonBeta:
			err = h.parseIono("GPSB", line, 2)
		case label == labelIonCorr:
			err = h.parseIono(strings.TrimSpace(line[:4]), line, 5)
		case label == labelDeltaUTC:
			err = h.parseDeltaUTC(line)
		case label == labelTimeCorr:
			err = h.parseTimeCorr(line)
		case label == labelLeap:
			err = h.parseLeap(line)
		}
		if err != nil {
			return nil, lr.Errorf("%s: %v", label, err)
		}
	}
}

func (h *header) parseVersion(line string, lr *formats.LineReader) error {
	v, err := formats.ParseFloat(formats.Field(line, 0, 9))
	if err != nil {
		return lr.Errorf("version: %v", err)
	}
	h.version = v
	if v < 2 || v >= 4 {
		return lr.Errorf("unsupported RINEX version %.2f", v)
	}
	if formats.Field(line, 20, 1) != "N" {
		return lr.Errorf("not a navigation message file (type %q)", formats.Field(line, 20, 1))
	}
	h.system = model.SystemGPS
	if h.rinex3() {
		if c := formats.Field(line, 40, 1); c != "" && c != "M" {
			h.system = model.SystemFromRINEX(c[0])
		} else if c == "M" {
			h.system = model.SystemUnknown
		}
	}
	return nil
}

func (h *header) parseIono(kind, line string, start int) error {
	var p [4]float64
	for i := range p {
		v, err := formats.ParseFloat(formats.Field(line, start+12*i, 12))
		if err != nil {
			return err
		}
		p[i] = v
	}
	h.iono[kind] = p
	return nil
}

func (h *header) parseDeltaUTC(line string) error {
	a0, err := formats.ParseFloat(formats.Field(line, 3, 19))
	if err != nil {
		return err
	}
	a1, err := formats.ParseFloat(formats.Field(line, 22, 19))
	if err != nil {
		return err
	}
	t, err := formats.ParseFloat(formats.Field(line, 41, 9))
	if err != nil {
		return err
	}
	w, err := formats.ParseInt(formats.Field(line, 50, 9))
	if err != nil {
		return err
	}
	h.corr = append(h.corr, timeCorr{kind: "GPUT", a0: a0, a1: a1, refSOW: t, refWeek: w})
	return nil
}

func (h *header) parseTimeCorr(line string) error {
	tc := timeCorr{kind: formats.Field(line, 0, 4)}
	var err error
	if tc.a0, err = formats.ParseFloat(formats.Field(line, 5, 17)); err != nil {
		return err
	}
	if tc.a1, err = formats.ParseFloat(formats.Field(line, 22, 16)); err != nil {
		return err
	}
	if tc.refSOW, err = formats.ParseFloat(formats.Field(line, 38, 7)); err != nil {
		return err
	}
	if tc.refWeek, err = formats.ParseInt(formats.Field(line, 45, 5)); err != nil {
		return err
	}
	h.corr = append(h.corr, tc)
	return nil
}

func (h *header) parseLeap(line string) error {
	var err error
	l := leapSeconds{valid: true}
	if l.dtLS, err = formats.ParseInt(formats.Field(line, 0, 6)); err != nil {
		return err
	}
	if l.dtLSF, err = formats.ParseInt(formats.Field(line, 6, 6)); err != nil {
		return err
	}
	if l.wnLSF, err = formats.ParseInt(formats.Field(line, 12, 6)); err != nil {
		return err
	}
	if l.dn, err = formats.ParseInt(formats.Field(line, 18, 6)); err != nil {
		return err
	}
	l.bdsReferenced = formats.Field(line, 24, 3) == "BDS"
	h.leap = l
	return nil
}

// corrSystems maps a correction type to its source and target time
// systems. Corrections not listed here are skipped.
var corrSystems = map[string][2]navtime.TimeSystem{
	"GPUT": {navtime.GPS, navtime.UTC},
	"GAUT": {navtime.GAL, navtime.UTC},
	"BDUT": {navtime.BDT, navtime.UTC},
	"QZUT": {navtime.QZS, navtime.UTC},
	"GAGP": {navtime.GAL, navtime.GPS},
	"QZGP": {navtime.QZS, navtime.GPS},
}

// refTime builds the reference epoch of a correction in its source system.
// BeiDou corrections count BDT weeks, everything else continuous GPS weeks.
func (tc timeCorr) refTime(src navtime.TimeSystem) navtime.CommonTime {
	if src == navtime.BDT {
		return navtime.BDSWeekSecond(tc.refWeek, tc.refSOW)
	}
	return navtime.GPSWeekSecond(tc.refWeek, tc.refSOW, src)
}

// leapFor returns the current and future leap second counts as seen from
// src. BDT started 14 s after GPS, so a GPS-referenced count is reduced.
func (l leapSeconds) leapFor(src navtime.TimeSystem) (float64, float64) {
	ls, lsf := float64(l.dtLS), float64(l.dtLSF)
	if src == navtime.BDT && !l.bdsReferenced {
		ls -= 14
		if l.dtLSF != 0 {
			lsf -= 14
		}
	}
	return ls, lsf
}

// effTime resolves the leap second effectivity, which may carry a week
// truncated to eight bits, against the correction's reference week.
func (l leapSeconds) effTime(src navtime.TimeSystem, refWeek int) navtime.CommonTime {
	week := l.wnLSF
	if week < 256 && refWeek >= 256 {
		week = refWeek - refWeek%256 + week
		switch {
		case week-refWeek > 127:
			week -= 256
		case refWeek-week > 128:
			week += 256
		}
	}
	sow := float64(l.dn) * 86400
	if src == navtime.BDT {
		return navtime.BDSWeekSecond(week, sow)
	}
	return navtime.GPSWeekSecond(week, sow, src)
}
