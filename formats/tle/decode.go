package tle

import (
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/formats"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
)

// signalFor files element sets under a signal that only names the system.
func signalFor(sys model.SatelliteSystem) model.NavSignalID {
	return model.NavSignalID{System: sys, Carrier: model.BandAny, Code: model.CodeAny, Nav: model.NavTLE}
}

// Catalogue names such as "GPS BIIR-2  (PRN 13)", "GSAT0101 (PRN E11)" or
// "BEIDOU-3 M1 (C19)".
var prnInName = regexp.MustCompile(`\((?:PRN\s*)?([A-Z]?)\s*(\d{1,3})\)`)

// satFromName recognises the PRN in a catalogue name. Bare numbers are GPS
// only when the name says so.
func satFromName(name string) (model.SatID, bool) {
	upper := strings.ToUpper(name)
	m := prnInName.FindStringSubmatch(upper)
	if m == nil {
		return model.SatID{}, false
	}
	if m[1] != "" {
		sat, err := model.ParseSatID(m[1] + m[2])
		return sat, err == nil
	}
	gps := strings.HasPrefix(upper, "GPS") || strings.HasPrefix(upper, "NAVSTAR")
	if !gps || !strings.Contains(upper, "PRN") {
		return model.SatID{}, false
	}
	prn, err := strconv.Atoi(m[2])
	return model.NewSatID(prn, model.SystemGPS), err == nil
}

// Decode reads two- or three-line element sets. A set is filed under the
// satellite named by satMap[norad] when present, otherwise under the PRN in
// its name line; sets that resolve to neither are skipped.
func Decode(ctx context.Context, r io.Reader, source string, satMap map[int]model.SatID,
	cb core.NavDataCallback, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	lr := formats.NewLineReader(ctx, r, source)
	var (
		name    string
		line1   string
		sets    int
		skipped int
	)
	for {
		line, ok := lr.Next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "1 ") && line1 == "":
			line1 = line
			continue
		case strings.HasPrefix(line, "2 ") && line1 != "":
		case line1 != "":
			return lr.Errorf("line 1 of %q not followed by line 2", strings.TrimSpace(name))
		default:
			name = strings.TrimSpace(strings.TrimPrefix(line, "0 "))
			continue
		}

		orbit, err := core.NewTLEOrbit(line1, line)
		if err != nil {
			return lr.Errorf("%v", err)
		}
		sets++
		setName := name
		line1, name = "", ""
		sat, ok := satMap[orbit.NoradID]
		if !ok {
			sat, ok = satFromName(setName)
		}
		if !ok {
			skipped++
			log.Debug(ctx, "tle without a navigation satellite",
				logging.Int("norad", orbit.NoradID),
				logging.String("name", setName),
			)
			continue
		}
		id := model.NavSatelliteID{NavSignalID: signalFor(sat.System), Sat: sat, XmitSat: sat}
		nd := &core.NavData{
			ID:        model.NewNavMessageID(id, model.MsgEphemeris),
			TimeStamp: orbit.Epoch,
			XmitTime:  orbit.Epoch,
			Health:    model.HealthUnknown,
			Payload:   orbit,
		}
		nd.FixFit()
		if !cb.Process(nd) {
			return nil
		}
	}
	if err := lr.Err(); err != nil {
		return err
	}
	if line1 != "" {
		return lr.Errorf("truncated element set %q", name)
	}
	if sets == 0 {
		return lr.Errorf("no element sets")
	}
	if skipped > 0 {
		log.Info(ctx, "tle sets skipped",
			logging.String("source", source),
			logging.Int("skipped", skipped),
			logging.Int("sets", sets),
		)
	}
	return nil
}
