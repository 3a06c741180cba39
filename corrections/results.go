// Package corrections computes group path delays for a satellite signal:
// inter-signal bias, ionosphere and troposphere, each from its own
// corrector, combined by GroupPathCorr.
package corrections

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

var (
	ErrCorrectorFailed    = errors.New("corrector failed")
	ErrInvalidDupHandling = errors.New("invalid duplicate handling")
	ErrNoWeather          = errors.New("no weather data")
)

// CorrectorType classifies correctors so duplicates can be recognised.
type CorrectorType int

const (
	CorrUnknown CorrectorType = iota
	CorrClock
	CorrTrop
	CorrIono
	CorrISC
	CorrMultipath
	CorrRxChlBias
)

var correctorTypeNames = map[CorrectorType]string{
	CorrUnknown:   "Unknown",
	CorrClock:     "Clock",
	CorrTrop:      "Trop",
	CorrIono:      "Iono",
	CorrISC:       "ISC",
	CorrMultipath: "Multipath",
	CorrRxChlBias: "RxChlBias",
}

func (t CorrectorType) String() string {
	if s, ok := correctorTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("CorrectorType(%d)", int(t))
}

// CorrDupHandling says which value counts when several correctors of the
// same type produce one, and whether later ones are computed at all.
type CorrDupHandling int

const (
	DupUnknown CorrDupHandling = iota
	// ComputeFirst stops computing a type once one corrector of it has
	// succeeded.
	ComputeFirst
	// ComputeLast computes everything and keeps the last value per type.
	ComputeLast
	// UseFirst computes everything and keeps the first value per type.
	UseFirst
)

var dupNames = map[CorrDupHandling]string{
	DupUnknown:   "Unknown",
	ComputeFirst: "ComputeFirst",
	ComputeLast:  "ComputeLast",
	UseFirst:     "UseFirst",
}

func (d CorrDupHandling) String() string {
	if s, ok := dupNames[d]; ok {
		return s
	}
	return fmt.Sprintf("CorrDupHandling(%d)", int(d))
}

// ParseCorrDupHandling accepts the names printed by String in any case,
// with or without underscores ("compute_first").
func ParseCorrDupHandling(s string) (CorrDupHandling, error) {
	key := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	for d, name := range dupNames {
		if d != DupUnknown && strings.EqualFold(name, key) {
			return d, nil
		}
	}
	return DupUnknown, fmt.Errorf("%w: %q", ErrInvalidDupHandling, s)
}

// GroupPathCorrector computes one delay term in metres.
type GroupPathCorrector interface {
	Type() CorrectorType
	GetCorr(rx, sv model.Position, sat model.SatID, sig model.NavSignalID, when navtime.CommonTime) (float64, error)
}

// GetCorrXvt runs c with the satellite position taken from an evaluated
// state.
func GetCorrXvt(c GroupPathCorrector, rx model.Position, sv model.Xvt, sat model.SatID,
	sig model.NavSignalID, when navtime.CommonTime) (float64, error) {
	return c.GetCorr(rx, model.Position{Vec3: sv.X}, sat, sig, when)
}

// CorrectionResult is one corrector's output.
type CorrectionResult struct {
	Value  float64
	Source GroupPathCorrector
}

// CorrectionResults collects outputs in the order they were computed.
type CorrectionResults struct {
	results []CorrectionResult
}

func (r *CorrectionResults) Add(res CorrectionResult) {
	r.results = append(r.results, res)
}

// Results returns the collected outputs.
func (r *CorrectionResults) Results() []CorrectionResult {
	return r.results
}

func (r *CorrectionResults) Clear() {
	r.results = nil
}

// Sum adds one value per corrector type, chosen by dups. It is NaN when
// nothing was collected.
func (r *CorrectionResults) Sum(dups CorrDupHandling) (float64, error) {
	byType := make(map[CorrectorType]float64)
	for _, res := range r.results {
		t := res.Source.Type()
		switch dups {
		case ComputeFirst, UseFirst:
			if _, ok := byType[t]; !ok {
				byType[t] = res.Value
			}
		case ComputeLast:
			byType[t] = res.Value
		default:
			return math.NaN(), fmt.Errorf("%w: %s", ErrInvalidDupHandling, dups)
		}
	}
	if len(byType) == 0 {
		if dups < ComputeFirst || dups > UseFirst {
			return math.NaN(), fmt.Errorf("%w: %s", ErrInvalidDupHandling, dups)
		}
		return math.NaN(), nil
	}
	types := make([]CorrectorType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	sum := 0.0
	for _, t := range types {
		sum += byType[t]
	}
	return sum, nil
}
