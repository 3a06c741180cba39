package corrections

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/internal/logging"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// GroupPathCorr runs a list of correctors in order.
type GroupPathCorr struct {
	Calcs []GroupPathCorrector
	// AbortOnError stops at the first failing corrector. Otherwise the
	// remaining correctors still contribute and the failure is reported
	// alongside the results.
	AbortOnError bool

	log logging.Logger
}

// SetLogger attaches a logger for corrector failures.
func (g *GroupPathCorr) SetLogger(log logging.Logger) { g.log = log }

func (g *GroupPathCorr) logger() logging.Logger {
	if g.log == nil {
		return logging.Noop()
	}
	return g.log
}

// Init adds the broadcast inter-signal and ionosphere correctors.
func (g *GroupPathCorr) Init(lib *core.NavLibrary) error {
	if lib == nil {
		return fmt.Errorf("%w: nil navigation library", ErrCorrectorFailed)
	}
	g.Calcs = append(g.Calcs, NewBCISCorrector(lib), NewBCIonoCorrector(lib))
	return nil
}

// InitGlobal is Init plus the global troposphere model. Weather comes from
// the RINEX met file when one is named.
func (g *GroupPathCorr) InitGlobal(ctx context.Context, lib *core.NavLibrary, metFile string) error {
	return g.initTrop(ctx, lib, metFile, GlobalTropModel{})
}

// InitNB is Init plus the New Brunswick troposphere model, which falls back
// to its own climatology when no met file is named.
func (g *GroupPathCorr) InitNB(ctx context.Context, lib *core.NavLibrary, metFile string) error {
	return g.initTrop(ctx, lib, metFile, NBTropModel{})
}

func (g *GroupPathCorr) initTrop(ctx context.Context, lib *core.NavLibrary, metFile string, m TropModel) error {
	if err := g.Init(lib); err != nil {
		return err
	}
	trop := NewTropCorrector(m)
	if metFile != "" {
		if err := trop.LoadFile(ctx, metFile); err != nil {
			return err
		}
	}
	g.Calcs = append(g.Calcs, trop)
	return nil
}

// GetCorr computes every corrector for one signal. Under ComputeFirst a
// type that already has a value is not computed again. The error wraps
// ErrCorrectorFailed when any corrector failed; the results still hold
// what the others produced.
func (g *GroupPathCorr) GetCorr(rx, sv model.Position, sat model.SatID, sig model.NavSignalID,
	when navtime.CommonTime, dups CorrDupHandling) (*CorrectionResults, error) {
	out := &CorrectionResults{}
	seen := make(map[CorrectorType]bool)
	var errs []error
	for _, calc := range g.Calcs {
		if dups == ComputeFirst && seen[calc.Type()] {
			continue
		}
		v, err := calc.GetCorr(rx, sv, sat, sig, when)
		if err != nil {
			g.logger().Debug(context.Background(), "corrector failed",
				logging.String("type", calc.Type().String()),
				logging.String("sat", sat.String()),
				logging.Err(err),
			)
			if !errors.Is(err, ErrCorrectorFailed) {
				err = fmt.Errorf("%w: %s: %w", ErrCorrectorFailed, calc.Type(), err)
			}
			errs = append(errs, err)
			if g.AbortOnError {
				break
			}
			continue
		}
		out.Add(CorrectionResult{Value: v, Source: calc})
		seen[calc.Type()] = true
	}
	return out, errors.Join(errs...)
}

// GetCorrXvt is GetCorr with the satellite position from an evaluated
// state.
func (g *GroupPathCorr) GetCorrXvt(rx model.Position, sv model.Xvt, sat model.SatID, sig model.NavSignalID,
	when navtime.CommonTime, dups CorrDupHandling) (*CorrectionResults, error) {
	return g.GetCorr(rx, model.Position{Vec3: sv.X}, sat, sig, when, dups)
}

// GetCorrSum is GetCorr followed by Sum. A corrector failure is reported
// together with the sum of the values that were produced.
func (g *GroupPathCorr) GetCorrSum(rx, sv model.Position, sat model.SatID, sig model.NavSignalID,
	when navtime.CommonTime, dups CorrDupHandling) (float64, error) {
	res, err := g.GetCorr(rx, sv, sat, sig, when, dups)
	sum, serr := res.Sum(dups)
	if serr != nil {
		return math.NaN(), serr
	}
	return sum, err
}
