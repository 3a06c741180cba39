package corrections

import (
	"fmt"

	"github.com/signalsfoundry/gnss-nav-engine/core"
	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// gammaL1L2 is (f_L1/f_L2)^2 for GPS.
const gammaL1L2 = (77.0 / 60.0) * (77.0 / 60.0)

type iscSource interface {
	ISC(sat model.NavSatelliteID, when navtime.CommonTime, opts ...core.QueryOption) (float64, error)
}

type ionoSource interface {
	Iono(sat model.NavSatelliteID, when navtime.CommonTime, opts ...core.QueryOption) (*core.KlobucharIono, error)
}

// BCISCorrector applies the broadcast group delay. GPS LNAV carries the
// L1/L2 Tgd, which scales by gamma on L2.
type BCISCorrector struct {
	lib iscSource
}

func NewBCISCorrector(lib *core.NavLibrary) *BCISCorrector {
	return &BCISCorrector{lib: lib}
}

func (*BCISCorrector) Type() CorrectorType { return CorrISC }

func (c *BCISCorrector) GetCorr(_, _ model.Position, sat model.SatID, sig model.NavSignalID,
	when navtime.CommonTime) (float64, error) {
	if c.lib == nil {
		return 0, fmt.Errorf("%w: isc: no navigation library", ErrCorrectorFailed)
	}
	id := model.AnySignalFor(sat)
	if sig.Nav != model.NavUnknown {
		id.Nav = sig.Nav
	}
	tgd, err := c.lib.ISC(id, when)
	if err != nil {
		return 0, fmt.Errorf("%w: isc %s: %w", ErrCorrectorFailed, sat, err)
	}
	switch sig.Carrier {
	case model.BandL1, model.BandAny, model.BandUnknown:
		return tgd * core.SpeedOfLight, nil
	case model.BandL2:
		return gammaL1L2 * tgd * core.SpeedOfLight, nil
	}
	return 0, fmt.Errorf("%w: isc: no group delay scale for %s", ErrCorrectorFailed, sig.Carrier)
}

// BCIonoCorrector evaluates the broadcast Klobuchar model in effect for the
// satellite's system.
type BCIonoCorrector struct {
	lib ionoSource
}

func NewBCIonoCorrector(lib *core.NavLibrary) *BCIonoCorrector {
	return &BCIonoCorrector{lib: lib}
}

func (*BCIonoCorrector) Type() CorrectorType { return CorrIono }

func (c *BCIonoCorrector) GetCorr(rx, sv model.Position, sat model.SatID, sig model.NavSignalID,
	when navtime.CommonTime) (float64, error) {
	if c.lib == nil {
		return 0, fmt.Errorf("%w: iono: no navigation library", ErrCorrectorFailed)
	}
	k, err := c.lib.Iono(model.AnySignalFor(model.AnySatOf(sat.System)), when)
	if err != nil {
		return 0, fmt.Errorf("%w: iono %s: %w", ErrCorrectorFailed, sat, err)
	}
	band := sig.Carrier
	if band == model.BandAny || band == model.BandUnknown {
		band = model.BandL1
	}
	return k.Correction(when, rx, sv, band), nil
}
