package core

import (
	"context"
	"time"

	"github.com/signalsfoundry/gnss-nav-engine/model"
	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// NavDataCallback receives decoded records one at a time. Returning false
// stops decoding early.
type NavDataCallback interface {
	Process(nd *NavData) bool
}

// CallbackFunc adapts a function to NavDataCallback.
type CallbackFunc func(nd *NavData) bool

func (f CallbackFunc) Process(nd *NavData) bool { return f(nd) }

// NavDataFactory is one source of navigation records, usually one file
// format. Every query method is safe for concurrent use.
type NavDataFactory interface {
	// Name identifies the factory in logs and metrics.
	Name() string
	// SupportedSignals lists the signals the factory can produce.
	SupportedSignals() []model.NavSignalID

	// AddDataSource loads a source. A source that fails to load leaves the
	// factory unchanged.
	AddDataSource(ctx context.Context, source string) error
	// Process decodes a source without storing it, handing each record
	// that passes the factory filters to cb.
	Process(ctx context.Context, source string, cb NavDataCallback) error

	Find(nmid model.NavMessageID, when navtime.CommonTime, xmitHealth model.SVHealth,
		valid model.NavValidityType, order model.NavSearchOrder) (*NavData, error)
	Offset(from, to navtime.TimeSystem, when navtime.CommonTime, xmitHealth model.SVHealth,
		valid model.NavValidityType) (float64, error)
	IsPresent(nmid model.NavMessageID, from, to navtime.CommonTime) bool
	AvailableSats(from, to navtime.CommonTime) []model.NavSatelliteID

	InitialTime() navtime.CommonTime
	FinalTime() navtime.CommonTime
	Size() int

	Edit(from, to navtime.CommonTime)
	EditSatellite(from, to navtime.CommonTime, sat model.NavSatelliteID)
	EditSignal(from, to navtime.CommonTime, sig model.NavSignalID)
	Clear()

	SetValidityFilter(v model.NavValidityType)
	SetTypeFilter(types ...model.NavMessageType)
	AddTypeFilter(t model.NavMessageType)
	ClearTypeFilter()
}

// Sniffer is implemented by factories that can recognise their format from
// the first bytes of a source.
type Sniffer interface {
	Sniff(head []byte) bool
}

// MetricsRecorder receives ingest and query observations. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	ObserveIngest(format string, records int, elapsed time.Duration, err error)
	ObserveQuery(op string, elapsed time.Duration, err error)
	SetStoredRecords(format string, n int)
	IncKeplerFailure()
}

type noopRecorder struct{}

func (noopRecorder) ObserveIngest(string, int, time.Duration, error) {}
func (noopRecorder) ObserveQuery(string, time.Duration, error)       {}
func (noopRecorder) SetStoredRecords(string, int)                    {}
func (noopRecorder) IncKeplerFailure()                               {}
