package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/gnss-nav-engine/navtime"
)

// Clock gives components the current sweep epoch without tying them to a
// concrete controller.
type Clock interface {
	Now() navtime.CommonTime
}

// Mode describes how the TimeController advances through its epochs.
type Mode int

const (
	// RealTime waits Pace of wall-clock time between epochs.
	RealTime Mode = iota
	// Accelerated steps as quickly as the listeners return.
	Accelerated
)

// ErrInvalidSweep is returned for a sweep with a non-positive step, an end
// before its start or epochs in incompatible time systems.
var ErrInvalidSweep = errors.New("invalid sweep")

// TimeController walks a closed interval of epochs and notifies registered
// listeners at each one.
type TimeController struct {
	mu    sync.RWMutex
	Start navtime.CommonTime
	End   navtime.CommonTime
	// Step is the interval between epochs in seconds.
	Step float64
	Mode Mode
	// Pace is the wall-clock delay per epoch in RealTime mode.
	Pace time.Duration

	currentTime navtime.CommonTime

	listeners []func(navtime.CommonTime)
}

// NewTimeController constructs a controller over [start, end].
func NewTimeController(start, end navtime.CommonTime, step float64, mode Mode) (*TimeController, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %g s", ErrInvalidSweep, step)
	}
	span, err := end.Sub(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSweep, err)
	}
	if span < 0 {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidSweep, end, start)
	}
	return &TimeController{
		Start:       start,
		End:         end,
		Step:        step,
		Mode:        mode,
		Pace:        time.Second,
		currentTime: start,
	}, nil
}

// Now returns the epoch most recently reached.
func (tc *TimeController) Now() navtime.CommonTime {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the controller to t without notifying listeners.
func (tc *TimeController) SetTime(t navtime.CommonTime) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked at every epoch.
func (tc *TimeController) AddListener(fn func(navtime.CommonTime)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Epochs lists the sweep epochs. Each is computed from Start to avoid
// accumulating rounding over long sweeps.
func (tc *TimeController) Epochs() []navtime.CommonTime {
	span, err := tc.End.Sub(tc.Start)
	if err != nil || span < 0 || tc.Step <= 0 {
		return nil
	}
	n := int(span/tc.Step+1e-9) + 1
	out := make([]navtime.CommonTime, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tc.Start.Add(float64(i)*tc.Step))
	}
	return out
}

// Run steps through every epoch, calling the listeners in registration
// order. It returns ctx.Err() when cancelled part way.
func (tc *TimeController) Run(ctx context.Context) error {
	epochs := tc.Epochs()
	if len(epochs) == 0 {
		return fmt.Errorf("%w: no epochs", ErrInvalidSweep)
	}

	var tick <-chan time.Time
	if tc.Mode == RealTime && tc.Pace > 0 {
		ticker := time.NewTicker(tc.Pace)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, t := range epochs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tick != nil && i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}

		tc.mu.Lock()
		tc.currentTime = t
		listeners := append(([]func(navtime.CommonTime))(nil), tc.listeners...)
		tc.mu.Unlock()

		for _, fn := range listeners {
			fn(t)
		}
	}
	return nil
}

// StartAsync runs the controller in a separate goroutine. The returned
// channel receives Run's result and is then closed.
func (tc *TimeController) StartAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx)
	}()
	return done
}
