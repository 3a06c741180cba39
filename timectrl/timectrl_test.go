package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/gnss-nav-engine/navtime"
	"github.com/stretchr/testify/require"
)

func start() navtime.CommonTime {
	return navtime.FromCivil(2025, 1, 1, 0, 0, 0, navtime.GPS)
}

func TestTimeControllerSetTime(t *testing.T) {
	tc, err := NewTimeController(start(), start().Add(3600), 60, Accelerated)
	require.NoError(t, err)

	newNow := start().Add(42)
	tc.SetTime(newNow)
	require.True(t, tc.Now().Equal(newNow), "Now() = %s, want %s", tc.Now(), newNow)
}

func TestRunVisitsEveryEpoch(t *testing.T) {
	tc, err := NewTimeController(start(), start().Add(900), 300, Accelerated)
	require.NoError(t, err)

	var seen []float64
	tc.AddListener(func(at navtime.CommonTime) {
		d, err := at.Sub(start())
		require.NoError(t, err)
		seen = append(seen, d)
	})
	require.NoError(t, tc.Run(context.Background()))
	require.Equal(t, []float64{0, 300, 600, 900}, seen)
	require.True(t, tc.Now().Equal(start().Add(900)))
}

func TestEpochsIncludeEndOnlyWhenReached(t *testing.T) {
	tc, err := NewTimeController(start(), start().Add(1000), 300, Accelerated)
	require.NoError(t, err)
	require.Len(t, tc.Epochs(), 4)

	single, err := NewTimeController(start(), start(), 30, Accelerated)
	require.NoError(t, err)
	require.Len(t, single.Epochs(), 1)
}

func TestInvalidSweeps(t *testing.T) {
	_, err := NewTimeController(start(), start().Add(10), 0, Accelerated)
	require.ErrorIs(t, err, ErrInvalidSweep)

	_, err = NewTimeController(start().Add(10), start(), 1, Accelerated)
	require.ErrorIs(t, err, ErrInvalidSweep)

	utc := navtime.FromCivil(2025, 1, 1, 1, 0, 0, navtime.UTC)
	_, err = NewTimeController(start(), utc, 1, Accelerated)
	require.ErrorIs(t, err, ErrInvalidSweep)
}

func TestRunStopsOnCancel(t *testing.T) {
	tc, err := NewTimeController(start(), start().Add(86400), 1, Accelerated)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	tc.AddListener(func(navtime.CommonTime) {
		calls++
		if calls == 5 {
			cancel()
		}
	})
	err = tc.Run(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 5, calls)
}

func TestStartAsyncRealTime(t *testing.T) {
	tc, err := NewTimeController(start(), start().Add(20), 10, RealTime)
	require.NoError(t, err)
	tc.Pace = 5 * time.Millisecond

	began := time.Now()
	select {
	case err := <-tc.StartAsync(context.Background()):
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not finish")
	}
	require.GreaterOrEqual(t, time.Since(began), 10*time.Millisecond)
	require.True(t, tc.Now().Equal(start().Add(20)))
}
