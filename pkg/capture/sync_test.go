package capture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iidc-capture/pkg/driver/sim"
)

func setSync(t *testing.T, e *Engine, h int, m SyncMode, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NoError(t, e.SetSyncMode(h, m))
}

func TestSlavesConverge(t *testing.T) {
	for _, tc := range []struct {
		s        Strategy
		lockstep bool
	}{
		{StrategySoft, true},
		{StrategyBus, true},
		{StrategyHardware, true},
		{StrategySoft, false},
		{StrategyBus, false},
		{StrategyHardware, false},
	} {
		s := tc.s
		t.Run(fmt.Sprintf("%s/lockstep=%t", s, tc.lockstep), func(t *testing.T) {
			e, bus := newTestEngine(t, 2)
			master := openSmall(t, e, 0)
			slave := openSmall(t, e, 1)

			m, err := Master(s)
			setSync(t, e, master, m, err)
			sl, err := Slave(s, tc.lockstep)
			setSync(t, e, slave, sl, err)

			_, err = e.StartCapture(slave, e.StartOptions())
			require.NoError(t, err)
			assert.Equal(t, StateArmed, devStats(t, e, slave).Session)

			_, err = e.StartCapture(master, e.StartOptions())
			require.NoError(t, err)
			assert.Equal(t, StateRunning, devStats(t, e, master).Session)
			assert.Equal(t, StateRunning, devStats(t, e, slave).Session)

			for i := int64(1); i <= 12; i++ {
				bus.Tick()
				waitFrames(t, e, master, i)
				waitFrames(t, e, slave, i)
			}
			for i := 0; i < 3; i++ {
				bus.Tick()
			}

			_, err = e.StopCapture(master)
			require.NoError(t, err)

			ms, ss := devStats(t, e, master), devStats(t, e, slave)
			assert.Equal(t, int64(15), ms.FrameCounter)
			assert.Equal(t, ms.FrameCounter, ss.FrameCounter)
			assert.Equal(t, StateIdle, ms.Session)
			assert.Equal(t, StateIdle, ss.Session)
			assert.False(t, ss.Active)

			// queued frames stay fetchable after the stop
			for i := int64(1); i <= 15; i++ {
				f, err := e.Fetch(slave, FetchPoll)
				require.NoError(t, err)
				assert.Equal(t, i, f.Index)
			}
			_, err = e.Fetch(slave, FetchPoll)
			assert.ErrorIs(t, err, ErrTerminated)
		})
	}
}

func TestSlaveDoesNotRunAhead(t *testing.T) {
	e, bus := newTestEngine(t, 2, func(o *Options) { o.LockstepTimeout = 20 * time.Millisecond })
	master := openSmall(t, e, 0)
	slave := openSmall(t, e, 1)

	m, err := Master(StrategySoft)
	setSync(t, e, master, m, err)
	sl, err := Slave(StrategySoft, true)
	setSync(t, e, slave, sl, err)

	so := e.StartOptions()
	so.Async = false
	_, err = e.StartCapture(slave, so)
	require.NoError(t, err)
	_, err = e.StartCapture(master, so)
	require.NoError(t, err)

	bus.Tick()
	bus.Tick()

	// the master has not consumed anything, so the slave must wait
	_, err = e.Fetch(slave, FetchPoll)
	assert.ErrorIs(t, err, ErrNoFrameYet)

	f, err := e.Fetch(master, FetchPoll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Index)

	f, err = e.Fetch(slave, FetchPoll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Index)
	assert.LessOrEqual(t, devStats(t, e, slave).FrameCounter, devStats(t, e, master).FrameCounter)
}

func TestSlaveJoinsRunningMaster(t *testing.T) {
	e, bus := newTestEngine(t, 2)
	master := openSmall(t, e, 0)
	slave := openSmall(t, e, 1)

	m, err := Master(StrategySoft | StrategyBus)
	setSync(t, e, master, m, err)
	sl, err := Slave(StrategyBus, false)
	setSync(t, e, slave, sl, err)

	_, err = e.StartCapture(master, e.StartOptions())
	require.NoError(t, err)
	_, err = e.StartCapture(slave, e.StartOptions())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, devStats(t, e, slave).Session)

	bus.Tick()
	waitFrames(t, e, slave, 1)
	assert.True(t, bus.Camera(1).Stats().Transmitting)

	_, err = e.StopCapture(master)
	require.NoError(t, err)
	assert.False(t, devStats(t, e, slave).Active)
}

func TestSyncModeParameter(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	h := openSmall(t, e, 0)

	_, err := e.SetParameter(h, "SyncMode", Value(SyncBitMaster|SyncBitSoft))
	require.NoError(t, err)

	_, err = e.SetParameter(h, "SyncMode", Value(SyncBitMaster|SyncBitSlave))
	assert.ErrorIs(t, err, ErrInvalidSyncMode)

	res, err := e.SetParameter(h, "syncmode", Query())
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Value())
	assert.Equal(t, "master(soft)", res.Text)
	assert.Equal(t, "master(soft)", devStats(t, e, h).SyncMode)
}

func TestSyncModeLockedWhileActive(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	h := openSmall(t, e, 0)
	_, err := e.StartCapture(h, e.StartOptions())
	require.NoError(t, err)

	_, err = e.SetParameter(h, "SyncMode", Value(SyncBitMaster|SyncBitSoft))
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestHardwareSyncNeedsTrigger(t *testing.T) {
	bus := sim.NewBus()
	spec := sim.DefaultSpec(0)
	spec.Trigger = false
	bus.Add(spec)
	e := New(bus)
	t.Cleanup(func() { _ = e.Close() })

	h := openSmall(t, e, 0)
	sl, err := Slave(StrategyHardware, true)
	setSync(t, e, h, sl, err)

	_, err = e.StartCapture(h, e.StartOptions())
	assert.ErrorIs(t, err, ErrTriggerUnsupported)
	assert.False(t, devStats(t, e, h).Active)
	assert.False(t, bus.Camera(0).Stats().Streaming)
}

func TestFailedStartRollsBackGroup(t *testing.T) {
	e, bus := newTestEngine(t, 2)
	master := openSmall(t, e, 0)
	slave := openSmall(t, e, 1)

	m, err := Master(StrategySoft)
	setSync(t, e, master, m, err)
	sl, err := Slave(StrategySoft, true)
	setSync(t, e, slave, sl, err)

	_, err = e.StartCapture(slave, e.StartOptions())
	require.NoError(t, err)
	bus.Camera(1).FailNext(sim.OpSetTransmission, nil)

	_, err = e.StartCapture(master, e.StartOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncSetupFailed)
	assert.ErrorIs(t, err, sim.ErrInjected)

	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.ElementsMatch(t, []int{master, slave}, se.RolledBack)

	for i, h := range []int{master, slave} {
		st := devStats(t, e, h)
		assert.False(t, st.Active, "device %d", h)
		assert.Equal(t, StateIdle, st.Session)
		cs := bus.Camera(i).Stats()
		assert.False(t, cs.Streaming, fmt.Sprintf("camera %d", i))
		assert.False(t, cs.Transmitting, fmt.Sprintf("camera %d", i))
	}

	// the group can be started again
	_, err = e.StartCapture(slave, e.StartOptions())
	require.NoError(t, err)
	_, err = e.StartCapture(master, e.StartOptions())
	require.NoError(t, err)
}

func TestCloseMasterStopsSlaves(t *testing.T) {
	e, bus := newTestEngine(t, 2)
	master := openSmall(t, e, 0)
	slave := openSmall(t, e, 1)

	m, err := Master(StrategySoft)
	setSync(t, e, master, m, err)
	sl, err := Slave(StrategySoft, true)
	setSync(t, e, slave, sl, err)

	_, err = e.StartCapture(slave, e.StartOptions())
	require.NoError(t, err)
	_, err = e.StartCapture(master, e.StartOptions())
	require.NoError(t, err)
	bus.Tick()
	waitFrames(t, e, slave, 1)

	require.NoError(t, e.CloseDevice(master))
	st := devStats(t, e, slave)
	assert.False(t, st.Active)
	assert.Equal(t, int64(1), st.FrameCounter)
	assert.Equal(t, []int{slave}, e.Handles())
}
