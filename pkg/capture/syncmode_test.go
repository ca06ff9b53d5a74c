package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSyncMode(t *testing.T) {
	tests := []struct {
		mask int
		want SyncMode
	}{
		{0, Standalone()},
		{SyncBitMaster | SyncBitSoft, SyncMode{Role: RoleMaster, Strategy: StrategySoft}},
		{SyncBitMaster | SyncBitSoft | SyncBitBus | SyncBitHardware, SyncMode{Role: RoleMaster, Strategy: allStrategies}},
		{SyncBitSlave | SyncBitBus, SyncMode{Role: RoleSlave, Strategy: StrategyBus, Lockstep: true}},
		{SyncBitSlave | SyncBitHardware | SyncBitNoLockstep, SyncMode{Role: RoleSlave, Strategy: StrategyHardware}},
	}
	for _, tt := range tests {
		got, err := ParseSyncMode(tt.mask)
		require.NoError(t, err, "mask %d", tt.mask)
		assert.Equal(t, tt.want, got, "mask %d", tt.mask)
		assert.Equal(t, tt.mask, got.Bitmask())
	}
}

func TestParseSyncModeRejects(t *testing.T) {
	for _, mask := range []int{
		SyncBitMaster | SyncBitSlave,
		SyncBitMaster,
		SyncBitSlave,
		SyncBitSlave | SyncBitSoft | SyncBitBus,
		SyncBitSoft,
		SyncBitMaster | SyncBitSoft | SyncBitNoLockstep,
		SyncBitNoLockstep,
		64,
		-1,
	} {
		_, err := ParseSyncMode(mask)
		assert.ErrorIs(t, err, ErrInvalidSyncMode, "mask %d", mask)
	}
}

func TestSyncModeServes(t *testing.T) {
	m, err := Master(StrategySoft | StrategyHardware)
	require.NoError(t, err)
	soft, _ := Slave(StrategySoft, true)
	bus, _ := Slave(StrategyBus, true)
	hw, _ := Slave(StrategyHardware, false)

	assert.True(t, m.serves(soft))
	assert.True(t, m.serves(hw))
	assert.False(t, m.serves(bus))
	assert.False(t, soft.serves(hw))
	assert.False(t, m.serves(Standalone()))

	assert.Equal(t, "master(soft+hardware)", m.String())
	assert.Equal(t, "slave(hardware)", hw.String())
}
