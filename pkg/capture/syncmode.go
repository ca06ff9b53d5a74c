package capture

import (
	"fmt"
	"strings"
)

type Role int

const (
	RoleNone Role = iota
	RoleMaster
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	}
	return "none"
}

// Strategy is the set of ways a master reaches its slaves. A slave uses
// exactly one of them.
type Strategy uint8

const (
	StrategySoft Strategy = 1 << iota
	StrategyBus
	StrategyHardware
)

const allStrategies = StrategySoft | StrategyBus | StrategyHardware

func (s Strategy) Has(o Strategy) bool { return s&o != 0 }

func (s Strategy) count() int {
	n := 0
	for _, o := range []Strategy{StrategySoft, StrategyBus, StrategyHardware} {
		if s.Has(o) {
			n++
		}
	}
	return n
}

func (s Strategy) String() string {
	var parts []string
	if s.Has(StrategySoft) {
		parts = append(parts, "soft")
	}
	if s.Has(StrategyBus) {
		parts = append(parts, "bus")
	}
	if s.Has(StrategyHardware) {
		parts = append(parts, "hardware")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// SyncMode is a device's role in a synchronized capture session. Build it
// with Standalone, Master, Slave or ParseSyncMode; the zero value is
// Standalone.
type SyncMode struct {
	Role     Role
	Strategy Strategy
	// Lockstep keeps a slave from running ahead of its master's frame count.
	Lockstep bool
}

func Standalone() SyncMode { return SyncMode{} }

// Master needs at least one strategy.
func Master(s Strategy) (SyncMode, error) {
	if s == 0 || s&^allStrategies != 0 {
		return SyncMode{}, fmt.Errorf("%w: master needs at least one strategy, got %s", ErrInvalidSyncMode, s)
	}
	return SyncMode{Role: RoleMaster, Strategy: s}, nil
}

// Slave needs exactly one strategy.
func Slave(s Strategy, lockstep bool) (SyncMode, error) {
	if s&^allStrategies != 0 || s.count() != 1 {
		return SyncMode{}, fmt.Errorf("%w: slave needs exactly one strategy, got %s", ErrInvalidSyncMode, s)
	}
	return SyncMode{Role: RoleSlave, Strategy: s, Lockstep: lockstep}, nil
}

// Bits of the numeric sync mode used by the parameter interface.
const (
	SyncBitMaster     = 1
	SyncBitSlave      = 2
	SyncBitSoft       = 4
	SyncBitBus        = 8
	SyncBitHardware   = 16
	SyncBitNoLockstep = 32

	syncBitsAll = 63
)

// ParseSyncMode decodes the numeric form. Slaves are lock-stepped unless
// SyncBitNoLockstep is set; the bit is rejected on any other role.
func ParseSyncMode(mask int) (SyncMode, error) {
	if mask < 0 || mask&^syncBitsAll != 0 {
		return SyncMode{}, fmt.Errorf("%w: unknown bits in %d", ErrInvalidSyncMode, mask)
	}
	var s Strategy
	if mask&SyncBitSoft != 0 {
		s |= StrategySoft
	}
	if mask&SyncBitBus != 0 {
		s |= StrategyBus
	}
	if mask&SyncBitHardware != 0 {
		s |= StrategyHardware
	}
	master, slave := mask&SyncBitMaster != 0, mask&SyncBitSlave != 0

	switch {
	case !slave && mask&SyncBitNoLockstep != 0:
		return SyncMode{}, fmt.Errorf("%w: lock-step bit only applies to slaves", ErrInvalidSyncMode)
	case master && slave:
		return SyncMode{}, fmt.Errorf("%w: device cannot be master and slave", ErrInvalidSyncMode)
	case master:
		return Master(s)
	case slave:
		return Slave(s, mask&SyncBitNoLockstep == 0)
	case s != 0:
		return SyncMode{}, fmt.Errorf("%w: strategy %s without a role", ErrInvalidSyncMode, s)
	}
	return Standalone(), nil
}

// Bitmask is the inverse of ParseSyncMode.
func (m SyncMode) Bitmask() int {
	mask := 0
	switch m.Role {
	case RoleMaster:
		mask |= SyncBitMaster
	case RoleSlave:
		mask |= SyncBitSlave
		if !m.Lockstep {
			mask |= SyncBitNoLockstep
		}
	}
	if m.Strategy.Has(StrategySoft) {
		mask |= SyncBitSoft
	}
	if m.Strategy.Has(StrategyBus) {
		mask |= SyncBitBus
	}
	if m.Strategy.Has(StrategyHardware) {
		mask |= SyncBitHardware
	}
	return mask
}

func (m SyncMode) String() string {
	switch m.Role {
	case RoleMaster:
		return fmt.Sprintf("master(%s)", m.Strategy)
	case RoleSlave:
		if m.Lockstep {
			return fmt.Sprintf("slave(%s, lockstep)", m.Strategy)
		}
		return fmt.Sprintf("slave(%s)", m.Strategy)
	}
	return "standalone"
}

// serves reports whether a master in mode m drives slave s.
func (m SyncMode) serves(s SyncMode) bool {
	return m.Role == RoleMaster && s.Role == RoleSlave && m.Strategy.Has(s.Strategy)
}
