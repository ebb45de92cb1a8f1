package etherlink

import (
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etherlink/etherlink/iobus"
)

func TestReadMAC(t *testing.T) {
	_, h := newTest509(t)

	mac, err := h.ReadMAC()
	require.NoError(t, err)
	assert.Equal(t, testMAC, mac)
	assert.Equal(t, testMAC, h.MAC())
}

func TestReadIdentityMatch(t *testing.T) {
	_, h509 := newTest509(t)
	require.NoError(t, h509.ReadIdentity())

	_, h515 := newTest515(t)
	require.NoError(t, h515.ReadIdentity())
}

func TestReadIdentityMismatch(t *testing.T) {
	// A 3c515 handle pointed at a 3c509B must refuse to come up.
	l := testLogger()
	sim := iobus.NewSim509(0x300, testMAC, l)
	h := NewHandle(sim, 0x300, Variant515, NewDeviceMetrics(metrics.NewRegistry()), l)

	err := h.ReadIdentity()
	require.ErrorIs(t, err, ErrDeviceNotRecognized)
}

func TestEepromChecksum(t *testing.T) {
	_, h := newTest509(t)

	ok, err := h.VerifyEepromChecksum()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEepromTimeout(t *testing.T) {
	sim, h := newTest509(t)
	sim.EepromStuck = true

	_, err := h.ReadEepromWord(eepromWordMacLo)
	require.ErrorIs(t, err, ErrEepromTimeout)
}

func TestEepromBudgetIsVirtualTime(t *testing.T) {
	sim, h := newTest515(t)

	before := sim.VirtualUS
	_, err := h.ReadEepromWord(eepromWordProductID)
	require.NoError(t, err)

	// The 3c515 budget is 200us; doubled for margin it must still be
	// bounded.
	assert.LessOrEqual(t, sim.VirtualUS-before, int64(400))
}
