package etherlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaMode(t *testing.T) {
	mode, err := ParseMediaMode("")
	require.NoError(t, err)
	assert.Equal(t, MediaModeAuto, mode)

	mode, err = ParseMediaMode("bnc")
	require.NoError(t, err)
	assert.Equal(t, MediaModeBnc, mode)

	_, err = ParseMediaMode("token-ring")
	require.Error(t, err)
}

func TestAutoProbeLinkBeat(t *testing.T) {
	sim, h := newTest509(t)
	sim.LinkBeat = true

	f := NewMediaFSM(h, MediaModeAuto)
	require.NoError(t, f.Configure())

	assert.Equal(t, MediaLinked, f.State())
	assert.True(t, f.Linked())
	assert.Equal(t, MediaTenBaseT, f.port)
	assert.Equal(t, int64(1), h.metrics.LinkUp.Value())
}

func TestAutoProbeCoaxFallback(t *testing.T) {
	sim, h := newTest509(t)
	sim.LinkBeat = false

	f := NewMediaFSM(h, MediaModeAuto)
	require.NoError(t, f.Configure())

	// No beat on twisted pair within the probe budget: coax is selected
	// and taken as linked.
	assert.Equal(t, MediaLinked, f.State())
	assert.Equal(t, MediaBnc, f.port)
}

func TestManual10BaseTNoLink(t *testing.T) {
	sim, h := newTest509(t)
	sim.LinkBeat = false

	f := NewMediaFSM(h, MediaMode10BaseT)
	err := f.Configure()
	require.ErrorIs(t, err, ErrLinkDown)
	assert.Equal(t, MediaNoLink, f.State())
	assert.Equal(t, int64(0), h.metrics.LinkUp.Value())
}

func TestManualAui(t *testing.T) {
	_, h := newTest509(t)

	f := NewMediaFSM(h, MediaModeAui)
	require.NoError(t, f.Configure())
	assert.Equal(t, MediaLinked, f.State())
	assert.Equal(t, MediaAui, f.port)
}

func TestMiiAutonegotiation(t *testing.T) {
	sim, h := newTest515(t)
	h.mii = true

	f := NewMediaFSM(h, MediaModeAuto)
	require.NoError(t, f.Configure())

	assert.Equal(t, MediaLinked, f.State())
	assert.Equal(t, MediaMii100, f.port)
	assert.True(t, h.fullDuplex)

	// The negotiated duplex must land in the window 3 MAC control register.
	h.SelectWindow(3)
	assert.Equal(t, macCtrlFullDuplex, sim.Inw(0x300+uint16(regW3MacCtrl))&macCtrlFullDuplex)
}

func TestMiiHalfDuplexPartner(t *testing.T) {
	sim, h := newTest515(t)
	h.mii = true
	sim.SetLinkPartner(miiLpa10Half)

	f := NewMediaFSM(h, MediaModeAuto)
	require.NoError(t, f.Configure())

	assert.Equal(t, MediaLinked, f.State())
	assert.False(t, h.fullDuplex)
}

func TestMiiAbsentFallsBackToLinkBeat(t *testing.T) {
	sim, h := newTest515(t)
	h.mii = true
	sim.HasMII = false
	sim.LinkBeat = true

	f := NewMediaFSM(h, MediaModeAuto)
	require.NoError(t, f.Configure())

	assert.Equal(t, MediaLinked, f.State())
	assert.Equal(t, MediaTenBaseT, f.port)
}

func TestRecheckReprobesOnLinkLoss(t *testing.T) {
	sim, h := newTest509(t)
	sim.LinkBeat = true

	f := NewMediaFSM(h, MediaModeAuto)
	require.NoError(t, f.Configure())
	require.Equal(t, MediaTenBaseT, f.port)

	// Link still up: the watchdog must not disturb anything.
	transitions := h.metrics.MediaTransitions.Count()
	require.NoError(t, f.Recheck())
	assert.Equal(t, transitions, h.metrics.MediaTransitions.Count())

	// Pull the cable: the probe runs again and settles on coax.
	sim.LinkBeat = false
	require.NoError(t, f.Recheck())
	assert.Equal(t, MediaLinked, f.State())
	assert.Equal(t, MediaBnc, f.port)
	assert.Greater(t, h.metrics.MediaTransitions.Count(), transitions)
}
