package etherlink

import (
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etherlink/etherlink/iobus"
)

const testArenaBase = 0x100000

func newTestRing(t *testing.T, onReceive func([]byte)) (*iobus.Sim515, *Handle, *Arena, *BouncePool, *RingEngine) {
	t.Helper()
	l := testLogger()
	sim := iobus.NewSim515(0x300, testMAC, l)
	arena := NewArena(testArenaBase, 1<<18)
	sim.AttachMemory(arena)
	h := NewHandle(sim, 0x300, Variant515, NewDeviceMetrics(metrics.NewRegistry()), l)

	pool, ok := NewBouncePool(arena, 4, rxBufSize)
	require.True(t, ok)
	ring, err := NewRingEngine(h, arena, pool, 8, 8, onReceive)
	require.NoError(t, err)

	require.NoError(t, h.IssueCommand(cmdRxEnable, 0))
	require.NoError(t, h.IssueCommand(cmdTxEnable, 0))
	require.NoError(t, ring.Start())
	return sim, h, arena, pool, ring
}

func TestArenaAllocDMANeverViolates(t *testing.T) {
	a := NewArena(testArenaBase, 1<<18)
	// Awkward sizes so allocations land on and around segment boundaries.
	sizes := []int{1, 3, 64, 1514, 1536, 4096, 60000, 9, 1536, 1536}
	for round := 0; round < 3; round++ {
		for _, n := range sizes {
			b, ok := a.AllocDMA(n, 4)
			if !ok {
				return // arena exhausted, everything handed out was clean
			}
			assert.False(t, dmaViolates(b.Addr, len(b.Data)), "size %d at %#x", n, b.Addr)
			assert.Len(t, b.Data, n)
		}
	}
}

func TestSubmitTxDirect(t *testing.T) {
	sim, h, arena, _, ring := newTestRing(t, nil)

	buf, ok := arena.AllocDMA(64, 4)
	require.True(t, ok)
	copy(buf.Data, testPattern(64))

	ok, err := ring.SubmitTx(buf)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, sim.DMATransmitted, 1)
	assert.Equal(t, testPattern(64), sim.DMATransmitted[0])
	assert.Zero(t, h.metrics.BounceTx.Count())

	ring.ProcessCompletions()
	assert.Equal(t, int64(1), h.metrics.TxFramesOK.Count())
}

func TestSubmitTxBouncesViolatingBuffer(t *testing.T) {
	sim, h, arena, pool, ring := newTestRing(t, nil)

	// A buffer straddling a 64KB segment boundary cannot be handed to the
	// bus master directly.
	bad := arena.Slice(testArenaBase+0x10000-16, 64)
	require.True(t, dmaViolates(bad.Addr, len(bad.Data)))
	copy(bad.Data, testPattern(64))

	freeBefore := pool.Free()
	ok, err := ring.SubmitTx(bad)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(1), h.metrics.BounceTx.Count())
	require.Len(t, sim.DMATransmitted, 1)
	// Delivered bytes are identical to the caller's buffer.
	assert.Equal(t, testPattern(64), sim.DMATransmitted[0])

	ring.ProcessCompletions()
	assert.Equal(t, freeBefore, pool.Free(), "bounce buffer not recycled")
}

func TestSubmitTxRingFull(t *testing.T) {
	_, h, arena, _, ring := newTestRing(t, nil)

	buf, ok := arena.AllocDMA(64, 4)
	require.True(t, ok)

	for i := 0; i < 8; i++ {
		ok, err := ring.SubmitTx(buf)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Completions latched but not yet processed: the ninth submission is
	// backpressure, not an error.
	ok, err := ring.SubmitTx(buf)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), h.metrics.TxBackpressure.Count())

	ring.ProcessCompletions()
	assert.Equal(t, int64(8), h.metrics.TxFramesOK.Count())

	ok, err = ring.SubmitTx(buf)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRxDMADelivery(t *testing.T) {
	var got [][]byte
	sim, h, _, _, ring := newTestRing(t, func(p []byte) { got = append(got, p) })

	frame := testPattern(128)
	sim.InjectDMAFrame(frame)
	ring.ProcessCompletions()

	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, int64(1), h.metrics.RxFramesOK.Count())
	assert.Equal(t, int64(128), h.metrics.RxBytes.Count())
}

func TestRxDMAErrorCounted(t *testing.T) {
	sim, h, _, _, ring := newTestRing(t, func([]byte) { t.Fatal("error frame must not be delivered") })

	sim.InjectDMAFrameError(100)
	ring.ProcessCompletions()

	assert.Equal(t, int64(1), h.metrics.DmaErrors.Count())
	assert.Zero(t, h.metrics.RxFramesOK.Count())
}

func TestRxRingWrapsAndRearms(t *testing.T) {
	var got [][]byte
	sim, _, _, _, ring := newTestRing(t, func(p []byte) { got = append(got, p) })

	// Twice around an 8-deep ring; every descriptor must recycle.
	for i := 0; i < 17; i++ {
		sim.InjectDMAFrame(testPattern(60 + i))
		ring.ProcessCompletions()
	}
	require.Len(t, got, 17)
	for i, p := range got {
		assert.Equal(t, testPattern(60+i), p)
	}
}

func TestRingReset(t *testing.T) {
	var got [][]byte
	sim, _, arena, pool, ring := newTestRing(t, func(p []byte) { got = append(got, p) })

	bad := arena.Slice(testArenaBase+0x20000-16, 64)
	ok, err := ring.SubmitTx(bad)
	require.NoError(t, err)
	require.True(t, ok)

	freeAfterSubmit := pool.Free()
	require.NoError(t, ring.Reset())
	// Reset hands outstanding bounce buffers back without a completion walk.
	assert.Equal(t, freeAfterSubmit+1, pool.Free())

	// Both directions work after the stall/rebase/unstall cycle.
	buf, allocOK := arena.AllocDMA(64, 4)
	require.True(t, allocOK)
	ok, err = ring.SubmitTx(buf)
	require.NoError(t, err)
	require.True(t, ok)

	sim.InjectDMAFrame(testPattern(90))
	ring.ProcessCompletions()
	require.Len(t, got, 1)
	assert.Equal(t, testPattern(90), got[0])
}

func TestBouncePoolExhaustionIsBackpressure(t *testing.T) {
	_, h, arena, pool, ring := newTestRing(t, nil)

	for pool.Free() > 0 {
		_, _, ok := pool.Get()
		require.True(t, ok)
	}

	bad := arena.Slice(testArenaBase+0x30000-8, 32)
	ok, err := ring.SubmitTx(bad)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), h.metrics.TxBackpressure.Count())
}
