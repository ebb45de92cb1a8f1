package etherlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etherlink/etherlink/iobus"
)

func newTestISR(t *testing.T, onReceive func([]byte)) (*iobus.Sim509, *Handle, *ISR) {
	t.Helper()
	sim, h, e := newTestPIO(t, onReceive)
	isr := NewISR(h, e, nil)
	sim.SetInterruptHandler(isr.ServiceInterrupt)
	require.NoError(t, h.IssueCommand(cmdSetIntrEnable, isr.InterruptMask()&cmdParamMask))
	return sim, h, isr
}

func TestInterruptDeliversReceive(t *testing.T) {
	var got [][]byte
	sim, h, _ := newTestISR(t, func(p []byte) { got = append(got, p) })

	frame := testPattern(64)
	sim.InjectFrame(frame)

	// The interrupt ran synchronously out of the injection; nothing else
	// to call.
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, int64(1), h.metrics.Interrupts.Count())
	assert.Zero(t, h.ReadStatus()&statusIntLatch, "latch must be acknowledged")
}

func TestInterruptServicesTxInsideTransmit(t *testing.T) {
	sim, h, _ := newTestISR(t, nil)

	e := NewPIOEngine(h, newInstalledDispatcher(t, sim, h), 0, nil)
	ok, err := e.Transmit(testPattern(64))
	require.NoError(t, err)
	require.True(t, ok)

	// Transmit completion latched mid-write and preempted the mainline
	// port sequence; by the time Transmit returns the status is serviced.
	assert.Equal(t, int64(1), h.metrics.TxFramesOK.Count())
	assert.Zero(t, h.ReadStatus()&statusIntLatch)
}

func TestStatsFullHarvestFoldsCounters(t *testing.T) {
	sim, h, _ := newTestISR(t, nil)

	// Filling an 8-bit hardware counter raises the statistics-full
	// indication; the handler folds window 6 into the registry, which
	// clears the hardware side and drops the latch.
	sim.InjectCollisions(210)

	assert.Equal(t, int64(210), h.metrics.SingleCollisions.Count())
	assert.Zero(t, h.ReadStatus()&statusIntLatch)

	// Harvested counters accumulate instead of double counting.
	sim.InjectCollisions(205)
	assert.Equal(t, int64(415), h.metrics.SingleCollisions.Count())
	assert.Zero(t, h.ReadStatus()&statusIntLatch)
}

func newInstalledDispatcher(t *testing.T, bus iobus.Bus, h *Handle) *Dispatcher {
	t.Helper()
	d := NewDispatcher(bus, h.metrics, testLogger())
	require.NoError(t, d.Install(TierWord))
	return d
}

func TestInterruptPreservesMainlineWindow(t *testing.T) {
	sim, h, _ := newTestISR(t, nil)

	h.SelectWindow(0)
	sim.InjectFrame(testPattern(64))

	// The handler worked in window 1; mainline must get its window back.
	assert.Equal(t, int8(0), h.window)
	// The EEPROM data register only answers in window 0.
	h.bus.Outw(h.port(regEepromCmd), eepromRead|eepromWordMfgID)
	h.bus.Delay(200)
	assert.Equal(t, mfgID3Com, h.bus.Inw(h.port(regEepromData)))
}

func TestInterruptAdapterFailureRecovery(t *testing.T) {
	sim, h, _ := newTestISR(t, nil)

	sim.InjectAdapterFailure()

	assert.Equal(t, int64(1), h.metrics.AdapterFailures.Count())
	assert.Zero(t, h.ReadStatus()&statusAdapterFailure)

	// The receiver came back by itself: the next frame still flows.
	sim.InjectFrame(testPattern(64))
	assert.Equal(t, int64(1), h.metrics.RxFramesOK.Count())
	assert.Zero(t, h.ReadStatus()&statusIntLatch)
}

func TestInterruptWorkBudgetDefers(t *testing.T) {
	var got int
	sim, h, _ := newTestISR(t, func([]byte) { got++ })

	// Queue more indications than one interrupt may service. Each discard
	// re-latches while the line is held, so the backlog drains through
	// deferred rounds rather than one unbounded handler.
	count := maxInterruptWork + 5
	restore := sim.MaskInterrupts()
	for i := 0; i < count; i++ {
		sim.InjectFrame(testPattern(60))
	}
	restore()

	assert.Equal(t, count, got)
	assert.GreaterOrEqual(t, h.metrics.DeferredPolls.Count(), int64(1))
	assert.Equal(t, int64(count), h.metrics.RxFramesOK.Count())
}
