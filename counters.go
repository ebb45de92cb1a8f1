package etherlink

import (
	"github.com/rcrowley/go-metrics"
)

// DeviceMetrics is the statistics sink for one adapter. Steady-state
// hardware faults are never surfaced as errors; they land here and nowhere
// else. Names line up with the hardware's window-6 statistics where one
// exists.
type DeviceMetrics struct {
	TxFramesOK metrics.Counter
	RxFramesOK metrics.Counter
	TxBytes    metrics.Counter
	RxBytes    metrics.Counter

	// Receive error classes, one per hardware error code.
	RxOverruns  metrics.Counter
	RxOversize  metrics.Counter
	RxDribble   metrics.Counter
	RxRunts     metrics.Counter
	RxFraming   metrics.Counter
	RxCRCErrors metrics.Counter

	TxUnderruns     metrics.Counter
	TxJabbers       metrics.Counter
	TxMaxCollisions metrics.Counter
	TxBackpressure  metrics.Counter

	SingleCollisions   metrics.Counter
	MultipleCollisions metrics.Counter
	LateCollisions     metrics.Counter
	Deferrals          metrics.Counter
	CarrierLost        metrics.Counter

	AdapterFailures  metrics.Counter
	HardwareTimeouts metrics.Counter
	Interrupts       metrics.Counter
	DeferredPolls    metrics.Counter

	BounceTx  metrics.Counter
	BounceRx  metrics.Counter
	RingDrops metrics.Counter
	DmaErrors metrics.Counter

	MediaTransitions metrics.Counter
	LinkUp           metrics.Gauge

	PatchFallbacks metrics.Counter
}

func NewDeviceMetrics(r metrics.Registry) *DeviceMetrics {
	c := func(name string) metrics.Counter {
		return metrics.GetOrRegisterCounter(name, r)
	}
	return &DeviceMetrics{
		TxFramesOK: c("tx.frames_ok"),
		RxFramesOK: c("rx.frames_ok"),
		TxBytes:    c("tx.bytes"),
		RxBytes:    c("rx.bytes"),

		RxOverruns:  c("rx.errors.overrun"),
		RxOversize:  c("rx.errors.oversize"),
		RxDribble:   c("rx.errors.dribble"),
		RxRunts:     c("rx.errors.runt"),
		RxFraming:   c("rx.errors.framing"),
		RxCRCErrors: c("rx.errors.crc"),

		TxUnderruns:     c("tx.errors.underrun"),
		TxJabbers:       c("tx.errors.jabber"),
		TxMaxCollisions: c("tx.errors.max_collisions"),
		TxBackpressure:  c("tx.backpressure"),

		SingleCollisions:   c("collisions.single"),
		MultipleCollisions: c("collisions.multiple"),
		LateCollisions:     c("collisions.late"),
		Deferrals:          c("tx.deferrals"),
		CarrierLost:        c("tx.carrier_lost"),

		AdapterFailures:  c("adapter.failures"),
		HardwareTimeouts: c("adapter.hw_timeouts"),
		Interrupts:       c("isr.interrupts"),
		DeferredPolls:    c("isr.deferred_polls"),

		BounceTx:  c("dma.bounce.tx"),
		BounceRx:  c("dma.bounce.rx"),
		RingDrops: c("dma.ring_drops"),
		DmaErrors: c("dma.desc_errors"),

		MediaTransitions: c("media.transitions"),
		LinkUp:           metrics.GetOrRegisterGauge("media.link_up", r),

		PatchFallbacks: c("patch.fallbacks"),
	}
}

// rxErrorCounter maps the 3-bit receive error code to its counter. The
// table is exhaustive over the hardware's six codes; codes outside them
// fall into the CRC bucket.
func (m *DeviceMetrics) rxErrorCounter(code uint8) metrics.Counter {
	switch code {
	case rxErrOverrun:
		return m.RxOverruns
	case rxErrOversize:
		return m.RxOversize
	case rxErrDribble:
		return m.RxDribble
	case rxErrRunt:
		return m.RxRunts
	case rxErrFraming:
		return m.RxFraming
	case rxErrCRC:
		return m.RxCRCErrors
	default:
		return m.RxCRCErrors
	}
}

// HarvestWindow6 folds the hardware's self-clearing window-6 counters into
// the registry. Called when the status register raises StatsFull and at
// shutdown.
func (h *Handle) HarvestWindow6() {
	h.SelectWindow(6)
	m := h.metrics
	m.CarrierLost.Inc(int64(h.bus.Inb(h.port(regStatsCarrierLost))))
	h.bus.Inb(h.port(regStatsSqeErrors))
	m.MultipleCollisions.Inc(int64(h.bus.Inb(h.port(regStatsMultiColl))))
	m.SingleCollisions.Inc(int64(h.bus.Inb(h.port(regStatsSingleColl))))
	m.LateCollisions.Inc(int64(h.bus.Inb(h.port(regStatsLateColl))))
	m.RxOverruns.Inc(int64(h.bus.Inb(h.port(regStatsRxOverruns))))
	h.bus.Inb(h.port(regStatsGoodTx))
	h.bus.Inb(h.port(regStatsGoodRx))
	m.Deferrals.Inc(int64(h.bus.Inb(h.port(regStatsTxDeferrals))))
	h.bus.Inw(h.port(regStatsRxOctetsLo))
	h.bus.Inw(h.port(regStatsTxOctetsLo))
	h.SelectWindow(1)
}
