package etherlink

// maxInterruptWork bounds the indications serviced in one interrupt. When
// the budget runs out with the latch still set, the remainder is left for
// the mainline poll rather than starving everything else at interrupt
// priority.
const maxInterruptWork = 20

// ISR services one adapter's interrupt line. It is registered with the bus
// as the interrupt handler and may preempt mainline code between any two
// port accesses, which is why it saves and restores the window selection
// around its own work.
type ISR struct {
	h    *Handle
	pio  *PIOEngine
	ring *RingEngine // nil on the PIO-only part

	deferred bool
}

func NewISR(h *Handle, pio *PIOEngine, ring *RingEngine) *ISR {
	return &ISR{h: h, pio: pio, ring: ring}
}

// InterruptMask is the set of indications the device is told to raise the
// line for. Everything else stays visible in the status register but stays
// silent.
func (s *ISR) InterruptMask() uint16 {
	mask := statusIntLatch | statusAdapterFailure | statusTxComplete |
		statusRxComplete | statusStatsFull
	if s.ring != nil {
		mask |= statusDownComplete | statusUpComplete
	}
	return mask
}

// Pending reports whether the last interrupt ran out of work budget and
// left indications unserviced. The owner clears it by calling
// ServiceInterrupt from mainline context.
func (s *ISR) Pending() bool { return s.deferred }

// ServiceInterrupt drains the interrupt latch: adapter failure first, then
// descriptor completions, then receive, then transmit status, each acked
// individually before the status register is re-read.
func (s *ISR) ServiceInterrupt() {
	h := s.h
	m := h.metrics
	m.Interrupts.Inc(1)
	s.deferred = false

	saved := h.window
	work := maxInterruptWork
	for {
		st := h.ReadStatus()
		if st&statusIntLatch == 0 {
			break
		}
		if work <= 0 {
			// Leave the latch set; the mainline poll finishes the job.
			s.deferred = true
			m.DeferredPolls.Inc(1)
			h.l.WithFields(h.fields()).Warn("Interrupt work budget exhausted, deferring to poll")
			break
		}
		work--

		if st&statusAdapterFailure != 0 {
			s.recoverAdapter()
			h.ackInterrupt(statusAdapterFailure)
			continue
		}
		if s.ring != nil && st&(statusDownComplete|statusUpComplete) != 0 {
			s.ring.ProcessCompletions()
			h.ackInterrupt(st & (statusDownComplete | statusUpComplete))
			continue
		}
		if st&statusRxComplete != 0 && s.pio != nil {
			s.pio.Receive()
			h.ackInterrupt(statusRxComplete)
			continue
		}
		if st&statusTxComplete != 0 && s.pio != nil {
			s.pio.ServiceTxStatus()
			h.ackInterrupt(statusTxComplete)
			continue
		}
		if st&statusStatsFull != 0 {
			h.HarvestWindow6()
			h.ackInterrupt(statusStatsFull)
			continue
		}
		// Nothing we service is set; drop the latch and stop.
		h.ackInterrupt(statusIntLatch | statusIntReq)
	}

	if saved != noWindow {
		h.SelectWindow(uint8(saved))
	}
}

// recoverAdapter handles the catastrophic-failure indication: both sides
// of the device are reset and re-enabled in place. The fault is counted,
// never propagated.
func (s *ISR) recoverAdapter() {
	h := s.h
	h.metrics.AdapterFailures.Inc(1)
	h.l.WithFields(h.fields()).Warn("Adapter failure, resetting host interface")
	_ = h.IssueCommand(cmdRxReset, 0)
	_ = h.IssueCommand(cmdTxReset, 0)
	if s.ring != nil {
		if err := s.ring.Reset(); err != nil {
			h.l.WithFields(h.fields()).WithError(err).Error("Ring reset after adapter failure")
			return
		}
	}
	if s.pio != nil {
		if err := s.pio.Enable(); err != nil {
			h.l.WithFields(h.fields()).WithError(err).Error("Re-enable after adapter failure")
		}
	}
}
