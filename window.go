package etherlink

import "github.com/etherlink/etherlink/iobus"

// cmdBusyCeiling bounds the busy poll after a completing command. The
// documented worst case is low microseconds; at ~3us per ISA delay read
// this ceiling leaves well over two orders of magnitude of margin for a
// global reset settling.
const cmdBusyCeiling = 1000

// SelectWindow makes window w active. The write is elided when the cached
// window already matches; the cache is updated unconditionally so a stale
// cache can only cost an extra write, never a wrong one.
func (h *Handle) SelectWindow(w uint8) {
	if h.window == int8(w) {
		return
	}
	h.bus.Outw(h.port(regCommand), makeCommand(cmdSelectWindow, uint16(w)))
	h.window = int8(w)
}

// InvalidateWindow forgets the cached window, forcing the next select to
// hit the hardware. Used around sequences that cannot trust the cache.
func (h *Handle) InvalidateWindow() {
	h.window = noWindow
}

// ReadStatus is a single read of the always-accessible status register.
func (h *Handle) ReadStatus() uint16 {
	return h.bus.Inw(h.port(regCommand))
}

// completes reports whether an opcode belongs to the family that raises
// the command-in-progress bit until the device has finished it.
func completes(op opcode) bool {
	switch op {
	case cmdGlobalReset, cmdRxReset, cmdTxReset, cmdRxDiscard,
		cmdUpStall, cmdUpUnstall, cmdDownStall, cmdDownUnstall:
		return true
	}
	return false
}

// IssueCommand writes the composed command word and, for opcodes that
// signal completion, polls the busy bit up to the iteration ceiling.
// There is no scheduler to yield to; a loop that exhausts its ceiling
// reports ErrHardwareTimeout instead of hanging.
func (h *Handle) IssueCommand(op opcode, param uint16) error {
	h.bus.Outw(h.port(regCommand), makeCommand(op, param))
	if !completes(op) {
		return nil
	}
	for i := 0; i < cmdBusyCeiling; i++ {
		if h.ReadStatus()&statusCmdInProgress == 0 {
			return nil
		}
		h.bus.Delay(iobus.IODelayUS)
	}
	if h.metrics != nil {
		h.metrics.HardwareTimeouts.Inc(1)
	}
	h.l.WithFields(h.fields()).WithField("opcode", uint16(op)>>11).Warn("Command busy bit never cleared")
	return ErrHardwareTimeout
}

// ackInterrupt acknowledges the given latched status bits.
func (h *Handle) ackInterrupt(bits uint16) {
	h.bus.Outw(h.port(regCommand), makeCommand(cmdAckIntr, bits&cmdParamMask))
}
