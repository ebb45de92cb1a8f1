package etherlink

import (
	"fmt"
)

// Receive error codes, the 3-bit field of the RX status word.
const (
	rxErrOverrun  uint8 = 0 // FIFO or DMA overrun
	rxErrOversize uint8 = 1
	rxErrDribble  uint8 = 2 // extra bits after the frame, not fatal on wire
	rxErrRunt     uint8 = 3
	rxErrFraming  uint8 = 4 // alignment
	rxErrCRC      uint8 = 5
)

type txQuirkAction uint8

const (
	txQuirkOK txQuirkAction = iota
	txQuirkIgnore
	txQuirkCountOnly
	txQuirkRecover
)

// txStatusQuirks records the observed status bytes of this exact controller
// family. The byte patterns encode vendor idiosyncrasies, not protocol; do
// not extend this table to other parts without evidence.
var txStatusQuirks = map[uint8]txQuirkAction{
	0x80: txQuirkOK,                  // clean completion
	0xC0: txQuirkOK,                  // completion with interrupt-requested echo
	0x82: txQuirkIgnore,              // status-overflow ghost, usually ignorable
	0x84: txQuirkRecover,             // status overflow wedged the FIFO
	0x88: txQuirkCountOnly,           // max collisions: frame lost, FIFO intact
	0x90: txQuirkRecover,             // underrun
	0xA0: txQuirkRecover,             // jabber
}

// PIOEngine moves frames through the FIFO data register one port access at
// a time, using whichever transfer variant the dispatcher installed.
type PIOEngine struct {
	h *Handle
	d *Dispatcher

	// txStartThreshold is the FIFO fill level at which the transmitter is
	// told to start; 0 leaves the device in store-and-forward.
	txStartThreshold uint16

	// onReceive takes ownership of each completed receive buffer.
	onReceive func([]byte)
}

func NewPIOEngine(h *Handle, d *Dispatcher, txStartThreshold uint16, onReceive func([]byte)) *PIOEngine {
	return &PIOEngine{h: h, d: d, txStartThreshold: txStartThreshold, onReceive: onReceive}
}

// Enable programs the receive filter and brings both directions up.
func (e *PIOEngine) Enable() error {
	h := e.h
	h.SelectWindow(1)
	if err := h.IssueCommand(cmdSetRxFilter, rxFilterStation|rxFilterBroadcast); err != nil {
		return err
	}
	if err := h.IssueCommand(cmdStatsEnable, 0); err != nil {
		return err
	}
	if err := h.IssueCommand(cmdRxEnable, 0); err != nil {
		return err
	}
	return h.IssueCommand(cmdTxEnable, 0)
}

// Transmit queues one frame. The boolean is false when the FIFO lacks room
// for the frame plus preamble overhead; that is backpressure, not failure,
// and the caller retries after the next transmit-complete. Frames shorter
// than the Ethernet minimum are padded on the wire.
func (e *PIOEngine) Transmit(p []byte) (bool, error) {
	if len(p) > maxFrameSize {
		return false, fmt.Errorf("frame of %d bytes exceeds device maximum %d", len(p), maxFrameSize)
	}
	h := e.h
	wire := len(p)
	if wire < minFrameSize {
		wire = minFrameSize
	}

	h.SelectWindow(1)
	free := int(h.bus.Inw(h.w1(regTxFree)))
	if free < wire+4 {
		h.metrics.TxBackpressure.Inc(1)
		return false, nil
	}

	fifo := h.w1(regTxFifo)
	h.bus.Outw(fifo, uint16(wire))
	h.bus.Outw(fifo, 0)
	e.d.Fill(fifo, p)
	// Pad to the wire minimum, then to the doubleword boundary the FIFO
	// interface requires.
	for i := len(p); i < wire; i++ {
		h.bus.Outb(fifo, 0)
	}
	for i := 0; i < (4-wire%4)%4; i++ {
		h.bus.Outb(fifo, 0)
	}

	if e.txStartThreshold > 0 && uint16(wire) >= e.txStartThreshold {
		h.bus.Outw(h.port(regCommand), makeCommand(cmdSetTxStart, e.txStartThreshold))
	}
	h.metrics.TxBytes.Inc(int64(len(p)))
	return true, nil
}

// ServiceTxStatus drains the transmit status stack after a transmit
// complete indication. Persistent faults are resolved with a reset-enable
// cycle here, never propagated per frame.
func (e *PIOEngine) ServiceTxStatus() {
	h := e.h
	h.SelectWindow(1)
	// The stack holds at most a handful of entries; the ceiling guards
	// against a wedged status register.
	for i := 0; i < 8; i++ {
		st := h.bus.Inb(h.w1(regTxStatus))
		if st&txStatComplete == 0 {
			return
		}
		e.classifyTxStatus(st)
		// Writing the register pops the stack entry.
		h.bus.Outb(h.w1(regTxStatus), 0)
	}
}

func (e *PIOEngine) classifyTxStatus(st uint8) {
	m := e.h.metrics
	action, known := txStatusQuirks[st]
	if !known {
		// Not in the observed table: decode the individual fault bits.
		action = txQuirkOK
		if st&(txStatUnderrun|txStatJabber) != 0 {
			action = txQuirkRecover
		} else if st&txStatMaxCollisions != 0 {
			action = txQuirkCountOnly
		}
	}

	switch {
	case st&txStatUnderrun != 0:
		m.TxUnderruns.Inc(1)
	case st&txStatJabber != 0:
		m.TxJabbers.Inc(1)
	case st&txStatMaxCollisions != 0:
		m.TxMaxCollisions.Inc(1)
	}

	switch action {
	case txQuirkOK:
		m.TxFramesOK.Inc(1)
	case txQuirkIgnore:
	case txQuirkCountOnly:
	case txQuirkRecover:
		e.recoverTransmitter()
	}
}

// recoverTransmitter is the reset-then-enable sequence for faults that
// leave the transmitter wedged.
func (e *PIOEngine) recoverTransmitter() {
	h := e.h
	h.l.WithFields(h.fields()).Debug("Transmitter fault, resetting")
	if err := h.IssueCommand(cmdTxReset, 0); err != nil {
		return
	}
	_ = h.IssueCommand(cmdTxEnable, 0)
}

// Receive handles one receive-complete indication: classify errors by the
// fixed code table and discard, or drain the frame through the installed
// dispatch variant and pass it up.
func (e *PIOEngine) Receive() {
	h := e.h
	h.SelectWindow(1)
	st := h.bus.Inw(h.w1(regRxStatus))
	if st&rxStatIncomplete != 0 {
		return
	}
	if st&rxStatError != 0 {
		code := uint8(st>>rxStatCodeShift) & uint8(rxStatCodeMask)
		h.metrics.rxErrorCounter(code).Inc(1)
		e.discardTop()
		return
	}

	n := int(st & rxStatLenMask)
	buf := make([]byte, n)
	e.d.Drain(h.w1(regRxFifo), buf)
	h.metrics.RxFramesOK.Inc(1)
	h.metrics.RxBytes.Inc(int64(n))
	e.discardTop()
	if e.onReceive != nil {
		e.onReceive(buf)
	}
}

// discardTop frees the FIFO slot of the frame just consumed.
func (e *PIOEngine) discardTop() {
	_ = e.h.IssueCommand(cmdRxDiscard, 0)
}
