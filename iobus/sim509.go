package iobus

import (
	"github.com/sirupsen/logrus"
)

type simRxFrame struct {
	data    []byte
	errCode uint8
	hasErr  bool
}

// Sim509 is a register-accurate model of the 3c509B: 16 ports, 8 windows,
// programmed I/O FIFOs, EEPROM behind the window-0 command/data pair.
// Interrupts are delivered synchronously from inside the port access that
// latches them, so driver code sees the same preemption points it would on
// hardware.
type Sim509 struct {
	Base uint16

	irq    irqLine
	window uint8

	status       uint16
	intrEnable   uint16
	statusEnable uint16
	cmdBusyReads int

	eeprom       [64]uint16
	eepromAddr   uint8
	eepromBusyUS int

	rxEnabled bool
	txEnabled bool
	rxFilter  uint16

	station   [6]byte
	mediaCtrl uint16
	coaxOn    bool

	txPhase  int // 0 len word, 1 pad word, 2 payload, 3 trailing pad
	txLen    int
	txBuf    []byte
	txPad    int
	txFree   int
	txStatus []byte

	rxQueue []simRxFrame
	rxRead  int

	goodTx, goodRx    uint8
	singleColl        uint8
	txDeferrals       uint8
	rxOverruns        uint8
	statsOn           bool

	// Test knobs.
	LinkBeat           bool
	ForceTxStatus      byte // delivered for the next completed frame, then cleared
	EepromStuck        bool // busy bit never clears
	CmdStuck           bool // command busy never clears
	Transmitted        [][]byte
	WindowSelectWrites int
	VirtualUS          int64

	l *logrus.Logger
}

const sim509TxFifoSize = 2048

// simStatsFullMark is the fill level at which the 8-bit statistics
// counters raise StatsFull, leaving headroom before they wrap.
const simStatsFullMark = 200

func NewSim509(base uint16, mac [6]byte, l *logrus.Logger) *Sim509 {
	s := &Sim509{Base: base, l: l}
	s.eeprom = simEepromLayout(mac, 0x5090)
	s.reset()
	return s
}

func (s *Sim509) reset() {
	s.window = 0
	s.status = 0
	s.intrEnable = 0
	s.rxEnabled = false
	s.txEnabled = false
	s.coaxOn = false
	s.txPhase = 0
	s.txPad = 0
	s.txBuf = nil
	s.txFree = sim509TxFifoSize
	s.txStatus = nil
	s.rxQueue = nil
	s.rxRead = 0
}

func (s *Sim509) SetInterruptHandler(h func()) { s.irq.setHandler(h) }
func (s *Sim509) MaskInterrupts() func()       { return s.irq.mask() }

func (s *Sim509) Delay(us int) {
	s.VirtualUS += int64(us)
	if s.eepromBusyUS > 0 && !s.EepromStuck {
		s.eepromBusyUS -= us
	}
}

// latch sets a status bit and asserts the IRQ line if that event is enabled.
func (s *Sim509) latch(bit uint16) {
	s.status |= bit | simStIntLatch
	if s.intrEnable&bit != 0 {
		s.status |= simStIntReq
		s.irq.fire()
	}
}

// statsNearFull reports whether any 8-bit statistics counter is close
// enough to wrapping that the block wants a harvest.
func (s *Sim509) statsNearFull() bool {
	if !s.statsOn {
		return false
	}
	return s.goodTx >= simStatsFullMark || s.goodRx >= simStatsFullMark ||
		s.singleColl >= simStatsFullMark || s.rxOverruns >= simStatsFullMark ||
		s.txDeferrals >= simStatsFullMark
}

// maybeStatsFull raises the statistics-full indication once a counter
// nears saturation. Called after every counter increment.
func (s *Sim509) maybeStatsFull() {
	if s.statsNearFull() {
		s.latch(simStStatsFull)
	}
}

// InjectCollisions records n transmissions that each suffered a single
// collision, as the wire would report them.
func (s *Sim509) InjectCollisions(n int) {
	s.singleColl += uint8(n)
	s.maybeStatsFull()
}

// InjectFrame queues a good frame on the receive FIFO.
func (s *Sim509) InjectFrame(p []byte) {
	s.rxQueue = append(s.rxQueue, simRxFrame{data: append([]byte(nil), p...)})
	if s.rxEnabled {
		s.latch(simStRxComplete)
	}
}

// InjectFrameError queues a frame carrying the given 3-bit receive error code.
func (s *Sim509) InjectFrameError(code uint8, length int) {
	s.rxQueue = append(s.rxQueue, simRxFrame{data: make([]byte, length), errCode: code & 7, hasErr: true})
	if s.rxEnabled {
		s.latch(simStRxComplete)
	}
}

// InjectAdapterFailure latches the adapter-failure status bit.
func (s *Sim509) InjectAdapterFailure() { s.latch(simStAdapterFail) }

// SetTxFree pins the free-FIFO-space register, for backpressure tests.
func (s *Sim509) SetTxFree(n int) { s.txFree = n }

func (s *Sim509) off(port uint16) (uint16, bool) {
	if port < s.Base || port >= s.Base+16 {
		return 0, false
	}
	return port - s.Base, true
}

func (s *Sim509) Outb(port uint16, v uint8) {
	off, ok := s.off(port)
	if !ok {
		return
	}
	switch {
	case off <= 0x03 && s.window == 1:
		s.fifoWrite([]byte{v})
	case off == simTxStatusR && s.window == 1:
		// Writing TX status pops the completion stack.
		if len(s.txStatus) > 0 {
			s.txStatus = s.txStatus[1:]
		}
	case s.window == 2 && off < 6:
		s.station[off] = v
	}
}

func (s *Sim509) Outw(port uint16, v uint16) {
	off, ok := s.off(port)
	if !ok {
		return
	}
	if off == simCmdPort {
		s.command(v)
		return
	}
	switch {
	case off <= 0x03 && s.window == 1:
		s.fifoWrite([]byte{byte(v), byte(v >> 8)})
	case s.window == 0 && off == simEepromCmd:
		if v&simEepromRead != 0 {
			s.eepromAddr = uint8(v & 0x3F)
			s.eepromBusyUS = 162
		}
	case s.window == 4 && off == simMediaCtrl:
		s.mediaCtrl = v
	}
}

func (s *Sim509) Outl(port uint16, v uint32) {
	off, ok := s.off(port)
	if !ok {
		return
	}
	if off <= 0x03 && s.window == 1 {
		s.fifoWrite([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
}

func (s *Sim509) Inb(port uint16) uint8 {
	off, ok := s.off(port)
	if !ok {
		return 0xFF
	}
	switch {
	case off <= 0x03 && s.window == 1:
		var b [1]byte
		s.fifoRead(b[:])
		return b[0]
	case off == simTxStatusR && s.window == 1:
		if len(s.txStatus) == 0 {
			return 0
		}
		return s.txStatus[0]
	case s.window == 2 && off < 6:
		return s.station[off]
	case s.window == 6:
		return s.statsRead(off)
	}
	return 0xFF
}

func (s *Sim509) Inw(port uint16) uint16 {
	off, ok := s.off(port)
	if !ok {
		return 0xFFFF
	}
	if off == simCmdPort {
		return s.readStatus()
	}
	switch s.window {
	case 0:
		switch off {
		case simEepromCmd:
			if s.eepromBusyUS > 0 || s.EepromStuck {
				return 0x8000
			}
			return 0
		case simEepromData:
			if s.eepromBusyUS > 0 || s.EepromStuck {
				return 0xFFFF
			}
			return s.eeprom[s.eepromAddr]
		}
	case 1:
		switch off {
		case simFifo:
			var b [2]byte
			s.fifoRead(b[:])
			return uint16(b[0]) | uint16(b[1])<<8
		case simRxStatus:
			return s.rxStatusWord()
		case simTxFree:
			return uint16(s.txFree)
		}
	case 4:
		switch off {
		case simMediaCtrl:
			v := s.mediaCtrl
			if s.LinkBeat && s.mediaCtrl&simMediaLinkBeatEnable != 0 {
				v |= simMediaLinkDetect
			}
			return v
		case simNetDiag:
			return 0x0800 // upper bytes test OK
		}
	case 6:
		return uint16(s.statsRead(off))
	}
	return 0xFFFF
}

func (s *Sim509) Inl(port uint16) uint32 {
	off, ok := s.off(port)
	if !ok {
		return 0xFFFFFFFF
	}
	if off <= 0x03 && s.window == 1 {
		var b [4]byte
		s.fifoRead(b[:])
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	return 0xFFFFFFFF
}

func (s *Sim509) readStatus() uint16 {
	v := s.status
	if s.CmdStuck {
		return v | simStCmdBusy
	}
	if s.cmdBusyReads > 0 {
		s.cmdBusyReads--
		return v | simStCmdBusy
	}
	return v
}

func (s *Sim509) command(v uint16) {
	op := v & 0xF800
	param := v & 0x07FF
	switch op {
	case simOpReset:
		s.reset()
		s.cmdBusyReads = 2
	case simOpSelectWindow:
		s.window = uint8(param & 7)
		s.WindowSelectWrites++
	case simOpStartCoax:
		s.coaxOn = true
	case simOpStopCoax:
		s.coaxOn = false
	case simOpRxEnable:
		s.rxEnabled = true
		if len(s.rxQueue) > 0 {
			s.latch(simStRxComplete)
		}
	case simOpRxDisable:
		s.rxEnabled = false
	case simOpRxReset:
		s.rxQueue = nil
		s.rxRead = 0
		s.status &^= simStRxComplete
		s.cmdBusyReads = 2
	case simOpTxEnable:
		s.txEnabled = true
	case simOpTxDisable:
		s.txEnabled = false
	case simOpTxReset:
		s.txPhase = 0
		s.txPad = 0
		s.txBuf = nil
		s.txStatus = nil
		s.txFree = sim509TxFifoSize
		s.status &^= simStTxComplete
		s.cmdBusyReads = 2
	case simOpRxDiscard:
		if len(s.rxQueue) > 0 {
			if !s.rxQueue[0].hasErr && s.statsOn {
				s.goodRx++
				s.maybeStatsFull()
			}
			s.rxQueue = s.rxQueue[1:]
			s.rxRead = 0
		}
		s.cmdBusyReads = 1
		if len(s.rxQueue) == 0 {
			s.status &^= simStRxComplete
		} else {
			s.latch(simStRxComplete)
		}
	case simOpAckIntr:
		s.status &^= param
		// Completion indications are level signals: they reassert through
		// an acknowledge while unserviced work remains.
		if s.rxEnabled && len(s.rxQueue) > 0 {
			s.status |= simStRxComplete
		}
		if len(s.txStatus) > 0 {
			s.status |= simStTxComplete
		}
		if s.statsNearFull() {
			s.status |= simStStatsFull
		}
		if s.status&(simStAdapterFail|simStTxComplete|simStRxComplete|simStStatsFull) == 0 {
			s.status &^= simStIntLatch | simStIntReq
		}
	case simOpSetIntrEnable:
		s.intrEnable = param
	case simOpSetStatusEnb:
		s.statusEnable = param
	case simOpSetRxFilter:
		s.rxFilter = param
	case simOpReqIntr:
		s.latch(simStIntReq)
	case simOpStatsEnable:
		s.statsOn = true
	case simOpStatsDisable:
		s.statsOn = false
	case simOpSetRxEarly, simOpSetTxAvail, simOpSetTxStart:
		// Thresholds are accepted and have no observable effect in the model.
	}
}

func (s *Sim509) fifoWrite(p []byte) {
	for _, b := range p {
		switch s.txPhase {
		case 0:
			s.txLen = int(b)
			s.txPhase = 1
		case 1:
			s.txLen |= int(b) << 8
			s.txPhase = 2
			s.txBuf = s.txBuf[:0]
			if s.txLen == 0 {
				s.txPhase = 0
			}
		case 2:
			// The pad word after the length is part of the preamble.
			if s.txPad < 2 {
				s.txPad++
				continue
			}
			s.txBuf = append(s.txBuf, b)
			s.txFree--
			if len(s.txBuf) == s.txLen {
				s.txComplete()
			}
		case 3:
			// Doubleword alignment padding after the payload.
			s.txPad--
			if s.txPad == 0 {
				s.txPhase = 0
			}
		}
	}
}

func (s *Sim509) txComplete() {
	s.txPad = (4 - (s.txLen % 4)) % 4
	if s.txPad > 0 {
		s.txPhase = 3
	} else {
		s.txPhase = 0
	}
	s.txFree = sim509TxFifoSize
	st := byte(simTxStComplete)
	if s.ForceTxStatus != 0 {
		st = s.ForceTxStatus
		s.ForceTxStatus = 0
	} else {
		if s.txEnabled {
			s.Transmitted = append(s.Transmitted, append([]byte(nil), s.txBuf...))
		}
		if s.statsOn {
			s.goodTx++
			s.maybeStatsFull()
		}
	}
	s.txStatus = append(s.txStatus, st)
	s.txBuf = nil
	s.latch(simStTxComplete)
}

func (s *Sim509) rxStatusWord() uint16 {
	if len(s.rxQueue) == 0 {
		return simRxIncomplete
	}
	f := s.rxQueue[0]
	if f.hasErr {
		return simRxError | uint16(f.errCode)<<11
	}
	return uint16(len(f.data)) & simRxLenMask
}

func (s *Sim509) fifoRead(p []byte) {
	for i := range p {
		p[i] = 0
	}
	if len(s.rxQueue) == 0 {
		return
	}
	f := s.rxQueue[0]
	for i := range p {
		if s.rxRead < len(f.data) {
			p[i] = f.data[s.rxRead]
			s.rxRead++
		}
	}
}

func (s *Sim509) statsRead(off uint16) uint8 {
	var v uint8
	switch off {
	case 0x03:
		v, s.singleColl = s.singleColl, 0
	case 0x05:
		v, s.rxOverruns = s.rxOverruns, 0
	case 0x06:
		v, s.goodTx = s.goodTx, 0
	case 0x07:
		v, s.goodRx = s.goodRx, 0
	case 0x08:
		v, s.txDeferrals = s.txDeferrals, 0
	}
	return v
}
