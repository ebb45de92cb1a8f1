package iobus

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// Sim515 models the 3c515 Corkscrew: the 3c509B command protocol plus
// bus-master descriptor DMA, a 32-port extent with window-1 registers moved
// up to 0x10, full-window list-pointer registers at 0x400..0x41F, and an
// MII PHY reached by bit-banging the window-4 physical management register.
//
// Descriptors are read from and written to attached host memory by physical
// address only, 16 bytes each: next, status, buffer address, length+flags.
type Sim515 struct {
	*Sim509

	mem Memory

	downListPtr uint32
	upListPtr   uint32
	upPtr       uint32
	downStalled bool
	upStalled   bool

	macCtrl        uint16
	internalConfig uint32

	// MDIO slave state.
	HasMII      bool
	phy         [32]uint16
	phyAddr     uint8
	anReadsLeft int
	mdioPrev    uint16
	mdioShift   uint32
	mdioOut     []uint8
	mdioPresent uint8

	pendingRx []simRxFrame

	// DMATransmitted collects frames the down engine pulled out of host
	// memory, separate from the PIO Transmitted slice.
	DMATransmitted [][]byte
}

const (
	sim515DescComplete = 0x00008000
	sim515DescError    = 0x00004000
	sim515DescLast     = 0x00002000
	sim515DescFirst    = 0x00001000
	sim515LenMask      = 0x00001FFF

	sim515DownListPtr = 0x404
	sim515UpListPtr   = 0x418

	sim515Fifo     = 0x10
	sim515RxStatus = 0x18
	sim515TxStatus = 0x1B
	sim515TxFree   = 0x1C

	sim515W3MacCtrl    = 0x06
	sim515MacCtrlFD    = 0x0020
	sim515PhyAddrFixed = 24
)

func NewSim515(base uint16, mac [6]byte, l *logrus.Logger) *Sim515 {
	s := &Sim515{Sim509: NewSim509(base, mac, l), HasMII: true}
	s.eeprom = simEepromLayout(mac, 0x5051)
	s.phyAddr = sim515PhyAddrFixed
	s.phy[0] = 0x1000          // autoneg enabled
	s.phy[1] = 0x7809          // capabilities, autoneg capable, no link yet
	s.phy[2] = 0x0280          // PHY id
	s.phy[4] = 0x01E1          // our advertised abilities
	s.phy[5] = 0x01E1          // link partner: everything up to 100TX-FD
	return s
}

// AttachMemory gives the bus master its view of host physical memory.
func (s *Sim515) AttachMemory(m Memory) { s.mem = m }

// SetLinkPartner sets the ANLPAR value the PHY reports after negotiation.
func (s *Sim515) SetLinkPartner(v uint16) { s.phy[5] = v }

func (s *Sim515) off(port uint16) (uint16, bool) {
	if port >= s.Base && port < s.Base+32 {
		return port - s.Base, true
	}
	if port >= s.Base+0x400 && port < s.Base+0x420 {
		return port - s.Base, true
	}
	return 0, false
}

func (s *Sim515) Outw(port uint16, v uint16) {
	off, ok := s.off(port)
	if !ok {
		return
	}
	switch {
	case off == simCmdPort:
		if s.command515(v) {
			return
		}
		s.Sim509.command(v)
	case off >= sim515Fifo && off <= sim515Fifo+3 && s.window == 1:
		s.fifoWrite([]byte{byte(v), byte(v >> 8)})
	case s.window == 0 && off == simEepromCmd:
		if v&simEepromRead != 0 {
			s.eepromAddr = uint8(v & 0x3F)
			s.eepromBusyUS = 200
		}
	case s.window == 3 && off == sim515W3MacCtrl:
		s.macCtrl = v
	case s.window == 4 && off == simPhysMgmt:
		s.mdioWrite(v)
	case s.window == 4 && off == simMediaCtrl:
		s.mediaCtrl = v
	}
}

func (s *Sim515) Outl(port uint16, v uint32) {
	off, ok := s.off(port)
	if !ok {
		return
	}
	switch off {
	case sim515DownListPtr:
		s.downListPtr = v
		if !s.downStalled {
			s.runDown()
		}
	case sim515UpListPtr:
		s.upListPtr = v
		s.upPtr = v
	default:
		if off >= sim515Fifo && off <= sim515Fifo+3 && s.window == 1 {
			s.fifoWrite([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
		}
	}
}

func (s *Sim515) Outb(port uint16, v uint8) {
	off, ok := s.off(port)
	if !ok {
		return
	}
	switch {
	case off >= sim515Fifo && off <= sim515Fifo+3 && s.window == 1:
		s.fifoWrite([]byte{v})
	case off == sim515TxStatus && s.window == 1:
		if len(s.txStatus) > 0 {
			s.txStatus = s.txStatus[1:]
		}
	case s.window == 2 && off < 6:
		s.station[off] = v
	}
}

func (s *Sim515) Inb(port uint16) uint8 {
	off, ok := s.off(port)
	if !ok {
		return 0xFF
	}
	switch {
	case off >= sim515Fifo && off <= sim515Fifo+3 && s.window == 1:
		var b [1]byte
		s.fifoRead(b[:])
		return b[0]
	case off == sim515TxStatus && s.window == 1:
		if len(s.txStatus) == 0 {
			return 0
		}
		return s.txStatus[0]
	case s.window == 2 && off < 6:
		return s.station[off]
	}
	return s.Sim509.Inb(port)
}

func (s *Sim515) Inw(port uint16) uint16 {
	off, ok := s.off(port)
	if !ok {
		return 0xFFFF
	}
	switch {
	case off == simCmdPort:
		return s.readStatus()
	case s.window == 1 && off == sim515Fifo:
		var b [2]byte
		s.fifoRead(b[:])
		return uint16(b[0]) | uint16(b[1])<<8
	case s.window == 1 && off == sim515RxStatus:
		return s.rxStatusWord()
	case s.window == 1 && off == sim515TxFree:
		return uint16(s.txFree)
	case s.window == 3 && off == sim515W3MacCtrl:
		return s.macCtrl
	case s.window == 4 && off == simPhysMgmt:
		return uint16(s.mdioPresent) << 1
	}
	return s.Sim509.Inw(port)
}

func (s *Sim515) Inl(port uint16) uint32 {
	off, ok := s.off(port)
	if !ok {
		return 0xFFFFFFFF
	}
	switch off {
	case sim515DownListPtr:
		return s.downListPtr
	case sim515UpListPtr:
		return s.upPtr
	}
	return s.Sim509.Inl(port)
}

// command515 handles the opcodes the 3c509B does not have. Returns true if
// the command was consumed.
func (s *Sim515) command515(v uint16) bool {
	if v&0xF800 != simOpUpDownCtl {
		return false
	}
	switch v & 0x07FF {
	case 0:
		s.upStalled = true
	case 1:
		s.upStalled = false
		s.flushPendingRx()
	case 2:
		s.downStalled = true
	case 3:
		s.downStalled = false
		s.runDown()
	}
	s.cmdBusyReads = 1
	return true
}

func (s *Sim515) readDesc(addr uint32) (next, status, buf, length uint32) {
	var d [16]byte
	s.mem.ReadPhys(addr, d[:])
	next = binary.LittleEndian.Uint32(d[0:])
	status = binary.LittleEndian.Uint32(d[4:])
	buf = binary.LittleEndian.Uint32(d[8:])
	length = binary.LittleEndian.Uint32(d[12:])
	return
}

func (s *Sim515) writeDescStatus(addr uint32, status uint32) {
	var d [4]byte
	binary.LittleEndian.PutUint32(d[:], status)
	s.mem.WritePhys(addr+4, d[:])
}

// runDown walks the transmit list until the terminating null pointer,
// pulling each buffer out of host memory.
func (s *Sim515) runDown() {
	if s.mem == nil || s.downListPtr == 0 {
		return
	}
	addr := s.downListPtr
	for addr != 0 {
		next, status, buf, length := s.readDesc(addr)
		if status&sim515DescComplete != 0 {
			addr = next
			continue
		}
		n := length & sim515LenMask
		p := make([]byte, n)
		s.mem.ReadPhys(buf, p)
		if s.txEnabled {
			s.DMATransmitted = append(s.DMATransmitted, p)
			if s.statsOn {
				s.goodTx++
				s.maybeStatsFull()
			}
		}
		s.writeDescStatus(addr, status|sim515DescComplete)
		addr = next
	}
	s.downListPtr = 0
	s.latch(simStDownDone)
}

func (s *Sim515) flushPendingRx() {
	q := s.pendingRx
	s.pendingRx = nil
	for _, f := range q {
		s.deliverUp(f)
	}
}

// InjectDMAFrame presents a received frame to the upload engine.
func (s *Sim515) InjectDMAFrame(p []byte) {
	s.injectUp(simRxFrame{data: append([]byte(nil), p...)})
}

// InjectDMAFrameError presents a damaged frame; only the error bit survives
// into the descriptor.
func (s *Sim515) InjectDMAFrameError(length int) {
	s.injectUp(simRxFrame{data: make([]byte, length), hasErr: true})
}

func (s *Sim515) injectUp(f simRxFrame) {
	if s.upStalled || !s.rxEnabled {
		s.pendingRx = append(s.pendingRx, f)
		return
	}
	s.deliverUp(f)
}

func (s *Sim515) deliverUp(f simRxFrame) {
	if s.mem == nil || s.upPtr == 0 {
		return
	}
	next, status, buf, length := s.readDesc(s.upPtr)
	if status&sim515DescComplete != 0 {
		// Ring full; hardware would count an overrun.
		s.rxOverruns++
		s.maybeStatsFull()
		return
	}
	n := uint32(len(f.data))
	if room := length & sim515LenMask; n > room {
		n = room
	}
	s.mem.WritePhys(buf, f.data[:n])
	st := uint32(sim515DescComplete) | n
	if f.hasErr {
		st |= sim515DescError
	}
	s.writeDescStatus(s.upPtr, st)
	if s.statsOn && !f.hasErr {
		s.goodRx++
		s.maybeStatsFull()
	}
	if next != 0 {
		s.upPtr = next
	} else {
		s.upPtr = s.upListPtr
	}
	s.latch(simStUpDone)
}

// mdioWrite is the PHY side of the management interface. Bits are sampled
// on the rising clock edge while the direction bit points outward; read
// data is presented on rising edges while the line is released.
func (s *Sim515) mdioWrite(v uint16) {
	rising := s.mdioPrev&simMdioClk == 0 && v&simMdioClk != 0
	s.mdioPrev = v
	if !rising || !s.HasMII {
		return
	}
	if v&simMdioDirOut != 0 {
		bit := uint32(0)
		if v&simMdioData != 0 {
			bit = 1
		}
		s.mdioShift = s.mdioShift<<1 | bit
		s.matchMdioFrame()
		return
	}
	// Released line: shift out the armed response, idle high afterward.
	if len(s.mdioOut) > 0 {
		s.mdioPresent = s.mdioOut[0]
		s.mdioOut = s.mdioOut[1:]
	} else {
		s.mdioPresent = 1
	}
}

func (s *Sim515) matchMdioFrame() {
	// Write frame first: start 01, opcode 01, phy, reg, turnaround 10,
	// 16 data bits; 32 bits in all. The preamble is all ones so the start
	// bit keeps either pattern from matching early.
	if s.mdioShift&0xF0000000 == 0x50000000 {
		phy := uint8(s.mdioShift >> 23 & 0x1F)
		reg := uint8(s.mdioShift >> 18 & 0x1F)
		if s.mdioShift>>16&0x3 == 0b10 && phy == s.phyAddr {
			s.phyWriteReg(reg, uint16(s.mdioShift&0xFFFF))
			s.mdioShift = 0
			s.mdioOut = nil
			return
		}
	}
	// The master is still driving the line, so any armed response from a
	// coincidental earlier match is stale.
	s.mdioOut = nil
	// Read frame: start 01, opcode 10, phy, reg; 14 bits, answered after
	// the master releases the line.
	if s.mdioShift&0x3C00 == 0x1800 {
		phy := uint8(s.mdioShift >> 5 & 0x1F)
		reg := uint8(s.mdioShift & 0x1F)
		if phy == s.phyAddr {
			val := s.phyRead(reg)
			out := make([]uint8, 0, 17)
			out = append(out, 0) // turnaround ack
			for i := 15; i >= 0; i-- {
				out = append(out, uint8(val>>i&1))
			}
			s.mdioOut = out
			s.mdioShift = 0
		}
	}
}

func (s *Sim515) phyRead(reg uint8) uint16 {
	v := s.phy[reg&0x1F]
	if reg == 1 && s.anReadsLeft > 0 {
		s.anReadsLeft--
		if s.anReadsLeft == 0 {
			s.phy[1] |= 0x0024 // autoneg complete, link up
		}
	}
	return v
}

func (s *Sim515) phyWriteReg(reg uint8, v uint16) {
	s.phy[reg&0x1F] = v
	if reg == 0 && v&0x0200 != 0 { // restart autonegotiation
		s.phy[0] &^= 0x0200
		s.phy[1] &^= 0x0024
		s.anReadsLeft = 3
	}
}
