package etherlink

// Bit-banged MII management interface, window 4. The clock and data lines
// live in the physical management register; the PHY samples outbound bits
// on the rising clock edge and presents inbound bits on rising edges while
// the direction bit releases the line.

func (h *Handle) mdioClockOut(bit uint16) {
	v := mdioDirWrite | (bit&1)<<1
	h.bus.Outw(h.port(regPhysMgmt), v)
	h.bus.Delay(1)
	h.bus.Outw(h.port(regPhysMgmt), v|mdioShiftClk)
	h.bus.Delay(1)
}

func (h *Handle) mdioClockIn() uint16 {
	h.bus.Outw(h.port(regPhysMgmt), 0)
	h.bus.Delay(1)
	h.bus.Outw(h.port(regPhysMgmt), mdioShiftClk)
	h.bus.Delay(1)
	return h.bus.Inw(h.port(regPhysMgmt)) & mdioData >> 1
}

// mdioSync establishes frame alignment: 32 one bits, after which the start
// bit pattern is unambiguous.
func (h *Handle) mdioSync() {
	for i := 0; i < 32; i++ {
		h.mdioClockOut(1)
	}
}

// mdioRead reads one PHY register: start 01, opcode 10, PHY and register
// addresses, then a turnaround cycle and 16 data bits clocked in MSB first.
func (h *Handle) mdioRead(phy, reg uint8) uint16 {
	h.SelectWindow(4)
	h.mdioSync()
	cmd := uint16(0x6)<<10 | uint16(phy&0x1F)<<5 | uint16(reg&0x1F)
	for i := 13; i >= 0; i-- {
		h.mdioClockOut(cmd >> i)
	}
	h.mdioClockIn() // turnaround
	var v uint16
	for i := 0; i < 16; i++ {
		v = v<<1 | h.mdioClockIn()
	}
	return v
}

// mdioWrite writes one PHY register: start 01, opcode 01, addresses,
// turnaround 10, 16 data bits, all driven by the host.
func (h *Handle) mdioWrite(phy, reg uint8, val uint16) {
	h.SelectWindow(4)
	h.mdioSync()
	frame := uint32(0x5)<<28 | uint32(phy&0x1F)<<23 | uint32(reg&0x1F)<<18 |
		uint32(0x2)<<16 | uint32(val)
	for i := 31; i >= 0; i-- {
		h.mdioClockOut(uint16(frame >> i))
	}
	// Idle the interface with the line released.
	h.bus.Outw(h.port(regPhysMgmt), 0)
	h.bus.Delay(1)
}
