// Package iobus abstracts x86 port I/O so the driver core can run against
// either real hardware or a simulated controller. The interface mirrors the
// classic inb/outb family; ports are absolute I/O addresses.
package iobus

// Bus is a port I/O space with an interrupt line attached to it.
//
// Interrupt delivery is synchronous: a device may invoke the installed
// handler from inside any port access, exactly the way a hardware interrupt
// can preempt mainline code between two instructions. Code using a Bus must
// therefore treat every port access as a potential preemption point.
type Bus interface {
	Outb(port uint16, v uint8)
	Outw(port uint16, v uint16)
	Outl(port uint16, v uint32)
	Inb(port uint16) uint8
	Inw(port uint16) uint16
	Inl(port uint16) uint32

	// Delay burns at least us microseconds of bus time. On ISA this is the
	// dummy-read-of-port-0x80 idiom, about 3.3us per read.
	Delay(us int)

	// SetInterruptHandler installs h as the interrupt service routine for
	// this bus. A nil handler detaches the line.
	SetInterruptHandler(h func())

	// MaskInterrupts suppresses interrupt delivery and returns the function
	// that restores it. The span between the two must stay short and
	// bounded; a latched interrupt fires as soon as the mask is lifted.
	MaskInterrupts() func()
}

// Memory is the host physical memory a bus-master device reads descriptors
// and packet buffers from. Addresses are physical; the device never sees
// virtual pointers.
type Memory interface {
	ReadPhys(addr uint32, p []byte)
	WritePhys(addr uint32, p []byte)
}

// IODelayUS is the approximate cost of one ISA dummy I/O read. Poll loop
// ceilings are derived from worst-case microsecond budgets at this rate.
const IODelayUS = 3
