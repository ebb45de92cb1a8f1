package etherlink

// Arena models the ISA-reachable physical memory that descriptor rings,
// packet buffers and bounce buffers live in. Allocation is a bump pointer;
// everything is reserved at bring-up and nothing is freed until teardown,
// so there is no allocator on any packet path.
type Arena struct {
	base uint32
	mem  []byte
	next uint32
}

// PhysBuf is a byte range at a known physical address. Only the address
// ever reaches the device.
type PhysBuf struct {
	Addr uint32
	Data []byte
}

func NewArena(base uint32, size int) *Arena {
	return &Arena{base: base, mem: make([]byte, size)}
}

// Alloc reserves n bytes at the given alignment with no regard for DMA
// constraints; callers that need constraint-clean memory use AllocDMA.
func (a *Arena) Alloc(n int, align uint32) (PhysBuf, bool) {
	if align == 0 {
		align = 1
	}
	off := (a.next + align - 1) &^ (align - 1)
	if int(off)+n > len(a.mem) {
		return PhysBuf{}, false
	}
	a.next = off + uint32(n)
	return PhysBuf{Addr: a.base + off, Data: a.mem[off : off+uint32(n) : off+uint32(n)]}, true
}

// AllocDMA reserves n bytes guaranteed to satisfy both ISA constraints,
// skipping ahead to the next 64KB boundary when the allocation would
// straddle one.
func (a *Arena) AllocDMA(n int, align uint32) (PhysBuf, bool) {
	if align == 0 {
		align = 1
	}
	off := (a.next + align - 1) &^ (align - 1)
	addr := a.base + off
	if n > 0 && crosses64KB(addr, n) {
		next := (addr/isaDMABoundary + 1) * isaDMABoundary
		off += next - addr
	}
	if int(off)+n > len(a.mem) {
		return PhysBuf{}, false
	}
	b := PhysBuf{Addr: a.base + off, Data: a.mem[off : off+uint32(n) : off+uint32(n)]}
	if dmaViolates(b.Addr, n) {
		return PhysBuf{}, false
	}
	a.next = off + uint32(n)
	return b, true
}

// Slice views an arbitrary physical range, mainly so tests can construct
// buffers that violate the DMA constraints on purpose.
func (a *Arena) Slice(addr uint32, n int) PhysBuf {
	off := addr - a.base
	return PhysBuf{Addr: addr, Data: a.mem[off : off+uint32(n) : off+uint32(n)]}
}

// ReadPhys and WritePhys give a bus-master device its window into host
// memory; together they satisfy iobus.Memory.
func (a *Arena) ReadPhys(addr uint32, p []byte) {
	copy(p, a.mem[addr-a.base:])
}

func (a *Arena) WritePhys(addr uint32, p []byte) {
	copy(a.mem[addr-a.base:], p)
}

func crosses64KB(addr uint32, n int) bool {
	if n == 0 {
		return false
	}
	return addr/isaDMABoundary != (addr+uint32(n)-1)/isaDMABoundary
}

// dmaViolates checks the dual ISA constraint: the range must sit below the
// 16MB ceiling and must not cross a 64KB segment boundary.
func dmaViolates(addr uint32, n int) bool {
	if addr+uint32(n) > isaDMAAddrLimit {
		return true
	}
	return crosses64KB(addr, n)
}
