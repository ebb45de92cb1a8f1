package etherlink

import (
	"encoding/binary"
	"fmt"
)

// Descriptor layout: 16 bytes, little-endian — next physical address,
// status word, buffer physical address, length. Only physical addresses
// ever land in a descriptor.
const (
	descSize = 16

	descComplete uint32 = 0x00008000
	descError    uint32 = 0x00004000
	descLast     uint32 = 0x00002000
	descFirst    uint32 = 0x00001000
	descLenMask  uint32 = 0x00001FFF
)

type descSlot struct {
	buf    PhysBuf // what the descriptor points at, possibly a bounce buffer
	orig   PhysBuf // the caller's buffer when bounced
	bounce int     // pool index, -1 when the buffer was used directly
	inUse  bool
}

// descRing is one direction's descriptor array. The head index belongs to
// mainline submission and the tail index to the ISR's completion walk;
// neither side touches the other's index, which is what makes the common
// case lock-free under interrupt preemption.
type descRing struct {
	base  PhysBuf
	slots []descSlot
	head  int
	tail  int
}

func (r *descRing) descAddr(i int) uint32 {
	return r.base.Addr + uint32(i*descSize)
}

func (r *descRing) writeDesc(i int, next, status, buf, length uint32) {
	d := r.base.Data[i*descSize:]
	binary.LittleEndian.PutUint32(d[0:], next)
	binary.LittleEndian.PutUint32(d[4:], status)
	binary.LittleEndian.PutUint32(d[8:], buf)
	binary.LittleEndian.PutUint32(d[12:], length)
}

func (r *descRing) writeNext(i int, next uint32) {
	binary.LittleEndian.PutUint32(r.base.Data[i*descSize:], next)
}

func (r *descRing) status(i int) uint32 {
	return binary.LittleEndian.Uint32(r.base.Data[i*descSize+4:])
}

func (r *descRing) setStatus(i int, v uint32) {
	binary.LittleEndian.PutUint32(r.base.Data[i*descSize+4:], v)
}

// rxBufSize is the posted receive buffer capacity: a full frame rounded up
// to a doubleword boundary.
const rxBufSize = 1536

// RingEngine is the bus-master packet path of the 3c515: one descriptor
// ring per direction, ISA addressing constraints enforced on every buffer,
// bounce buffering when a caller's buffer violates them.
type RingEngine struct {
	h    *Handle
	mem  *Arena
	pool *BouncePool

	down descRing // transmit
	up   descRing // receive

	onReceive func([]byte)
}

func NewRingEngine(h *Handle, mem *Arena, pool *BouncePool, txDepth, rxDepth int, onReceive func([]byte)) (*RingEngine, error) {
	e := &RingEngine{h: h, mem: mem, pool: pool, onReceive: onReceive}

	base, ok := mem.AllocDMA(txDepth*descSize, 16)
	if !ok {
		return nil, fmt.Errorf("arena exhausted allocating %d transmit descriptors", txDepth)
	}
	e.down = descRing{base: base, slots: make([]descSlot, txDepth)}
	for i := 0; i < txDepth; i++ {
		e.down.writeDesc(i, 0, 0, 0, 0)
		e.down.slots[i].bounce = -1
	}

	base, ok = mem.AllocDMA(rxDepth*descSize, 16)
	if !ok {
		return nil, fmt.Errorf("arena exhausted allocating %d receive descriptors", rxDepth)
	}
	e.up = descRing{base: base, slots: make([]descSlot, rxDepth)}
	for i := 0; i < rxDepth; i++ {
		buf, ok := mem.Alloc(rxBufSize, 4)
		if !ok {
			return nil, fmt.Errorf("arena exhausted posting receive buffer %d", i)
		}
		slot := &e.up.slots[i]
		slot.orig = buf
		slot.buf = buf
		slot.bounce = -1
		if dmaViolates(buf.Addr, len(buf.Data)) {
			bi, bb, ok := pool.Get()
			if !ok {
				return nil, fmt.Errorf("bounce pool exhausted posting receive buffer %d", i)
			}
			slot.buf = bb
			slot.bounce = bi
		}
		next := e.up.descAddr((i + 1) % rxDepth)
		e.up.writeDesc(i, next, 0, slot.buf.Addr, rxBufSize)
	}
	return e, nil
}

// Start programs the receive list pointer and unstalls the upload engine.
// The download pointer stays null until the first submission.
func (e *RingEngine) Start() error {
	h := e.h
	if err := h.IssueCommand(cmdUpStall, 0); err != nil {
		return err
	}
	h.bus.Outl(h.port(regUpListPtr), e.up.base.Addr)
	return h.IssueCommand(cmdUpUnstall, 0)
}

// CanSubmit reports whether the next down-ring slot is free. A caller that
// stages frames into memory tied to ring slots must check before writing
// the stage: while the slot is in use the device still owns that memory.
func (e *RingEngine) CanSubmit() bool {
	return !e.down.slots[e.down.head].inUse
}

// SubmitTx queues one frame for download. A buffer that breaks either ISA
// constraint is copied through a bounce buffer transparently. A full ring
// or an exhausted pool is backpressure, reported through the boolean.
func (e *RingEngine) SubmitTx(b PhysBuf) (bool, error) {
	if len(b.Data) > maxFrameSize {
		return false, fmt.Errorf("frame of %d bytes exceeds device maximum %d", len(b.Data), maxFrameSize)
	}
	h := e.h
	i := e.down.head
	slot := &e.down.slots[i]
	if slot.inUse {
		h.metrics.TxBackpressure.Inc(1)
		return false, nil
	}

	target := b
	bounce := -1
	if dmaViolates(b.Addr, len(b.Data)) {
		bi, bb, ok := e.pool.Get()
		if !ok {
			h.metrics.TxBackpressure.Inc(1)
			return false, nil
		}
		copy(bb.Data, b.Data)
		target = PhysBuf{Addr: bb.Addr, Data: bb.Data[:len(b.Data)]}
		bounce = bi
		h.metrics.BounceTx.Inc(1)
	}

	// The engine is stalled while the list is edited; pointers are never
	// rewritten under a running download.
	if err := h.IssueCommand(cmdDownStall, 0); err != nil {
		if bounce >= 0 {
			e.pool.Put(bounce)
		}
		return false, err
	}
	e.down.writeDesc(i, 0, descFirst|descLast, target.Addr, uint32(len(b.Data)))
	prev := (i - 1 + len(e.down.slots)) % len(e.down.slots)
	if e.down.slots[prev].inUse {
		e.down.writeNext(prev, e.down.descAddr(i))
	}
	if h.bus.Inl(h.port(regDownListPtr)) == 0 {
		h.bus.Outl(h.port(regDownListPtr), e.down.descAddr(i))
	}
	slot.inUse = true
	slot.buf = target
	slot.orig = b
	slot.bounce = bounce
	e.down.head = (i + 1) % len(e.down.slots)
	if err := h.IssueCommand(cmdDownUnstall, 0); err != nil {
		return false, err
	}
	h.metrics.TxBytes.Inc(int64(len(b.Data)))
	return true, nil
}

// ProcessCompletions walks both rings from their ISR-owned indices,
// retiring every descriptor whose complete bit is set. Called from the
// interrupt handler on Up/DownComplete and from the mainline poll.
func (e *RingEngine) ProcessCompletions() {
	m := e.h.metrics

	for {
		i := e.down.tail
		slot := &e.down.slots[i]
		if !slot.inUse {
			break
		}
		st := e.down.status(i)
		if st&descComplete == 0 {
			break
		}
		if st&descError != 0 {
			m.DmaErrors.Inc(1)
		} else {
			m.TxFramesOK.Inc(1)
		}
		if slot.bounce >= 0 {
			e.pool.Put(slot.bounce)
			slot.bounce = -1
		}
		e.down.writeDesc(i, 0, 0, 0, 0)
		slot.inUse = false
		e.down.tail = (i + 1) % len(e.down.slots)
	}

	for {
		i := e.up.tail
		st := e.up.status(i)
		if st&descComplete == 0 {
			break
		}
		slot := &e.up.slots[i]
		if st&descError != 0 {
			m.DmaErrors.Inc(1)
		} else {
			n := int(st & descLenMask)
			if slot.bounce >= 0 {
				copy(slot.orig.Data, slot.buf.Data[:n])
				m.BounceRx.Inc(1)
			}
			out := make([]byte, n)
			copy(out, slot.buf.Data[:n])
			m.RxFramesOK.Inc(1)
			m.RxBytes.Inc(int64(n))
			if e.onReceive != nil {
				e.onReceive(out)
			}
		}
		// Recycle: clearing the status hands the descriptor back to the
		// device.
		e.up.setStatus(i, 0)
		e.up.tail = (i + 1) % len(e.up.slots)
	}
}

// Reset is the only legal way to reconfigure the rings: stall both
// engines, rewrite the list pointers to the ring bases, unstall. Never
// called while a download is being edited.
func (e *RingEngine) Reset() error {
	h := e.h
	if err := h.IssueCommand(cmdDownStall, 0); err != nil {
		return err
	}
	if err := h.IssueCommand(cmdUpStall, 0); err != nil {
		return err
	}
	for i := range e.down.slots {
		slot := &e.down.slots[i]
		if slot.bounce >= 0 {
			e.pool.Put(slot.bounce)
			slot.bounce = -1
		}
		slot.inUse = false
		e.down.writeDesc(i, 0, 0, 0, 0)
	}
	e.down.head, e.down.tail = 0, 0
	for i := range e.up.slots {
		e.up.setStatus(i, 0)
	}
	e.up.tail = 0
	h.bus.Outl(h.port(regDownListPtr), 0)
	h.bus.Outl(h.port(regUpListPtr), e.up.base.Addr)
	if err := h.IssueCommand(cmdUpUnstall, 0); err != nil {
		return err
	}
	return h.IssueCommand(cmdDownUnstall, 0)
}

// Stop stalls both engines for shutdown.
func (e *RingEngine) Stop() {
	_ = e.h.IssueCommand(cmdDownStall, 0)
	_ = e.h.IssueCommand(cmdUpStall, 0)
}
