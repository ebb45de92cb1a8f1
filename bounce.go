package etherlink

// BouncePool is a fixed set of constraint-clean buffers used whenever a
// caller-supplied buffer cannot be handed to the bus master directly. The
// free list is a LIFO index stack; nothing allocates after construction.
type BouncePool struct {
	bufs []PhysBuf
	free []int
}

func NewBouncePool(a *Arena, count, size int) (*BouncePool, bool) {
	p := &BouncePool{
		bufs: make([]PhysBuf, count),
		free: make([]int, count),
	}
	for i := 0; i < count; i++ {
		b, ok := a.AllocDMA(size, 16)
		if !ok {
			return nil, false
		}
		p.bufs[i] = b
		p.free[i] = count - 1 - i
	}
	return p, true
}

// Get pops a free bounce buffer, or reports exhaustion.
func (p *BouncePool) Get() (int, PhysBuf, bool) {
	if len(p.free) == 0 {
		return -1, PhysBuf{}, false
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return i, p.bufs[i], true
}

func (p *BouncePool) Put(i int) {
	p.free = append(p.free, i)
}

// Free reports how many buffers are currently available.
func (p *BouncePool) Free() int { return len(p.free) }
