package iobus

// irqLine models the interrupt request line between a simulated controller
// and the host. Delivery is synchronous and single-threaded: fire invokes
// the handler directly, re-entrancy is latched and replayed once the
// current invocation or mask window ends.
type irqLine struct {
	handler func()
	masked  bool
	pending bool
	active  bool
}

func (q *irqLine) setHandler(h func()) {
	q.handler = h
}

func (q *irqLine) mask() func() {
	q.masked = true
	return func() {
		q.masked = false
		q.replay()
	}
}

// fire asserts the line. If the host cannot take the interrupt right now it
// stays latched until it can.
func (q *irqLine) fire() {
	if q.handler == nil || q.masked || q.active {
		q.pending = true
		return
	}
	q.active = true
	q.handler()
	q.active = false
	q.replay()
}

func (q *irqLine) replay() {
	for q.pending && !q.masked && !q.active && q.handler != nil {
		q.pending = false
		q.active = true
		q.handler()
		q.active = false
	}
}
