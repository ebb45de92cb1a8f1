package etherlink

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Control owns one operational adapter: the handle, the media state
// machine, whichever packet engine the part uses, and the interrupt
// routine. Main builds it; the caller drives it.
type Control struct {
	h     *Handle
	media *MediaFSM
	pio   *PIOEngine
	ring  *RingEngine
	isr   *ISR

	// txStage holds one staged transmit copy per down-ring slot on the
	// bus-master part. Slot i is reusable exactly when ring slot i is,
	// so the rotation mirrors the ring's head.
	txStage []PhysBuf
	txNext  int

	registry   metrics.Registry
	statsStart func()

	onReceive func([]byte)

	l *logrus.Logger
}

// RegisterReceiveHandler sets the consumer for completed receive frames.
// Must be called before Start; frames arriving with no handler are counted
// and dropped.
func (c *Control) RegisterReceiveHandler(f func([]byte)) {
	c.onReceive = f
}

func (c *Control) deliver(p []byte) {
	if c.onReceive != nil {
		c.onReceive(p)
	}
}

func (c *Control) MAC() [6]byte               { return c.h.MAC() }
func (c *Control) Linked() bool               { return c.media.Linked() }
func (c *Control) Metrics() *DeviceMetrics    { return c.h.metrics }
func (c *Control) Registry() metrics.Registry { return c.registry }

// Start brings the device into service: interrupt sources armed, receiver
// and transmitter enabled, stats shipping if configured. Nonblocking; to
// block use Control.ShutdownBlock().
func (c *Control) Start() error {
	h := c.h

	if err := h.IssueCommand(cmdSetIntrEnable, c.isr.InterruptMask()&cmdParamMask); err != nil {
		return err
	}
	if err := h.IssueCommand(cmdSetStatusEnb, c.isr.InterruptMask()&cmdParamMask); err != nil {
		return err
	}
	if err := c.pio.Enable(); err != nil {
		return err
	}
	if c.ring != nil {
		if err := c.ring.Start(); err != nil {
			return err
		}
	}

	if c.statsStart != nil {
		go c.statsStart()
	}

	h.l.WithFields(h.fields()).WithField("mac", macString(h.mac)).Info("Adapter up")
	return nil
}

// Transmit queues one frame on whichever path the part uses. The boolean
// is false on backpressure; retry after Poll or the next completion.
func (c *Control) Transmit(p []byte) (bool, error) {
	if c.ring == nil {
		return c.pio.Transmit(p)
	}
	stage := c.txStage[c.txNext]
	if len(p) > len(stage.Data) {
		return c.pio.Transmit(p) // oversize is rejected there with context
	}
	// When the ring is full the descriptor at the head still points at this
	// staging buffer; the copy must not happen until the slot is free.
	if !c.ring.CanSubmit() {
		c.h.metrics.TxBackpressure.Inc(1)
		return false, nil
	}
	copy(stage.Data, p)
	ok, err := c.ring.SubmitTx(PhysBuf{Addr: stage.Addr, Data: stage.Data[:len(p)]})
	if ok {
		c.txNext = (c.txNext + 1) % len(c.txStage)
	}
	return ok, err
}

// Poll runs the deferred mainline work: any interrupt servicing that ran
// out of budget, and completion walks the ISR did not get to.
func (c *Control) Poll() {
	if c.isr.Pending() {
		c.isr.ServiceInterrupt()
	}
}

// RecheckLink is the mainline link watchdog entry point; the caller sets
// the rate.
func (c *Control) RecheckLink() error {
	return c.media.Recheck()
}

// Stop quiesces the device: interrupts off, engines stalled, receiver and
// transmitter disabled, final statistics harvested.
func (c *Control) Stop() {
	h := c.h
	_ = h.IssueCommand(cmdSetIntrEnable, 0)
	if c.ring != nil {
		c.ring.Stop()
	}
	_ = h.IssueCommand(cmdRxDisable, 0)
	_ = h.IssueCommand(cmdTxDisable, 0)
	h.HarvestWindow6()
	_ = h.IssueCommand(cmdStatsDisable, 0)
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}
