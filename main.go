package etherlink

import (
	"errors"
	"strings"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/etherlink/etherlink/config"
	"github.com/etherlink/etherlink/iobus"
	"github.com/etherlink/etherlink/util"
)

type m map[string]any

// Main brings one adapter from power-on to operational and hands back the
// Control that drives it. Everything that can fail during bring-up fails
// here; after Start, hardware faults are recovered in place and only show
// up in the counters.
//
// The bus is injected so the same sequence runs against real port I/O or a
// simulated device. The arena may be nil; the bus-master part then gets a
// private one sized from config.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, bus iobus.Bus, arena *Arena) (*Control, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}
	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	variantName := c.GetString("device.variant", "3c509b")
	var variant Variant
	switch strings.ToLower(variantName) {
	case "3c509b":
		variant = Variant509B
	case "3c515":
		variant = Variant515
	default:
		return nil, util.NewContextualError("Unknown device variant", m{"variant": variantName}, nil)
	}

	ioBase := c.GetUint16("device.io_base", 0x300)
	mode, err := ParseMediaMode(c.GetString("media.mode", "auto"))
	if err != nil {
		return nil, util.NewContextualError("Invalid media mode", m{"mode": c.GetString("media.mode", "auto")}, err)
	}

	if configTest {
		return nil, nil
	}

	registry := metrics.NewRegistry()
	dm := NewDeviceMetrics(registry)
	h := NewHandle(bus, ioBase, variant, dm, l)

	if err := h.IssueCommand(cmdGlobalReset, 0); err != nil {
		return nil, util.NewContextualError("Global reset did not complete", m{"ioBase": ioBase}, err)
	}
	h.InvalidateWindow()

	if err := h.ReadIdentity(); err != nil {
		return nil, util.NewContextualError("Device identification failed", m{"ioBase": ioBase, "variant": variant.String()}, err)
	}
	mac, err := h.ReadMAC()
	if err != nil {
		return nil, util.NewContextualError("Failed to read the station address", m{"ioBase": ioBase}, err)
	}
	ok, err := h.VerifyEepromChecksum()
	if err != nil {
		return nil, util.NewContextualError("Failed to read the EEPROM checksum", m{"ioBase": ioBase}, err)
	}
	if !ok {
		l.WithFields(h.fields()).Warn("EEPROM checksum mismatch, continuing")
	}

	// The receive filter matches against window 2, which powers up zeroed.
	h.SelectWindow(2)
	for i, b := range mac {
		bus.Outb(h.port(regOffset(i)), b)
	}

	h.mii = variant == Variant515

	media := NewMediaFSM(h, mode)
	if err := media.Configure(); err != nil {
		if !errors.Is(err, ErrLinkDown) {
			return nil, util.ContextualizeIfNeeded("Failed to configure media", err)
		}
		l.WithFields(h.fields()).WithError(err).Warn("No link at bring-up, probing continues from the link watchdog")
	}

	disp := NewDispatcher(bus, dm, l)
	if err := disp.Install(DetectCPUTier()); err != nil {
		if !errors.Is(err, ErrPatchVerification) {
			return nil, util.ContextualizeIfNeeded("Failed to install transfer dispatch", err)
		}
		// Already rolled back to the byte path; performance only.
	}

	ctl := &Control{
		h:        h,
		media:    media,
		registry: registry,
		l:        l,
	}
	ctl.pio = NewPIOEngine(h, disp, c.GetUint16("pio.tx_start_threshold", 0), ctl.deliver)

	if h.BusMaster() {
		if arena == nil {
			arena = NewArena(c.GetUint32("dma.arena_base", 0x100000), c.GetInt("dma.arena_size", 1<<20))
		}
		pool, ok := NewBouncePool(arena, c.GetInt("dma.bounce_pool", 8), rxBufSize)
		if !ok {
			return nil, util.NewContextualError("Arena too small for the bounce pool", m{"ioBase": ioBase}, nil)
		}
		txDepth := c.GetInt("dma.tx_ring", 16)
		ctl.ring, err = NewRingEngine(h, arena, pool, txDepth, c.GetInt("dma.rx_ring", 16), ctl.deliver)
		if err != nil {
			return nil, util.NewContextualError("Failed to build descriptor rings", m{"ioBase": ioBase}, err)
		}
		ctl.txStage = make([]PhysBuf, txDepth)
		for i := range ctl.txStage {
			b, ok := arena.AllocDMA(maxFrameSize, 4)
			if !ok {
				return nil, util.NewContextualError("Arena too small for transmit staging", m{"ioBase": ioBase}, nil)
			}
			ctl.txStage[i] = b
		}
	}

	ctl.isr = NewISR(h, ctl.pio, ctl.ring)
	bus.SetInterruptHandler(ctl.isr.ServiceInterrupt)

	ctl.statsStart = func() {
		if err := startStats(l, c, registry, buildVersion, configTest); err != nil {
			l.WithError(err).Error("Failed to start stats emission")
		}
	}

	return ctl, nil
}
