package etherlink

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/etherlink/etherlink/iobus"
)

type Variant uint8

const (
	Variant509B Variant = iota // 10 Mbps, programmed I/O
	Variant515                 // 10/100 Mbps, bus-master DMA
)

func (v Variant) String() string {
	switch v {
	case Variant509B:
		return "3c509B"
	case Variant515:
		return "3c515"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(v))
	}
}

const noWindow = -1

// Handle owns one physical adapter. It is mutated both by mainline code and
// by the interrupt service routine; since an interrupt can land between any
// two port accesses, the cached window is a hint only — every multi-access
// register sequence re-selects its window instead of trusting the cache
// across a potential preemption point.
type Handle struct {
	bus     iobus.Bus
	ioBase  uint16
	variant Variant

	window int8 // currently selected window, noWindow after reset

	mac        [6]byte
	fullDuplex bool
	mii        bool

	metrics *DeviceMetrics
	l       *logrus.Logger
}

func NewHandle(bus iobus.Bus, ioBase uint16, variant Variant, metrics *DeviceMetrics, l *logrus.Logger) *Handle {
	return &Handle{
		bus:     bus,
		ioBase:  ioBase,
		variant: variant,
		window:  noWindow,
		metrics: metrics,
		l:       l,
	}
}

func (h *Handle) Variant() Variant { return h.variant }
func (h *Handle) MAC() [6]byte     { return h.mac }

// BusMaster reports whether this part moves packets by descriptor DMA.
func (h *Handle) BusMaster() bool { return h.variant == Variant515 }

func (h *Handle) port(off regOffset) uint16 {
	return h.ioBase + uint16(off)
}

// w1 maps a window-1 register offset; the 3c515 puts the operational
// registers 0x10 higher to make room for the FIFO window.
func (h *Handle) w1(off regOffset) uint16 {
	if h.variant == Variant515 {
		return h.ioBase + uint16(off) + 0x10
	}
	return h.ioBase + uint16(off)
}

func macString(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

func (h *Handle) fields() logrus.Fields {
	return logrus.Fields{"ioBase": fmt.Sprintf("%#04x", h.ioBase), "variant": h.variant.String()}
}
