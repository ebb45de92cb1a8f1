package etherlink

import (
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"

	"github.com/etherlink/etherlink/iobus"
)

// The FIFO fill/drain hot path exists in several equivalent renditions,
// selected once at initialization by detected CPU capability: a plain byte
// loop (always safe), an unrolled byte loop, a block word-transfer loop and
// a block doubleword-transfer loop. After installation the hot loop carries
// no capability branch; small frames are routed to the byte loop by the
// install-time wrapper, not by a check inside the loop.

type CPUTier uint8

const (
	TierByte CPUTier = iota
	TierByteUnrolled
	TierWord
	TierDword
)

func (t CPUTier) String() string {
	switch t {
	case TierByte:
		return "byte"
	case TierByteUnrolled:
		return "byte-unrolled"
	case TierWord:
		return "word"
	case TierDword:
		return "dword"
	default:
		return "unknown"
	}
}

// smallCopyThreshold is the measured frame size below which the byte loop
// beats the block loops once setup cost is counted.
const smallCopyThreshold = 64

// DetectCPUTier maps the host's capability onto a transfer tier.
func DetectCPUTier() CPUTier {
	switch runtime.GOARCH {
	case "amd64", "arm64", "ppc64", "ppc64le", "riscv64", "s390x", "loong64":
		return TierDword
	case "386":
		if cpu.X86.HasSSE2 {
			return TierDword
		}
		return TierWord
	case "arm":
		if cpu.ARM.HasVFPv3 {
			return TierDword
		}
		return TierWord
	default:
		return TierWord
	}
}

type xferFunc func(b iobus.Bus, port uint16, p []byte)

type fifoVariant struct {
	tag   string
	fill  xferFunc
	drain xferFunc
}

var (
	variantByte = &fifoVariant{
		tag: "byte",
		fill: func(b iobus.Bus, port uint16, p []byte) {
			for _, v := range p {
				b.Outb(port, v)
			}
		},
		drain: func(b iobus.Bus, port uint16, p []byte) {
			for i := range p {
				p[i] = b.Inb(port)
			}
		},
	}

	variantByteUnrolled = &fifoVariant{
		tag: "byte-unrolled",
		fill: func(b iobus.Bus, port uint16, p []byte) {
			i := 0
			for ; i+4 <= len(p); i += 4 {
				b.Outb(port, p[i])
				b.Outb(port, p[i+1])
				b.Outb(port, p[i+2])
				b.Outb(port, p[i+3])
			}
			for ; i < len(p); i++ {
				b.Outb(port, p[i])
			}
		},
		drain: func(b iobus.Bus, port uint16, p []byte) {
			i := 0
			for ; i+4 <= len(p); i += 4 {
				p[i] = b.Inb(port)
				p[i+1] = b.Inb(port)
				p[i+2] = b.Inb(port)
				p[i+3] = b.Inb(port)
			}
			for ; i < len(p); i++ {
				p[i] = b.Inb(port)
			}
		},
	}

	variantWord = &fifoVariant{
		tag: "word",
		fill: func(b iobus.Bus, port uint16, p []byte) {
			i := 0
			for ; i+2 <= len(p); i += 2 {
				b.Outw(port, uint16(p[i])|uint16(p[i+1])<<8)
			}
			if i < len(p) {
				b.Outb(port, p[i])
			}
		},
		drain: func(b iobus.Bus, port uint16, p []byte) {
			i := 0
			for ; i+2 <= len(p); i += 2 {
				v := b.Inw(port)
				p[i] = byte(v)
				p[i+1] = byte(v >> 8)
			}
			if i < len(p) {
				p[i] = b.Inb(port)
			}
		},
	}

	variantDword = &fifoVariant{
		tag: "dword",
		fill: func(b iobus.Bus, port uint16, p []byte) {
			i := 0
			for ; i+4 <= len(p); i += 4 {
				b.Outl(port, uint32(p[i])|uint32(p[i+1])<<8|uint32(p[i+2])<<16|uint32(p[i+3])<<24)
			}
			if i+2 <= len(p) {
				b.Outw(port, uint16(p[i])|uint16(p[i+1])<<8)
				i += 2
			}
			if i < len(p) {
				b.Outb(port, p[i])
			}
		},
		drain: func(b iobus.Bus, port uint16, p []byte) {
			i := 0
			for ; i+4 <= len(p); i += 4 {
				v := b.Inl(port)
				p[i] = byte(v)
				p[i+1] = byte(v >> 8)
				p[i+2] = byte(v >> 16)
				p[i+3] = byte(v >> 24)
			}
			if i+2 <= len(p) {
				v := b.Inw(port)
				p[i] = byte(v)
				p[i+1] = byte(v >> 8)
				i += 2
			}
			if i < len(p) {
				p[i] = b.Inb(port)
			}
		},
	}
)

func variantForTier(t CPUTier) *fifoVariant {
	switch t {
	case TierByteUnrolled:
		return variantByteUnrolled
	case TierWord:
		return variantWord
	case TierDword:
		return variantDword
	default:
		return variantByte
	}
}

// PatchSite is one installable dispatch slot: what was there originally,
// what the tier wants there, and whether the installation was verified.
type PatchSite struct {
	name      string
	original  *fifoVariant
	intended  *fifoVariant
	installed *fifoVariant
	applied   bool
	verified  bool
}

// Dispatcher owns the hot-path dispatch sites consumed by the PIO engine
// and the ISR's FIFO drain. Installation happens once, inside a bounded
// interrupt-masked section; after that the table is never touched again.
type Dispatcher struct {
	bus   iobus.Bus
	sites [2]PatchSite // fill, drain

	fill  xferFunc
	drain xferFunc

	tier     CPUTier
	safeMode bool // one-way: set on any verification failure

	// readBack returns the tag observed at a site after installation.
	// Tests use it to model a failed write; the default reads the site.
	readBack func(*PatchSite) string

	metrics *DeviceMetrics
	l       *logrus.Logger
}

func NewDispatcher(bus iobus.Bus, metrics *DeviceMetrics, l *logrus.Logger) *Dispatcher {
	d := &Dispatcher{bus: bus, metrics: metrics, l: l}
	d.sites[0] = PatchSite{name: "fifo.fill", original: variantByte}
	d.sites[1] = PatchSite{name: "fifo.drain", original: variantByte}
	d.readBack = func(s *PatchSite) string { return s.installed.tag }
	d.fill = variantByte.fill
	d.drain = variantByte.drain
	return d
}

func (d *Dispatcher) Tier() CPUTier  { return d.tier }
func (d *Dispatcher) SafeMode() bool { return d.safeMode }

// Install selects the tier's variant at every site. Each site is installed
// and immediately re-verified; on any mismatch the site is rolled back to
// the byte variant and the dispatcher enters safe mode for the rest of the
// session. The interrupt-masked span covers only the pointer swap and
// read-back, nothing else.
func (d *Dispatcher) Install(tier CPUTier) error {
	if d.safeMode {
		return ErrPatchVerification
	}
	d.tier = tier
	v := variantForTier(tier)

	restore := d.bus.MaskInterrupts()
	for i := range d.sites {
		s := &d.sites[i]
		s.intended = v
		s.installed = v
		s.applied = true
		if d.readBack(s) != v.tag {
			s.installed = s.original
			s.applied = false
			s.verified = false
			d.safeMode = true
			continue
		}
		s.verified = true
	}
	restore()

	if d.safeMode {
		// Roll every site back; a half-fast dispatch table is worse than a
		// slow one.
		for i := range d.sites {
			d.sites[i].installed = d.sites[i].original
			d.sites[i].verified = false
		}
		d.fill = variantByte.fill
		d.drain = variantByte.drain
		d.metrics.PatchFallbacks.Inc(1)
		d.l.WithField("tier", tier.String()).Warn("Dispatch verification failed, staying on byte path")
		return ErrPatchVerification
	}

	d.fill = wrapSmall(d.sites[0].installed.fill, variantByte.fill)
	d.drain = wrapSmall(d.sites[1].installed.drain, variantByte.drain)
	d.l.WithField("tier", tier.String()).Debug("Dispatch variants installed")
	return nil
}

// wrapSmall binds the small-frame cutover at install time so the block
// loops never see a frame that is cheaper to move a byte at a time.
func wrapSmall(fast, slow xferFunc) xferFunc {
	return func(b iobus.Bus, port uint16, p []byte) {
		if len(p) < smallCopyThreshold {
			slow(b, port, p)
			return
		}
		fast(b, port, p)
	}
}

// Fill moves p into the device FIFO at port.
func (d *Dispatcher) Fill(port uint16, p []byte) { d.fill(d.bus, port, p) }

// Drain moves len(p) bytes out of the device FIFO at port.
func (d *Dispatcher) Drain(port uint16, p []byte) { d.drain(d.bus, port, p) }
