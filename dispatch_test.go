package etherlink

import (
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fifoBus is a loopback FIFO: everything written comes out as a byte
// stream, reads consume a preloaded byte stream. Port width must not
// change the bytes that move, which is exactly what the variant tests
// check.
type fifoBus struct {
	out []byte
	in  []byte
}

func (b *fifoBus) Outb(port uint16, v uint8) { b.out = append(b.out, v) }
func (b *fifoBus) Outw(port uint16, v uint16) {
	b.out = append(b.out, byte(v), byte(v>>8))
}
func (b *fifoBus) Outl(port uint16, v uint32) {
	b.out = append(b.out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (b *fifoBus) pop() byte {
	if len(b.in) == 0 {
		return 0
	}
	v := b.in[0]
	b.in = b.in[1:]
	return v
}

func (b *fifoBus) Inb(port uint16) uint8 { return b.pop() }
func (b *fifoBus) Inw(port uint16) uint16 {
	return uint16(b.pop()) | uint16(b.pop())<<8
}
func (b *fifoBus) Inl(port uint16) uint32 {
	return uint32(b.pop()) | uint32(b.pop())<<8 | uint32(b.pop())<<16 | uint32(b.pop())<<24
}

func (b *fifoBus) Delay(us int)                 {}
func (b *fifoBus) SetInterruptHandler(f func()) {}
func (b *fifoBus) MaskInterrupts() func()       { return func() {} }

func testPattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

func TestVariantsMoveIdenticalBytes(t *testing.T) {
	// Odd length so every variant exercises its remainder handling.
	pattern := testPattern(97)

	for _, tier := range []CPUTier{TierByte, TierByteUnrolled, TierWord, TierDword} {
		t.Run(tier.String(), func(t *testing.T) {
			bus := &fifoBus{}
			d := NewDispatcher(bus, NewDeviceMetrics(metrics.NewRegistry()), testLogger())
			require.NoError(t, d.Install(tier))
			assert.Equal(t, tier, d.Tier())
			assert.False(t, d.SafeMode())

			d.Fill(0, pattern)
			assert.Equal(t, pattern, bus.out)

			bus.in = append([]byte(nil), pattern...)
			got := make([]byte, len(pattern))
			d.Drain(0, got)
			assert.Equal(t, pattern, got)
		})
	}
}

func TestSmallFramesStayEquivalent(t *testing.T) {
	pattern := testPattern(smallCopyThreshold - 1)

	bus := &fifoBus{}
	d := NewDispatcher(bus, NewDeviceMetrics(metrics.NewRegistry()), testLogger())
	require.NoError(t, d.Install(TierDword))

	d.Fill(0, pattern)
	assert.Equal(t, pattern, bus.out)
}

func TestInstallVerificationIsAllOrNothing(t *testing.T) {
	bus := &fifoBus{}
	dm := NewDeviceMetrics(metrics.NewRegistry())
	d := NewDispatcher(bus, dm, testLogger())

	// Model a failed write at the second site only.
	d.readBack = func(s *PatchSite) string {
		if s.name == "fifo.drain" {
			return "garbage"
		}
		return s.installed.tag
	}

	err := d.Install(TierDword)
	require.ErrorIs(t, err, ErrPatchVerification)
	assert.True(t, d.SafeMode())
	assert.Equal(t, int64(1), dm.PatchFallbacks.Count())

	// No intermediate state: every site is back on the original variant,
	// including the one that verified.
	for i := range d.sites {
		assert.Equal(t, "byte", d.sites[i].installed.tag)
		assert.False(t, d.sites[i].verified)
	}

	// Safe mode is one-way for the session.
	d.readBack = func(s *PatchSite) string { return s.installed.tag }
	require.ErrorIs(t, d.Install(TierWord), ErrPatchVerification)

	// The byte path still moves data correctly.
	pattern := testPattern(80)
	d.Fill(0, pattern)
	assert.Equal(t, pattern, bus.out)
}

func TestDetectCPUTierIsUsable(t *testing.T) {
	tier := DetectCPUTier()
	assert.NotEqual(t, "unknown", tier.String())
}
