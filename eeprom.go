package etherlink

import (
	"fmt"

	"github.com/etherlink/etherlink/iobus"
)

// eepromBudgetUS is the documented worst-case read latency per part.
func (h *Handle) eepromBudgetUS() int {
	if h.variant == Variant515 {
		return 200
	}
	return 162
}

// ReadEepromWord issues a read command for the 6-bit word address and polls
// the busy bit within the model's timing budget (doubled for margin). The
// window is re-selected on every iteration: an interrupt between two polls
// may have moved it.
func (h *Handle) ReadEepromWord(addr uint8) (uint16, error) {
	h.SelectWindow(0)
	h.bus.Outw(h.port(regEepromCmd), eepromRead|uint16(addr)&eepromAddrMask)
	ceiling := h.eepromBudgetUS() * 2 / iobus.IODelayUS
	for i := 0; i < ceiling; i++ {
		h.bus.Delay(iobus.IODelayUS)
		h.SelectWindow(0)
		if h.bus.Inw(h.port(regEepromCmd))&eepromBusy == 0 {
			return h.bus.Inw(h.port(regEepromData)), nil
		}
	}
	if h.metrics != nil {
		h.metrics.HardwareTimeouts.Inc(1)
	}
	return 0, ErrEepromTimeout
}

// ReadMAC assembles the station address from the first three EEPROM words.
// Each word is stored big-endian.
func (h *Handle) ReadMAC() ([6]byte, error) {
	var mac [6]byte
	for i := 0; i < 3; i++ {
		w, err := h.ReadEepromWord(uint8(i))
		if err != nil {
			return mac, err
		}
		mac[i*2] = byte(w >> 8)
		mac[i*2+1] = byte(w)
	}
	h.mac = mac
	return mac, nil
}

// ReadIdentity checks the manufacturer and product identity words against
// the configured variant. A mismatch is fatal for bring-up; the revision
// nibble is masked off before comparing.
func (h *Handle) ReadIdentity() error {
	mfg, err := h.ReadEepromWord(eepromWordMfgID)
	if err != nil {
		return err
	}
	if mfg != mfgID3Com {
		return fmt.Errorf("%w: manufacturer id %#04x", ErrDeviceNotRecognized, mfg)
	}
	product, err := h.ReadEepromWord(eepromWordProductID)
	if err != nil {
		return err
	}
	want := productID509B
	if h.variant == Variant515 {
		want = productID515
	}
	if product&productIDMask != want {
		return fmt.Errorf("%w: product id %#04x, want %#04x", ErrDeviceNotRecognized, product, want)
	}
	return nil
}

// VerifyEepromChecksum recomputes the checksum over words 0-14 and compares
// it with word 15. A bad checksum is reported to the caller but is not
// fatal on its own; plenty of working boards shipped with one.
func (h *Handle) VerifyEepromChecksum() (bool, error) {
	var sum uint16
	for i := uint8(0); i < 15; i++ {
		w, err := h.ReadEepromWord(i)
		if err != nil {
			return false, err
		}
		sum ^= w
	}
	stored, err := h.ReadEepromWord(eepromWordChecksum)
	if err != nil {
		return false, err
	}
	return stored == sum>>8^sum&0xFF, nil
}
