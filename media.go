package etherlink

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// MediaMode is the operator's transceiver choice from configuration.
type MediaMode uint8

const (
	MediaModeAuto   MediaMode = iota // probe, preferring twisted pair
	MediaModeEeprom                  // apply the EEPROM transceiver code
	MediaMode10BaseT
	MediaModeAui
	MediaModeBnc
	MediaModeMii
)

func ParseMediaMode(s string) (MediaMode, error) {
	switch s {
	case "auto", "":
		return MediaModeAuto, nil
	case "eeprom":
		return MediaModeEeprom, nil
	case "10baset":
		return MediaMode10BaseT, nil
	case "aui":
		return MediaModeAui, nil
	case "bnc":
		return MediaModeBnc, nil
	case "mii":
		return MediaModeMii, nil
	default:
		return MediaModeAuto, fmt.Errorf("unknown media mode %q", s)
	}
}

func (m MediaMode) String() string {
	switch m {
	case MediaModeAuto:
		return "auto"
	case MediaModeEeprom:
		return "eeprom"
	case MediaMode10BaseT:
		return "10baset"
	case MediaModeAui:
		return "aui"
	case MediaModeBnc:
		return "bnc"
	case MediaModeMii:
		return "mii"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(m))
	}
}

// MediaState is the transceiver state machine's position. The only cycle
// is Linked/NoLink back to ProbeAuto on link loss.
type MediaState uint8

const (
	MediaUnconfigured MediaState = iota
	MediaProbeAuto
	MediaTenBaseT
	MediaBnc
	MediaAui
	MediaMii100
	MediaLinked
	MediaNoLink
)

func (s MediaState) String() string {
	switch s {
	case MediaUnconfigured:
		return "unconfigured"
	case MediaProbeAuto:
		return "probe"
	case MediaTenBaseT:
		return "10baseT"
	case MediaBnc:
		return "bnc"
	case MediaAui:
		return "aui"
	case MediaMii100:
		return "mii"
	case MediaLinked:
		return "linked"
	case MediaNoLink:
		return "no-link"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(s))
	}
}

// Link-beat and autonegotiation poll budgets. Each iteration burns a fixed
// virtual-time slice, so the ceilings are the documented worst case over
// the slice.
const (
	linkBeatBudgetUS = 50_000 // 50 ms of link-beat detection
	linkBeatSliceUS  = 100
	autonegBudgetUS  = 3_000_000 // 3 s for autonegotiation to settle
	autonegSliceUS   = 1_000
)

// EEPROM address-configuration transceiver codes, high two bits of word 8.
const (
	xcvrCode10BaseT = 0
	xcvrCodeAui     = 1
	xcvrCodeBnc     = 3
)

// MediaFSM selects and watches the transceiver. Probing runs only at
// bring-up and on explicit recheck from mainline; it never runs inside the
// interrupt handler.
type MediaFSM struct {
	h    *Handle
	mode MediaMode

	state MediaState
	// port remembers which transceiver the last probe settled on, so a
	// recheck knows what it is watching.
	port MediaState
}

func NewMediaFSM(h *Handle, mode MediaMode) *MediaFSM {
	return &MediaFSM{h: h, mode: mode, state: MediaUnconfigured}
}

func (f *MediaFSM) State() MediaState { return f.state }
func (f *MediaFSM) Linked() bool      { return f.state == MediaLinked }

func (f *MediaFSM) setState(s MediaState) {
	if s == f.state {
		return
	}
	f.h.l.WithFields(f.h.fields()).WithFields(logrus.Fields{
		"from": f.state.String(), "to": s.String(),
	}).Debug("Media transition")
	f.state = s
	f.h.metrics.MediaTransitions.Inc(1)
	if s == MediaLinked {
		f.h.metrics.LinkUp.Update(1)
	} else {
		f.h.metrics.LinkUp.Update(0)
	}
}

// Configure runs the transceiver selection once. Probe failure is the
// non-fatal ErrLinkDown; the caller retries through Recheck at its own
// rate. Anything else is a bring-up failure.
func (f *MediaFSM) Configure() error {
	mode := f.mode
	if mode == MediaModeEeprom {
		m, err := f.eepromMode()
		if err != nil {
			return err
		}
		mode = m
	}

	switch mode {
	case MediaModeAuto:
		return f.probeAuto()
	case MediaMode10BaseT:
		f.setState(MediaTenBaseT)
		f.port = MediaTenBaseT
		if !f.enableLinkBeat() {
			f.setState(MediaNoLink)
			return ErrLinkDown
		}
		f.setState(MediaLinked)
		return nil
	case MediaModeBnc:
		f.selectCoax()
		return nil
	case MediaModeAui:
		// AUI has no link detection; trust the operator.
		f.setState(MediaAui)
		f.port = MediaAui
		f.setState(MediaLinked)
		return nil
	case MediaModeMii:
		return f.negotiateMii()
	default:
		return fmt.Errorf("media mode %v not configurable", mode)
	}
}

// eepromMode maps the transceiver code in the address-configuration word
// to a manual mode.
func (f *MediaFSM) eepromMode() (MediaMode, error) {
	w, err := f.h.ReadEepromWord(eepromWordAddrCfg)
	if err != nil {
		return MediaModeAuto, err
	}
	switch w >> 14 {
	case xcvrCodeAui:
		return MediaModeAui, nil
	case xcvrCodeBnc:
		return MediaModeBnc, nil
	default:
		return MediaMode10BaseT, nil
	}
}

// probeAuto prefers the MII PHY when the part has one, then twisted pair
// with link-beat detection, then falls back to coax.
func (f *MediaFSM) probeAuto() error {
	h := f.h
	f.setState(MediaProbeAuto)

	if h.mii {
		if err := f.negotiateMii(); err == nil {
			return nil
		}
		h.l.WithFields(h.fields()).Info("MII negotiation failed, trying twisted pair")
	}

	f.setState(MediaTenBaseT)
	f.port = MediaTenBaseT
	if f.enableLinkBeat() {
		f.setState(MediaLinked)
		return nil
	}

	h.l.WithFields(h.fields()).Info("No link beat on twisted pair, falling back to coax")
	f.selectCoax()
	return nil
}

// enableLinkBeat turns on link-beat detection in window 4 and waits up to
// the probe budget for the detect bit.
func (f *MediaFSM) enableLinkBeat() bool {
	h := f.h
	h.SelectWindow(4)
	ctl := h.bus.Inw(h.port(regMedia))
	ctl |= mediaLinkBeatEnable | mediaJabberEnable
	h.bus.Outw(h.port(regMedia), ctl)

	for spent := 0; spent < linkBeatBudgetUS; spent += linkBeatSliceUS {
		h.SelectWindow(4)
		if h.bus.Inw(h.port(regMedia))&mediaLinkDetect != 0 {
			return true
		}
		h.bus.Delay(linkBeatSliceUS)
	}
	return false
}

// selectCoax starts the coax transceiver. Coax has no carrier detection,
// so selection is taken as linked.
func (f *MediaFSM) selectCoax() {
	f.setState(MediaBnc)
	f.port = MediaBnc
	_ = f.h.IssueCommand(cmdStartCoax, 0)
	f.setState(MediaLinked)
}

// negotiateMii restarts autonegotiation on the internal PHY, waits for it
// to settle, and programs duplex from the link partner's abilities.
func (f *MediaFSM) negotiateMii() error {
	h := f.h
	f.setState(MediaMii100)
	f.port = MediaMii100

	st := h.mdioRead(miiPhyAddr, miiStatus)
	if st == 0 || st == 0xFFFF {
		f.setState(MediaNoLink)
		return fmt.Errorf("no PHY at address %d: %w", miiPhyAddr, ErrLinkDown)
	}

	h.mdioWrite(miiPhyAddr, miiControl, miiCtlAutonegEn|miiCtlRestartAN)
	done := false
	for spent := 0; spent < autonegBudgetUS; spent += autonegSliceUS {
		st = h.mdioRead(miiPhyAddr, miiStatus)
		if st&miiStAutonegDone != 0 {
			done = true
			break
		}
		h.bus.Delay(autonegSliceUS)
	}
	if !done || st&miiStLinkUp == 0 {
		f.setState(MediaNoLink)
		return fmt.Errorf("autonegotiation did not complete: %w", ErrLinkDown)
	}

	// Highest common ability wins: 100 full, 100 half, 10 full, 10 half.
	lpa := h.mdioRead(miiPhyAddr, miiLinkPartner)
	speed100 := lpa&(miiLpa100Full|miiLpa100Half) != 0
	full := lpa&miiLpa100Full != 0 ||
		(!speed100 && lpa&miiLpa10Full != 0)
	f.programDuplex(full)

	h.l.WithFields(h.fields()).WithFields(logrus.Fields{
		"speed100":   speed100,
		"fullDuplex": full,
	}).Info("Link negotiated")
	f.setState(MediaLinked)
	return nil
}

// programDuplex sets the MAC control full-duplex bit in window 3 to match
// the negotiated result.
func (f *MediaFSM) programDuplex(full bool) {
	h := f.h
	h.SelectWindow(3)
	ctl := h.bus.Inw(h.port(regW3MacCtrl))
	if full {
		ctl |= macCtrlFullDuplex
	} else {
		ctl &^= macCtrlFullDuplex
	}
	h.bus.Outw(h.port(regW3MacCtrl), ctl)
	h.fullDuplex = full
}

// linkStillUp samples the selected transceiver's link indication.
func (f *MediaFSM) linkStillUp() bool {
	h := f.h
	switch f.port {
	case MediaTenBaseT:
		h.SelectWindow(4)
		return h.bus.Inw(h.port(regMedia))&mediaLinkDetect != 0
	case MediaMii100:
		return h.mdioRead(miiPhyAddr, miiStatus)&miiStLinkUp != 0
	default:
		// Coax and AUI have no link indication.
		return true
	}
}

// Recheck is the mainline link watchdog: on loss, the receiver and
// transmitter are taken down, reset, and the probe runs again. The caller
// bounds the call rate; a failed re-probe leaves the machine in NoLink for
// the next round.
func (f *MediaFSM) Recheck() error {
	if f.state == MediaLinked && f.linkStillUp() {
		return nil
	}
	h := f.h
	if f.state == MediaLinked {
		h.l.WithFields(h.fields()).Warn("Link lost, re-probing")
	}
	f.setState(MediaNoLink)
	_ = h.IssueCommand(cmdRxDisable, 0)
	_ = h.IssueCommand(cmdTxDisable, 0)
	if err := h.IssueCommand(cmdRxReset, 0); err != nil {
		return err
	}
	if err := h.IssueCommand(cmdTxReset, 0); err != nil {
		return err
	}
	if err := f.Configure(); err != nil {
		return err
	}
	if err := h.IssueCommand(cmdRxEnable, 0); err != nil {
		return err
	}
	return h.IssueCommand(cmdTxEnable, 0)
}
