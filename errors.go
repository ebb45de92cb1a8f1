package etherlink

import "errors"

// Bring-up failures propagate to the caller; everything that happens after
// the device is operational is recovered locally and shows up only in the
// counters.
var (
	// ErrHardwareTimeout means a command's busy bit never cleared within
	// its poll ceiling. Fatal during bring-up, logged afterward.
	ErrHardwareTimeout = errors.New("hardware command timeout")

	// ErrEepromTimeout means the EEPROM busy bit never cleared.
	ErrEepromTimeout = errors.New("eeprom read timeout")

	// ErrDeviceNotRecognized means the EEPROM identity word did not match
	// the expected product for the configured variant. Never retried.
	ErrDeviceNotRecognized = errors.New("device not recognized")

	// ErrLinkDown means the media probe found no usable medium. The media
	// state machine keeps retrying at a bounded rate.
	ErrLinkDown = errors.New("no link on any medium")

	// ErrPatchVerification means a dispatch site read back a variant other
	// than the one installed. The site is already rolled back to the safe
	// path when this is returned.
	ErrPatchVerification = errors.New("dispatch patch verification failed")
)
