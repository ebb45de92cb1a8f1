package iobus

// Register-level constants for the simulated EtherLink III family parts.
// These are the device's own view of the protocol, kept separate from the
// driver's constants on purpose: the two sides have to agree on the wire,
// not on a shared Go identifier.

const (
	simCmdPort = 0x0E // command on write, status on read, every window

	simOpReset         = 0 << 11
	simOpSelectWindow  = 1 << 11
	simOpStartCoax     = 2 << 11
	simOpRxDisable     = 3 << 11
	simOpRxEnable      = 4 << 11
	simOpRxReset       = 5 << 11
	simOpUpDownCtl     = 6 << 11 // +0 UpStall +1 UpUnstall +2 DownStall +3 DownUnstall
	simOpRxDiscard     = 8 << 11
	simOpTxEnable      = 9 << 11
	simOpTxDisable     = 10 << 11
	simOpTxReset       = 11 << 11
	simOpReqIntr       = 12 << 11
	simOpAckIntr       = 13 << 11
	simOpSetIntrEnable = 14 << 11
	simOpSetStatusEnb  = 15 << 11
	simOpSetRxFilter   = 16 << 11
	simOpSetRxEarly    = 17 << 11
	simOpSetTxAvail    = 18 << 11
	simOpSetTxStart    = 19 << 11
	simOpStartDMA      = 20 << 11
	simOpStatsEnable   = 21 << 11
	simOpStatsDisable  = 22 << 11
	simOpStopCoax      = 23 << 11

	simStIntLatch    = 0x0001
	simStAdapterFail = 0x0002
	simStTxComplete  = 0x0004
	simStTxAvailable = 0x0008
	simStRxComplete  = 0x0010
	simStIntReq      = 0x0040
	simStStatsFull   = 0x0080
	simStDownDone    = 0x0200
	simStUpDone      = 0x0400
	simStCmdBusy     = 0x1000

	simEepromCmd  = 0x0A // window 0
	simEepromData = 0x0C // window 0
	simEepromRead = 0x80

	simFifo       = 0x00 // window 1, 3c509B
	simRxStatus   = 0x08 // window 1
	simTxStatusR  = 0x0B // window 1, byte
	simTxFree     = 0x0C // window 1

	simRxIncomplete = 0x8000
	simRxError      = 0x4000
	simRxLenMask    = 0x07FF

	simTxStComplete = 0x80
	simTxStJabber   = 0x20
	simTxStUnderrun = 0x10
	simTxStMaxColl  = 0x08

	simStationAddr = 0x00 // window 2, bytes 0-5

	simNetDiag   = 0x06 // window 4
	simMediaCtrl = 0x0A // window 4
	simPhysMgmt  = 0x08 // window 4, 3c515 MDIO bit-bang

	simMediaLinkBeatEnable = 0x0080
	simMediaJabberEnable   = 0x0040
	simMediaLinkDetect     = 0x0800

	simMdioClk    = 0x0001
	simMdioData   = 0x0002
	simMdioDirOut = 0x0004
)

// simEepromLayout fills in the words every family member shares.
func simEepromLayout(mac [6]byte, productID uint16) [64]uint16 {
	var e [64]uint16
	e[0] = uint16(mac[0])<<8 | uint16(mac[1])
	e[1] = uint16(mac[2])<<8 | uint16(mac[3])
	e[2] = uint16(mac[4])<<8 | uint16(mac[5])
	e[3] = productID
	e[7] = 0x6D50 // 3Com manufacturer ID
	e[8] = 0x9000 // address configuration
	e[13] = 0x0100 // software config: auto-select enabled
	var sum uint16
	for i := 0; i < 15; i++ {
		sum ^= e[i]
	}
	e[15] = sum>>8 ^ sum&0xFF
	return e
}
