package etherlink

// Register map for the EtherLink III family. The command/status register is
// reachable in every window; everything else depends on the window selected
// through it. Commands carry a 5-bit opcode in the high bits and an 11-bit
// parameter below it.

type regOffset uint16

const (
	regCommand regOffset = 0x0E // write: command, read: status

	// Window 0: configuration and EEPROM.
	regEepromCmd  regOffset = 0x0A
	regEepromData regOffset = 0x0C

	// Window 1: operation. The 3c515 moves these up by 0x10.
	regTxFifo   regOffset = 0x00
	regRxFifo   regOffset = 0x00
	regRxStatus regOffset = 0x08
	regTxStatus regOffset = 0x0B
	regTxFree   regOffset = 0x0C

	// Window 2: station address, bytes 0-5.

	// Window 3 (3c515): internal configuration and MAC control.
	regW3MacCtrl regOffset = 0x06

	// Window 4: media.
	regNetDiag  regOffset = 0x06
	regPhysMgmt regOffset = 0x08 // 3c515 MDIO bit-bang
	regMedia    regOffset = 0x0A

	// Window 6: statistics, cleared on read.
	regStatsCarrierLost  regOffset = 0x00
	regStatsSqeErrors    regOffset = 0x01
	regStatsMultiColl    regOffset = 0x02
	regStatsSingleColl   regOffset = 0x03
	regStatsLateColl     regOffset = 0x04
	regStatsRxOverruns   regOffset = 0x05
	regStatsGoodTx       regOffset = 0x06
	regStatsGoodRx       regOffset = 0x07
	regStatsTxDeferrals  regOffset = 0x08
	regStatsRxOctetsLo   regOffset = 0x0A
	regStatsTxOctetsLo   regOffset = 0x0C

	// Full-window registers, 3c515 only.
	regDownListPtr regOffset = 0x404
	regUpListPtr   regOffset = 0x418
)

// Command opcodes, already shifted into the opcode field.
type opcode uint16

const (
	cmdGlobalReset    opcode = 0 << 11
	cmdSelectWindow   opcode = 1 << 11
	cmdStartCoax      opcode = 2 << 11
	cmdRxDisable      opcode = 3 << 11
	cmdRxEnable       opcode = 4 << 11
	cmdRxReset        opcode = 5 << 11
	cmdUpStall        opcode = 6 << 11
	cmdUpUnstall      opcode = 6<<11 + 1
	cmdDownStall      opcode = 6<<11 + 2
	cmdDownUnstall    opcode = 6<<11 + 3
	cmdRxDiscard      opcode = 8 << 11
	cmdTxEnable       opcode = 9 << 11
	cmdTxDisable      opcode = 10 << 11
	cmdTxReset        opcode = 11 << 11
	cmdReqIntr        opcode = 12 << 11
	cmdAckIntr        opcode = 13 << 11
	cmdSetIntrEnable  opcode = 14 << 11
	cmdSetStatusEnb   opcode = 15 << 11
	cmdSetRxFilter    opcode = 16 << 11
	cmdSetRxEarly     opcode = 17 << 11
	cmdSetTxAvail     opcode = 18 << 11
	cmdSetTxStart     opcode = 19 << 11
	cmdStatsEnable    opcode = 21 << 11
	cmdStatsDisable   opcode = 22 << 11
	cmdStopCoax       opcode = 23 << 11

	cmdParamMask uint16 = 0x07FF
)

// Status register bits.
const (
	statusIntLatch       uint16 = 0x0001
	statusAdapterFailure uint16 = 0x0002
	statusTxComplete     uint16 = 0x0004
	statusTxAvailable    uint16 = 0x0008
	statusRxComplete     uint16 = 0x0010
	statusRxEarly        uint16 = 0x0020
	statusIntReq         uint16 = 0x0040
	statusStatsFull      uint16 = 0x0080
	statusDownComplete   uint16 = 0x0200
	statusUpComplete     uint16 = 0x0400
	statusCmdInProgress  uint16 = 0x1000
)

// RX status word.
const (
	rxStatIncomplete uint16 = 0x8000
	rxStatError      uint16 = 0x4000
	rxStatLenMask    uint16 = 0x07FF
	rxStatCodeShift         = 11
	rxStatCodeMask   uint16 = 0x7
)

// TX status byte.
const (
	txStatComplete      uint8 = 0x80
	txStatIntrRequested uint8 = 0x40
	txStatJabber        uint8 = 0x20
	txStatUnderrun      uint8 = 0x10
	txStatMaxCollisions uint8 = 0x08
	txStatOverflow      uint8 = 0x04
)

// EEPROM access. The read command is the read flag OR'd with a 6-bit word
// address; the busy bit lives in the command register.
const (
	eepromRead     uint16 = 0x80
	eepromAddrMask uint16 = 0x3F
	eepromBusy     uint16 = 0x8000

	eepromWordMacLo     = 0x00
	eepromWordMacMid    = 0x01
	eepromWordMacHi     = 0x02
	eepromWordProductID = 0x03
	eepromWordMfgID     = 0x07
	eepromWordAddrCfg   = 0x08
	eepromWordSwConfig  = 0x0D
	eepromWordChecksum  = 0x0F

	mfgID3Com uint16 = 0x6D50

	productIDMask uint16 = 0xF0FF // low nibble of the high byte is the revision
	productID509B uint16 = 0x5090
	productID515  uint16 = 0x5051
)

// Window 4 media control bits.
const (
	mediaSqeEnable      uint16 = 0x0008
	mediaJabberEnable   uint16 = 0x0040
	mediaLinkBeatEnable uint16 = 0x0080
	mediaLinkDetect     uint16 = 0x0800
)

// Window 3 MAC control.
const macCtrlFullDuplex uint16 = 0x0020

// MII PHY registers and bits (IEEE 802.3u).
const (
	miiControl     uint8 = 0x00
	miiStatus      uint8 = 0x01
	miiPhyID1      uint8 = 0x02
	miiAdvertise   uint8 = 0x04
	miiLinkPartner uint8 = 0x05

	miiCtlReset      uint16 = 0x8000
	miiCtlSpeed100   uint16 = 0x2000
	miiCtlAutonegEn  uint16 = 0x1000
	miiCtlRestartAN  uint16 = 0x0200
	miiCtlFullDuplex uint16 = 0x0100

	miiStAutonegDone uint16 = 0x0020
	miiStLinkUp      uint16 = 0x0004

	miiLpa100Full uint16 = 0x0100
	miiLpa100Half uint16 = 0x0080
	miiLpa10Full  uint16 = 0x0040
	miiLpa10Half  uint16 = 0x0020

	// MDIO bit-bang lines in the window 4 physical management register.
	mdioShiftClk  uint16 = 0x0001
	mdioData      uint16 = 0x0002
	mdioDirWrite  uint16 = 0x0004
	mdioDataWrite uint16 = 0x0002

	miiPhyAddr uint8 = 24 // the 3c515 internal PHY
)

// RX filter bits.
const (
	rxFilterStation     uint16 = 0x0001
	rxFilterMulticast   uint16 = 0x0002
	rxFilterBroadcast   uint16 = 0x0004
	rxFilterPromiscuous uint16 = 0x0008
)

// ISA bus-master addressing limits.
const (
	isaDMAAddrLimit uint32 = 1 << 24  // 24 address lines
	isaDMABoundary  uint32 = 1 << 16  // transfers must not cross 64KB
)

// Frame size limits.
const (
	minFrameSize = 60
	maxFrameSize = 1514
)

func makeCommand(op opcode, param uint16) uint16 {
	return uint16(op) | param&cmdParamMask
}
