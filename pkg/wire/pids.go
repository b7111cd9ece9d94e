// Package wire holds the XCP wire-level constants shared by the CAN
// bridge, the dispatcher and the command handlers: command PIDs,
// response PIDs and the TRANSPORT_LAYER_CMD sub-command bytes, all
// stable numerics straight off the wire rather than anything this
// implementation is free to renumber.
package wire

// Command PIDs (first byte of a CTO sent by the master).
const (
	PidConnect           uint8 = 0xFF
	PidDisconnect         uint8 = 0xFE
	PidGetStatus          uint8 = 0xFD
	PidSynch              uint8 = 0xFC
	PidGetCommModeInfo    uint8 = 0xFB
	PidGetID              uint8 = 0xFA
	PidSetRequest         uint8 = 0xF9
	PidGetSeed            uint8 = 0xF8
	PidUnlock             uint8 = 0xF7
	PidSetMTA             uint8 = 0xF6
	PidUpload             uint8 = 0xF5
	PidShortUpload        uint8 = 0xF4
	PidBuildChecksum      uint8 = 0xF3
	PidTransportLayerCmd  uint8 = 0xF2
	PidUserCmd            uint8 = 0xF1
	PidDownload           uint8 = 0xF0
	PidDownloadNext       uint8 = 0xEF
	PidDownloadMax        uint8 = 0xEE
	PidModifyBits         uint8 = 0xEC
	PidSetCalPage         uint8 = 0xEB
	PidGetCalPage         uint8 = 0xEA
	PidCopyCalPage        uint8 = 0xE4
	PidClearDaqList       uint8 = 0xE3
	PidSetDaqPtr          uint8 = 0xE2
	PidWriteDaq           uint8 = 0xE1
	PidSetDaqListMode     uint8 = 0xE0
	PidStartStopDaqList   uint8 = 0xDE
	PidStartStopSynch     uint8 = 0xDD
	PidGetDaqClock        uint8 = 0xDC
	PidFreeDaq            uint8 = 0xD6
	PidAllocDaq           uint8 = 0xD5
	PidAllocOdt           uint8 = 0xD4
	PidAllocOdtEntry      uint8 = 0xD3
	PidProgramStart       uint8 = 0xD2
	PidProgram            uint8 = 0xD0
	PidProgramReset       uint8 = 0xCF

	// PidCmdLast is the lowest numeric command PID; any CMD-channel
	// frame whose first byte is below this is not a recognized
	// command (§4.E rule 2, §4.F).
	PidCmdLast = PidProgramReset
)

// Extension PIDs: commands the handler catalogue names but the wire
// numeric table does not assign (it is explicitly "selected,
// stable numerics", not exhaustive). Picked from gaps in the unused
// command-PID space, all >= PidCmdLast so the bridge still routes
// them to CMD.
const (
	PidSetSegmentMode      uint8 = 0xED
	PidGetSegmentMode      uint8 = 0xE9
	PidGetDaqProcessorInfo uint8 = 0xDA
	PidGetDaqResolutionInfo uint8 = 0xD9
	PidGetDaqListMode      uint8 = 0xDB
	PidGetDaqListInfo      uint8 = 0xD8
	PidGetDaqEventInfo     uint8 = 0xD7
	PidProgramNext         uint8 = 0xE8
	PidProgramMax          uint8 = 0xE7
	PidProgramPrepare      uint8 = 0xE6
	PidProgramFormat       uint8 = 0xE5
	PidProgramClear        uint8 = 0xD1
)

// GetCalPage/SetCalPage/GetDaqListInfo etc. share extra PID-like
// sub-codes not given a dedicated wire PID of their own; their
// request shape is decoded by the handler directly from the payload.

// Response PIDs (first byte of a CTO sent by the slave).
const (
	RespOK             uint8 = 0xFF
	RespError          uint8 = 0xFE
	RespEvent          uint8 = 0xFD
	RespServiceRequest uint8 = 0xFC
)

// Event codes carried in an EVENT (0xFD) response.
const (
	EvCmdPending uint8 = 0x05
)

// TRANSPORT_LAYER_CMD sub-commands (second payload byte).
const (
	TlGetSlaveID uint8 = 0xFF
	TlGetDaqID   uint8 = 0xFE
	TlSetDaqID   uint8 = 0xFD
)

// SET_REQUEST mode bits (first payload byte after the PID).
const (
	ReqStoreCalAll uint8 = 1 << 0
	ReqStoreDaq    uint8 = 1 << 1
	ReqClearDaq    uint8 = 1 << 2
)

// START_STOP_DAQ_LIST mode byte.
const (
	SsdSelect uint8 = 0
	SsdStart  uint8 = 1
	SsdStop   uint8 = 2
)

// START_STOP_SYNCH mode byte.
const (
	SsStopAll       uint8 = 0
	SsStartSelected uint8 = 1
	SsStopSelected  uint8 = 2
)
