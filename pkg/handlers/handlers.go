// Package handlers implements component G: the command catalogue of
// §4.G, one function per PID, each built to the dispatch.Handler
// signature. Grounded on the teacher's SDO command table (pkg/sdo's
// per-command-byte switch in processIncoming) but reshaped around
// this protocol's suspend/resume contract instead of SDO's single
// blocking state machine.
package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// All returns the full command registry, ready to hand to dispatch.New.
func All() dispatch.Registry {
	return dispatch.Registry{
		wire.PidConnect:          Connect,
		wire.PidGetCommModeInfo:  GetCommModeInfo,
		wire.PidDisconnect:       Disconnect,
		wire.PidGetStatus:        GetStatus,
		wire.PidSynch:            Synch,
		wire.PidSetMTA:           SetMTA,
		wire.PidUpload:           Upload,
		wire.PidShortUpload:      ShortUpload,
		wire.PidBuildChecksum:    BuildChecksum,
		wire.PidDownload:         Download,
		wire.PidDownloadNext:     DownloadNext,
		wire.PidDownloadMax:      DownloadMax,
		wire.PidModifyBits:       ModifyBits,
		wire.PidSetCalPage:       SetCalPage,
		wire.PidGetCalPage:       GetCalPage,
		wire.PidCopyCalPage:      CopyCalPage,
		wire.PidSetSegmentMode:   SetSegmentMode,
		wire.PidGetSegmentMode:   GetSegmentMode,
		wire.PidClearDaqList:     ClearDaqList,
		wire.PidSetDaqPtr:        SetDaqPtr,
		wire.PidWriteDaq:         WriteDaq,
		wire.PidSetDaqListMode:   SetDaqListMode,
		wire.PidStartStopDaqList: StartStopDaqList,
		wire.PidStartStopSynch:   StartStopSynch,
		wire.PidGetDaqClock:      GetDaqClock,
		wire.PidGetDaqProcessorInfo: GetDaqProcessorInfo,
		wire.PidGetDaqResolutionInfo: GetDaqResolutionInfo,
		wire.PidGetDaqListMode:   GetDaqListMode,
		wire.PidGetDaqListInfo:   GetDaqListInfo,
		wire.PidGetDaqEventInfo:  GetDaqEventInfo,
		wire.PidFreeDaq:          FreeDaq,
		wire.PidAllocDaq:         AllocDaq,
		wire.PidAllocOdt:         AllocOdt,
		wire.PidAllocOdtEntry:    AllocOdtEntry,
		wire.PidGetSeed:          GetSeed,
		wire.PidUnlock:           Unlock,
		wire.PidProgramStart:     ProgramStart,
		wire.PidProgramClear:     ProgramClear,
		wire.PidProgram:          Program,
		wire.PidProgramNext:      ProgramNext,
		wire.PidProgramMax:       ProgramMax,
		wire.PidProgramPrepare:   ProgramPrepare,
		wire.PidProgramFormat:    ProgramFormat,
		wire.PidProgramReset:     ProgramReset,
		wire.PidSetRequest:       SetRequest,
		wire.PidTransportLayerCmd: TransportLayerCmd,
		wire.PidUserCmd:          UserCmd,
	}
}

// ok writes a bare OK response (no extra payload bytes beyond those
// copied from extra), committing RX and TX.
func ok(tx []byte, extra ...byte) (dispatch.Result, int) {
	tx[0] = wire.RespOK
	n := copy(tx[1:], extra)
	return dispatch.RxReady | dispatch.TxReady, n + 1
}

// fail reports err as an ERROR response, committing RX and TX.
func fail(tx []byte, err error) (dispatch.Result, int) {
	tx[0] = wire.RespError
	tx[1] = uint8(xcperr.AsCode(err))
	return dispatch.RxReady | dispatch.TxReady, 2
}

// reinvoke commits a response but leaves RX queued, asking the
// dispatcher to call this handler again against the same command
// bytes next tick (block UPLOAD).
func reinvoke(tx []byte, extra ...byte) (dispatch.Result, int) {
	tx[0] = wire.RespOK
	n := copy(tx[1:], extra)
	return dispatch.TxReady, n + 1
}

// accepted pops RX with no reply this round: a block-transfer segment
// was accepted but more is expected (DOWNLOAD, DOWNLOAD_NEXT, PROGRAM,
// PROGRAM_NEXT).
func accepted() (dispatch.Result, int) { return dispatch.RxReady, 0 }

// suspended leaves both RX and TX queued: an asynchronous application
// callback is still pending.
func suspended() (dispatch.Result, int) { return 0, 0 }

func putLE16(buf []byte, v uint16) {
	buf[0] = uint8(v)
	buf[1] = uint8(v >> 8)
}

func putLE32(buf []byte, v uint32) {
	buf[0] = uint8(v)
	buf[1] = uint8(v >> 8)
	buf[2] = uint8(v >> 16)
	buf[3] = uint8(v >> 24)
}

func getLE32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// requireLen reports whether rx carries at least n bytes.
func requireLen(rx []byte, n int) bool { return len(rx) >= n }
