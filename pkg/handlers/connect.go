package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/target"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// commModeOptional marks bit 7 of the CONNECT comm-mode byte: this
// slave implements GET_COMM_MODE_INFO (dynamic DAQ and programming
// support are independently signalled through the resource mask, not
// this bit).
const commModeOptional uint8 = 1 << 7

// Connect implements CONNECT. mode 0 is the normal connection; mode 1
// is the user-defined mode, left for the application to interpret
// (the session only tracks which mode it is in).
func Connect(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	s.Connect(rx[1] == 1)

	commMode := commModeOptional
	if target.ByteOrder == target.ByteOrderBigEndian {
		commMode |= 1
	}
	return ok(tx, s.Cfg.ResourceMask, commMode, s.Cfg.MaxCto, s.Cfg.MaxDto,
		s.Cfg.ProtocolVersionMajor, s.Cfg.ProtocolVersionMinor, 0)
}

// Disconnect implements DISCONNECT, the soft-cancel of §5.
func Disconnect(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if s.PgmActive() {
		return fail(tx, xcperr.ErrPgmActive)
	}
	s.Disconnect()
	return ok(tx)
}

const (
	statusDaqRunning uint8 = 1 << 6
)

// GetStatus implements GET_STATUS, recomputing DAQ_RUNNING on demand
// (property P3).
func GetStatus(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	var status uint8
	if s.DaqRunning() {
		status |= statusDaqRunning
	}
	return ok(tx, status, s.ProtectionMask(), 0, 0, 0)
}

// Synch implements SYNCH, which per §7 origin kind 5 always reports
// ERR_CMD_SYNCH — this is a protocol-defined quirk, not a failure.
func Synch(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	return fail(tx, xcperr.ErrCmdSynch)
}

// GetCommModeInfo implements GET_COMM_MODE_INFO, the handler the
// CONNECT response's commModeOptional bit promises. Neither master
// block mode nor interleaved mode is supported, so those fields are
// always zero.
func GetCommModeInfo(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	const commModeOptionalInfo uint8 = 0 // bit0 MASTER_BLOCK_MODE, bit1 INTERLEAVED_MODE
	return ok(tx, 0, commModeOptionalInfo, 0, 0, 0, 0, xcpDriverVersion)
}

// xcpDriverVersion is the value reported in GET_COMM_MODE_INFO's last
// byte, a free-form slave-driver revision number.
const xcpDriverVersion uint8 = 1
