package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// TransportLayerCmd implements TRANSPORT_LAYER_CMD, dispatching on the
// second payload byte.
func TransportLayerCmd(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	switch rx[1] {
	case wire.TlGetSlaveID:
		return getSlaveID(s, rx, tx)
	case wire.TlGetDaqID:
		return getDaqID(s, rx, tx)
	case wire.TlSetDaqID:
		return setDaqID(s, rx, tx)
	default:
		return fail(tx, xcperr.ErrCmdUnknown)
	}
}

// getSlaveID implements the GET_SLAVE_ID sub-command: rx is
// [PID, TL_GET_SLAVE_ID, 'X','C','P', mode]. Mode 0 echoes the
// discriminator plus the CMD channel msg-id; mode 1 (the "inverse
// echo") is only accepted immediately after a mode-0 request and
// replies with the one's-complement of the discriminator bytes.
func getSlaveID(s *session.Session, rx []byte, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 6) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	if rx[2] != 'X' || rx[3] != 'C' || rx[4] != 'P' {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	mode := rx[5]
	switch mode {
	case 0:
		s.SetEchoRequested(true)
		payload := make([]byte, 7)
		payload[0], payload[1], payload[2] = 'X', 'C', 'P'
		putLE32(payload[3:], s.Cfg.CmdChannel.MsgID)
		return ok(tx, payload...)
	case 1:
		if !s.EchoRequested() {
			return fail(tx, xcperr.ErrSequence)
		}
		s.SetEchoRequested(false)
		payload := make([]byte, 7)
		payload[0], payload[1], payload[2] = ^uint8('X'), ^uint8('C'), ^uint8('P')
		putLE32(payload[3:], s.Cfg.CmdChannel.MsgID)
		return ok(tx, payload...)
	default:
		return fail(tx, xcperr.ErrCmdSyntax)
	}
}

// getDaqID implements TL_GET_DAQ_ID: rx is [PID, subcmd, daqLo, daqHi].
func getDaqID(s *session.Session, rx []byte, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if daq < 0 || daq >= len(s.DaqLists) {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	payload := make([]byte, 4)
	putLE32(payload, s.DaqLists[daq].MsgID)
	return ok(tx, payload...)
}

// setDaqID implements TL_SET_DAQ_ID: rx is
// [PID, subcmd, daqLo, daqHi, id0..id3]. The id is stored for any
// list, but the CAN bridge routes by it only for dynamic lists.
func setDaqID(s *session.Session, rx []byte, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 8) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if daq < 0 || daq >= len(s.DaqLists) {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	s.DaqLists[daq].MsgID = getLE32(rx[4:8])
	return ok(tx)
}
