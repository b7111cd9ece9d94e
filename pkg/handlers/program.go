package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// ProgramStart implements PROGRAM_START, opening a flash-programming
// sequence that runs until PROGRAM_RESET.
func ProgramStart(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if s.PgmActive() {
		return fail(tx, xcperr.ErrSequence)
	}
	maxCtoPgm, status, err := s.App.ProgramStart()
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	s.SetPgmActive(true)
	s.SetMaxCtoPgm(maxCtoPgm)
	return ok(tx, 0, maxCtoPgm, s.Cfg.MaxDto, 0)
}

func requirePgmActive(s *session.Session, tx []byte) (dispatch.Result, int, bool) {
	if !s.PgmActive() {
		res, n := fail(tx, xcperr.ErrSequence)
		return res, n, false
	}
	return 0, 0, true
}

// ProgramClear implements PROGRAM_CLEAR: rx is [PID, mode, rsvd, rsvd, size0..size3].
func ProgramClear(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if res, n, okActive := requirePgmActive(s, tx); !okActive {
		return res, n
	}
	if !requireLen(rx, 8) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	mode := rx[1]
	size := getLE32(rx[4:8])
	status, err := s.App.ProgramClear(mode, size)
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	return ok(tx)
}

// Program implements PROGRAM: rx is [PID, n, data...], the same
// announce-total/inline-prefix shape as DOWNLOAD; the remainder
// follows via PROGRAM_NEXT.
func Program(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if res, n, okActive := requirePgmActive(s, tx); !okActive {
		return res, n
	}
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	n := int(rx[1])
	if err := s.BeginProgramBlock(uint32(n)); err != nil {
		return fail(tx, err)
	}
	avail := min8(len(rx)-2, n)
	return programChunk(s, tx, rx[2:2+avail])
}

func programChunk(s *session.Session, tx []byte, data []byte) (dispatch.Result, int) {
	status, err := s.App.Program(data)
	if err != nil {
		s.AbortBlock()
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		s.AbortBlock()
		return fail(tx, session.StatusToErr(status))
	}
	left, _ := s.AdvanceProgramBlock(uint32(len(data)))
	if left > 0 {
		return accepted()
	}
	return ok(tx)
}

// ProgramNext continues a PROGRAM sequence: rx is [PID, data...].
func ProgramNext(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !s.ProgramBlockActive() {
		return fail(tx, xcperr.ErrSequence)
	}
	data := rx[1:]
	remaining := s.BlockRemaining()
	if uint32(len(data)) > remaining {
		s.AbortBlock()
		return fail(tx, xcperr.ErrOutOfRange)
	}
	return programChunk(s, tx, data)
}

// ProgramMax is PROGRAM with n implied by the fixed CTO size: rx is
// [PID, data...].
func ProgramMax(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if res, n, okActive := requirePgmActive(s, tx); !okActive {
		return res, n
	}
	data := rx[1:]
	if err := s.BeginProgramBlock(uint32(len(data))); err != nil {
		return fail(tx, err)
	}
	return programChunk(s, tx, data)
}

// ProgramPrepare implements PROGRAM_PREPARE: rx is [PID, rsvd, size0..size3].
func ProgramPrepare(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if res, n, okActive := requirePgmActive(s, tx); !okActive {
		return res, n
	}
	if !requireLen(rx, 6) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	codeSize := getLE32(rx[2:6])
	status, err := s.App.ProgramPrepare(codeSize)
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	return ok(tx)
}

// ProgramFormat implements PROGRAM_FORMAT: rx is [PID, compression,
// encryption, programmingMethod, accessMethod].
func ProgramFormat(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if res, n, okActive := requirePgmActive(s, tx); !okActive {
		return res, n
	}
	if !requireLen(rx, 5) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	status, err := s.App.ProgramFormat(rx[1], rx[2], rx[3], rx[4])
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	return ok(tx)
}

// ProgramReset implements PROGRAM_RESET, which on success ends the
// programming sequence and forces DISCONNECT.
func ProgramReset(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if res, n, okActive := requirePgmActive(s, tx); !okActive {
		return res, n
	}
	status, err := s.App.ProgramReset()
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	result, n := ok(tx)
	s.Disconnect()
	return result, n
}
