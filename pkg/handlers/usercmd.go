package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// UserCmd implements USER_CMD, a pure pass-through to the application:
// rx is [PID, subCommand, data...].
func UserCmd(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	response, status, err := s.App.UserCmd(rx[1], rx[2:])
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	return ok(tx, response...)
}
