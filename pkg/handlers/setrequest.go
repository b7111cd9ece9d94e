package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// SetRequest implements SET_REQUEST: rx is [PID, mode], mode a bitmask
// of STORE_CAL_ALL/STORE_DAQ/CLEAR_DAQ. Re-invocation on a Busy
// application callback simply repeats the whole sequence; freezing an
// already-frozen page is harmless, so this costs nothing but a
// redundant call.
func SetRequest(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	mode := rx[1]

	if mode&wire.ReqStoreCalAll != 0 {
		for seg := range s.Segments {
			status, err := s.App.FreezePage(uint8(seg))
			if err != nil {
				return fail(tx, err)
			}
			if status == session.Busy {
				return suspended()
			}
			if status != session.Finished {
				return fail(tx, session.StatusToErr(status))
			}
		}
	}
	if mode&wire.ReqStoreDaq != 0 {
		status, err := s.App.StoreDaq()
		if err != nil {
			return fail(tx, err)
		}
		if status == session.Busy {
			return suspended()
		}
		if status != session.Finished {
			return fail(tx, session.StatusToErr(status))
		}
	}
	if mode&wire.ReqClearDaq != 0 {
		status, err := s.App.ClearDaq()
		if err != nil {
			return fail(tx, err)
		}
		if status == session.Busy {
			return suspended()
		}
		if status != session.Finished {
			return fail(tx, session.StatusToErr(status))
		}
	}
	return ok(tx)
}
