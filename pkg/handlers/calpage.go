package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// SetCalPage implements SET_CAL_PAGE: rx is [PID, mode, segment, page].
func SetCalPage(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	if err := s.SetCalPage(rx[2], rx[3], rx[1]); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

// GetCalPage implements GET_CAL_PAGE: rx is [PID, mode, segment].
func GetCalPage(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 3) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	page, err := s.GetCalPage(rx[2], rx[1])
	if err != nil {
		return fail(tx, err)
	}
	return ok(tx, 0, page)
}

// CopyCalPage implements COPY_CAL_PAGE: rx is [PID, srcSeg, srcPage, dstSeg, dstPage].
func CopyCalPage(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 5) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	if err := s.CopyCalPage(rx[1], rx[2], rx[3], rx[4]); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

// SetSegmentMode implements SET_SEGMENT_MODE: rx is [PID, mode, segment].
// The only segment-mode bit this implementation exposes is FREEZE,
// which is an action (SET_REQUEST STORE_CAL) rather than persisted
// per-segment state, so this is a bounds-checked accept.
func SetSegmentMode(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 3) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	if int(rx[2]) >= len(s.Segments) {
		return fail(tx, xcperr.ErrSegmentNotValid)
	}
	return ok(tx)
}

// GetSegmentMode implements GET_SEGMENT_MODE: rx is [PID, rsvd, segment].
func GetSegmentMode(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 3) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	if int(rx[2]) >= len(s.Segments) {
		return fail(tx, xcperr.ErrSegmentNotValid)
	}
	return ok(tx, 0, 0)
}
