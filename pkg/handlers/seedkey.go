package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// GetSeed implements GET_SEED: rx is [PID, mode, resource]. mode 0
// starts a new challenge, mode 1 requests the next chunk of one
// already in progress.
func GetSeed(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 3) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	first := rx[1] == 0
	resource := rx[2]
	buf := make([]byte, len(tx)-2)
	n, err := s.GetSeed(resource, first, buf)
	if err != nil {
		return fail(tx, err)
	}
	return ok(tx, append([]byte{uint8(n)}, buf[:n]...)...)
}

// Unlock implements UNLOCK: rx is [PID, keyLen, key...]. A failed
// unlock forces DISCONNECT, per the resource remaining locked until a
// fresh CONNECT.
func Unlock(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	keyLen := int(rx[1])
	if !requireLen(rx, 2+keyLen) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	done, mask, err := s.Unlock(rx[2 : 2+keyLen])
	if err != nil {
		s.Disconnect()
		return fail(tx, err)
	}
	if !done {
		return ok(tx, s.Cfg.ResourceMask)
	}
	return ok(tx, mask)
}
