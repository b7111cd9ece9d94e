package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

func min8(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SetMTA implements SET_MTA: rx layout is [PID, rsvd, rsvd, ext, addr0..addr3].
func SetMTA(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 8) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	ext := rx[3]
	addr := getLE32(rx[4:8])
	if addr == 0 {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	effective, status, err := s.App.ConvertAddress(addr, ext)
	if err != nil {
		return fail(tx, err)
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	s.SetMTA(effective, ext)
	return ok(tx)
}

// Upload implements UPLOAD: rx is [PID, n] on the opening call; on a
// re-invocation the dispatcher passes the same command bytes again and
// they are ignored (the re-entry is driven by prevCmd, not by rx
// content — §9 "coroutine-style progress").
func Upload(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if prevCmd != session.CurrCmd {
		if !requireLen(rx, 2) {
			return fail(tx, xcperr.ErrCmdSyntax)
		}
		if err := s.BeginUpload(uint32(rx[1])); err != nil {
			return fail(tx, err)
		}
	}
	return uploadChunk(s, tx, len(tx)-1)
}

// ShortUpload is UPLOAD without block mode: rx carries (n, ext, addr)
// and reads directly without touching the session MTA sequence.
func ShortUpload(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 8) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	n := int(rx[1])
	ext := rx[3]
	addr := getLE32(rx[4:8])
	if n > len(tx)-1 {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	buf := make([]byte, n)
	status, err := s.App.Read(addr, ext, buf)
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	return ok(tx, buf...)
}

func uploadChunk(s *session.Session, tx []byte, maxPayload int) (dispatch.Result, int) {
	remaining := s.BlockRemaining()
	chunk := min8(maxPayload, int(remaining))
	addr, ext := s.MTA()
	status, err := s.App.Read(addr, ext, tx[1:1+chunk])
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
	s.AdvanceMTA(uint32(chunk))
	left, _ := s.AdvanceUpload(uint32(chunk))
	if left > 0 {
		return reinvoke(tx, tx[1:1+chunk]...)
	}
	return ok(tx, tx[1:1+chunk]...)
}

// BuildChecksum implements BUILD_CHECKSUM: rx is [PID, rsvd,rsvd,rsvd, size0..size3].
func BuildChecksum(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 8) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	size := getLE32(rx[4:8])
	if size > s.Cfg.MaxChecksumBlockSize {
		tx[0] = wire.RespError
		tx[1] = uint8(xcperr.ErrOutOfRange)
		putLE32(tx[2:6], s.Cfg.MaxChecksumBlockSize)
		return dispatch.RxReady | dispatch.TxReady, 6
	}
	addr, ext := s.MTA()
	status, kind, value, err := s.App.BuildChecksum(addr, ext, size)
	if err != nil {
		return fail(tx, err)
	}
	if status == session.Busy {
		return suspended()
	}
	if status != session.Finished {
		return fail(tx, session.StatusToErr(status))
	}
	s.AdvanceMTA(size)
	payload := make([]byte, 5)
	payload[0] = uint8(kind)
	putLE32(payload[1:], value)
	return ok(tx, payload...)
}

// Download implements DOWNLOAD: rx is [PID, n, data...], where n is
// the total block size and the inline data is just its first
// maxCto-2 bytes — the rest follows via DOWNLOAD_NEXT.
func Download(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	n := int(rx[1])
	if err := s.BeginDownload(uint32(n)); err != nil {
		return fail(tx, err)
	}
	avail := min8(len(rx)-2, n)
	return downloadChunk(s, tx, rx[2:2+avail])
}

func downloadChunk(s *session.Session, tx []byte, data []byte) (dispatch.Result, int) {
	addr, ext := s.MTA()
	status, err := s.App.Write(addr, ext, data)
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
	s.AdvanceMTA(uint32(len(data)))
	left, _ := s.AdvanceDownload(uint32(len(data)))
	if left > 0 {
		return accepted()
	}
	return ok(tx)
}

// DownloadNext continues a DOWNLOAD sequence (DOWNLOAD_MAX always
// completes within its own frame, so it leaves nothing to continue); rx is
// [PID, data...] with no explicit length byte — the remaining count
// tracked by the session decides how much of rx to consume.
func DownloadNext(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !s.DownloadActive() {
		return fail(tx, xcperr.ErrSequence)
	}
	data := rx[1:]
	remaining := s.BlockRemaining()
	if uint32(len(data)) > remaining {
		s.AbortBlock()
		return fail(tx, xcperr.ErrOutOfRange)
	}
	return downloadChunk(s, tx, data)
}

// DownloadMax is DOWNLOAD with n implied by the fixed CTO size (the
// payload fills the whole frame, no explicit length byte): rx is
// [PID, data...].
func DownloadMax(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	data := rx[1:]
	if err := s.BeginDownload(uint32(len(data))); err != nil {
		return fail(tx, err)
	}
	return downloadChunk(s, tx, data)
}

// ModifyBits implements MODIFY_BITS: rx is [PID, shift, andLo,andHi, xorLo,xorHi].
// MTA is left unchanged, per the command table.
func ModifyBits(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 6) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	shift := rx[1]
	and := uint16(rx[2]) | uint16(rx[3])<<8
	xor := uint16(rx[4]) | uint16(rx[5])<<8
	addr, ext := s.MTA()
	status, err := s.App.ModifyBits(addr, ext, shift, and, xor)
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
