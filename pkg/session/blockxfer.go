package session

import "github.com/xcp-tools/xcpslave/pkg/xcperr"

// blockKind distinguishes which command family a block transfer is
// sequencing, since DOWNLOAD_NEXT/UPLOAD accept different MAX_CTO
// framing from a PROGRAM sequence.
type blockKind uint8

const (
	blockNone blockKind = iota
	blockDownload
	blockUpload
	blockProgram
)

// blockTransferState is the bookkeeping DOWNLOAD/DOWNLOAD_MAX,
// UPLOAD and the PROGRAM family share (SHORT_UPLOAD does not use it): how many bytes
// remain of a block announced by the first packet, and whether this
// session is mid-sequence at all. Mirrors the teacher's segmented SDO
// transfer's remaining-bytes counter in pkg/sdo, generalized from one
// fixed object to an arbitrary MTA run.
type blockTransferState struct {
	kind      blockKind
	remaining uint32
}

// Active reports whether a block sequence is outstanding.
func (b blockTransferState) Active() bool { return b.kind != blockNone }

// BlockRemaining reports how many bytes remain in whatever block
// transfer is currently outstanding (0 if none).
func (s *Session) BlockRemaining() uint32 { return s.blockXfer.remaining }

// BeginBlock starts a new block transfer of total bytes for kind,
// rejecting a start while another block is still outstanding.
func (s *Session) BeginBlock(kind blockKind, total uint32) error {
	if s.blockXfer.Active() {
		return xcperr.ErrSequence
	}
	s.blockXfer = blockTransferState{kind: kind, remaining: total}
	return nil
}

// AdvanceBlock records that n more bytes of the active block have
// been transferred, completing (and clearing) the sequence once
// remaining reaches zero. Returns the bytes still outstanding.
func (s *Session) AdvanceBlock(kind blockKind, n uint32) (remaining uint32, err error) {
	if s.blockXfer.kind != kind {
		return 0, xcperr.ErrSequence
	}
	if n > s.blockXfer.remaining {
		s.blockXfer = blockTransferState{}
		return 0, xcperr.ErrOutOfRange
	}
	s.blockXfer.remaining -= n
	remaining = s.blockXfer.remaining
	if remaining == 0 {
		s.blockXfer = blockTransferState{}
	}
	return remaining, nil
}

// AbortBlock cancels any in-progress block transfer, used on
// DISCONNECT and on any handler error that must not leave a half
// sequence active.
func (s *Session) AbortBlock() {
	s.blockXfer = blockTransferState{}
}

// The Begin/Advance/Active trios below are the kind-specific faces
// handlers use, keeping blockKind itself unexported.

func (s *Session) BeginUpload(total uint32) error           { return s.BeginBlock(blockUpload, total) }
func (s *Session) AdvanceUpload(n uint32) (uint32, error)    { return s.AdvanceBlock(blockUpload, n) }
func (s *Session) UploadActive() bool                        { return s.blockXfer.kind == blockUpload }

func (s *Session) BeginDownload(total uint32) error        { return s.BeginBlock(blockDownload, total) }
func (s *Session) AdvanceDownload(n uint32) (uint32, error) { return s.AdvanceBlock(blockDownload, n) }
func (s *Session) DownloadActive() bool                     { return s.blockXfer.kind == blockDownload }

func (s *Session) BeginProgramBlock(total uint32) error        { return s.BeginBlock(blockProgram, total) }
func (s *Session) AdvanceProgramBlock(n uint32) (uint32, error) { return s.AdvanceBlock(blockProgram, n) }
func (s *Session) ProgramBlockActive() bool                     { return s.blockXfer.kind == blockProgram }
