package handlers

import (
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/target"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

// ClearDaqList implements CLEAR_DAQ_LIST: rx is [PID, rsvd, daqLo, daqHi].
func ClearDaqList(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if err := s.ClearDaqList(daq); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

// SetDaqPtr implements SET_DAQ_PTR: rx is [PID, rsvd, daqLo, daqHi, odt, entry].
func SetDaqPtr(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 6) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if err := s.SetDaqPtr(daq, int(rx[4]), int(rx[5])); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

// WriteDaq implements WRITE_DAQ: rx is [PID, bitOffset, size, ext, addr0..addr3].
// bitOffset 0xFF selects byte mode (size is the entry length); any
// other value selects bit mode (size is ignored, per B2 the offset is
// normalized onto addr).
func WriteDaq(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 8) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	bitOffset := rx[1]
	size := rx[2]
	ext := rx[3]
	addr := getLE32(rx[4:8])

	var err error
	if bitOffset == 0xFF {
		err = s.WriteDaqByte(addr, ext, size)
	} else {
		littleEndian := target.ByteOrder == target.ByteOrderLittleEndian
		err = s.WriteDaqBit(addr, ext, bitOffset, littleEndian)
	}
	if err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

const daqModeMutable = session.ModeResume | session.ModePidOff | session.ModeTimestamp

// SetDaqListMode implements SET_DAQ_LIST_MODE: rx is
// [PID, mode, daqLo, daqHi, event, prescaler, priority]. Only the
// RESUME/PID_OFF/TIMESTAMP bits are mutable here; RUNNING and
// SELECTED are owned by START_STOP_DAQ_LIST/START_STOP_SYNCH, and
// DIRECTION is fixed by configuration.
func SetDaqListMode(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 7) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	mode := rx[1]
	daq := int(le16(rx[2:4]))
	event := rx[4]
	prescaler := rx[5]
	priority := rx[6]

	if daq < 0 || daq >= len(s.DaqLists) {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	if prescaler != 1 || priority != 0 {
		return fail(tx, xcperr.ErrModeNotValid)
	}
	list := &s.DaqLists[daq]
	if list.Running() {
		return fail(tx, xcperr.ErrDaqActive)
	}
	cfgList := s.Cfg.DaqLists[daq]
	if cfgList.EventFixed && event != list.Event {
		return fail(tx, xcperr.ErrModeNotValid)
	}
	list.Mode = (list.Mode &^ daqModeMutable) | (mode & daqModeMutable)
	if !cfgList.EventFixed {
		list.Event = event
	}
	return ok(tx)
}

// GetDaqListMode implements the extension GET_DAQ_LIST_MODE command:
// rx is [PID, rsvd, daqLo, daqHi].
func GetDaqListMode(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if daq < 0 || daq >= len(s.DaqLists) {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	list := s.DaqLists[daq]
	return ok(tx, list.Mode, 0, list.Event, 1, 0)
}

// StartStopDaqList implements START_STOP_DAQ_LIST: rx is
// [PID, mode, daqLo, daqHi].
func StartStopDaqList(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	mode := rx[1]
	daq := int(le16(rx[2:4]))
	if daq < 0 || daq >= len(s.DaqLists) {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	list := &s.DaqLists[daq]
	switch mode {
	case wire.SsdSelect:
		list.Mode |= session.ModeSelected
	case wire.SsdStart:
		list.Mode |= session.ModeRunning
	case wire.SsdStop:
		list.Mode &^= session.ModeRunning
	default:
		return fail(tx, xcperr.ErrModeNotValid)
	}
	return ok(tx, list.FirstPID)
}

// StartStopSynch implements START_STOP_SYNCH: rx is [PID, mode],
// applied to every list currently marked SELECTED; SELECTED is
// always cleared afterward regardless of mode.
func StartStopSynch(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 2) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	mode := rx[1]
	if mode != wire.SsStopAll && mode != wire.SsStartSelected && mode != wire.SsStopSelected {
		return fail(tx, xcperr.ErrModeNotValid)
	}
	for i := range s.DaqLists {
		list := &s.DaqLists[i]
		selected := list.Mode&session.ModeSelected != 0
		switch mode {
		case wire.SsStopAll:
			list.Mode &^= session.ModeRunning
		case wire.SsStartSelected:
			if selected {
				list.Mode |= session.ModeRunning
			}
		case wire.SsStopSelected:
			if selected {
				list.Mode &^= session.ModeRunning
			}
		}
		list.Mode &^= session.ModeSelected
	}
	return ok(tx)
}

// GetDaqClock implements GET_DAQ_CLOCK, writing the current tick
// value at the target's native endianness in the configured width.
func GetDaqClock(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	width := s.Cfg.TimestampWidth
	if width == 0 {
		return fail(tx, xcperr.ErrGeneric)
	}
	value, ok2 := s.Timestamp(width)
	if !ok2 {
		return fail(tx, xcperr.ErrGeneric)
	}
	payload := make([]byte, width)
	for i := uint8(0); i < width; i++ {
		shift := 8 * i
		if target.ByteOrder == target.ByteOrderBigEndian {
			shift = 8 * (width - 1 - i)
		}
		payload[i] = uint8(value >> shift)
	}
	return ok(tx, payload...)
}

const (
	daqPropPidOffSupported    uint8 = 1 << 0
	daqPropTimestampSupported uint8 = 1 << 1
	daqPropBitStimSupported   uint8 = 1 << 2
	daqPropResumeSupported    uint8 = 1 << 3
	daqPropDynamicSupported   uint8 = 1 << 4
)

// GetDaqProcessorInfo implements the extension GET_DAQ_PROCESSOR_INFO.
func GetDaqProcessorInfo(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	props := daqPropPidOffSupported | daqPropTimestampSupported | daqPropBitStimSupported | daqPropResumeSupported
	if s.Cfg.DynamicDaqEnabled {
		props |= daqPropDynamicSupported
	}
	payload := make([]byte, 6)
	payload[0] = props
	putLE16(payload[1:3], uint16(len(s.DaqLists)))
	payload[3] = 1 // minimum DAQ (at least one list)
	return ok(tx, payload...)
}

// GetDaqResolutionInfo implements the extension GET_DAQ_RESOLUTION_INFO.
func GetDaqResolutionInfo(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	return ok(tx, 1, s.Cfg.MaxDto, 1, s.Cfg.MaxDto, s.Cfg.TimestampWidth, 1, 0)
}

// GetDaqEventInfo implements the extension GET_DAQ_EVENT_INFO: rx is
// [PID, rsvd, eventLo, eventHi].
func GetDaqEventInfo(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	event := le16(rx[2:4])
	var channels uint8
	for i := range s.DaqLists {
		if uint16(s.DaqLists[i].Event) == event {
			channels++
		}
	}
	if channels == 0 {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	return ok(tx, 0, channels, 0, 0, 0xFF)
}

// GetDaqListInfo implements the extension GET_DAQ_LIST_INFO: rx is
// [PID, rsvd, daqLo, daqHi].
func GetDaqListInfo(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !requireLen(rx, 4) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if daq < 0 || daq >= len(s.DaqLists) {
		return fail(tx, xcperr.ErrOutOfRange)
	}
	cfgList := s.Cfg.DaqLists[daq]
	list := s.DaqLists[daq]
	var props uint8
	if cfgList.EventFixed {
		props |= 1 << 0
	}
	if cfgList.Dynamic {
		props |= 1 << 1
	}
	if list.IsStim() {
		props |= 1 << 2
	}
	return ok(tx, props, uint8(len(list.Odts)), uint8(cfgList.EntriesPerOdt), list.Event)
}

// FreeDaq implements FREE_DAQ.
func FreeDaq(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !s.Cfg.DynamicDaqEnabled {
		return fail(tx, xcperr.ErrCmdUnknown)
	}
	s.FreeDaq()
	return ok(tx)
}

// AllocDaq implements ALLOC_DAQ, sized to this model's two-level
// allocation hierarchy (list -> ODT count): rx is
// [PID, rsvd, daqLo, daqHi, numOdt].
func AllocDaq(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !s.Cfg.DynamicDaqEnabled {
		return fail(tx, xcperr.ErrCmdUnknown)
	}
	if !requireLen(rx, 5) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if err := s.AllocDaq(daq, int(rx[4])); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

// AllocOdt implements ALLOC_ODT: rx is
// [PID, rsvd, daqLo, daqHi, odtIdx, numEntries].
func AllocOdt(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !s.Cfg.DynamicDaqEnabled {
		return fail(tx, xcperr.ErrCmdUnknown)
	}
	if !requireLen(rx, 6) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if err := s.AllocOdt(daq, int(rx[4]), int(rx[5])); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}

// AllocOdtEntry implements ALLOC_ODT_ENTRY: rx is
// [PID, rsvd, daqLo, daqHi, odtIdx, entryIdx].
func AllocOdtEntry(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (dispatch.Result, int) {
	if !s.Cfg.DynamicDaqEnabled {
		return fail(tx, xcperr.ErrCmdUnknown)
	}
	if !requireLen(rx, 6) {
		return fail(tx, xcperr.ErrCmdSyntax)
	}
	daq := int(le16(rx[2:4]))
	if err := s.AllocOdtEntry(daq, int(rx[4]), int(rx[5])); err != nil {
		return fail(tx, err)
	}
	return ok(tx)
}
