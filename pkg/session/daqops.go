package session

import (
	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// clearDaqList wipes a list's ODT contents and maxOdtIdUsed. When
// preserveMode is true it implements CLEAR_DAQ_LIST's documented
// quirk (OQ1): the mode survives the clear. With preserveMode false
// the mode is reset to its configured default (only DIRECTION, for a
// STIM list). The event is left unchanged in both cases; Disconnect
// calls this with preserveMode=false and then restores the event
// itself, giving the full reset CLEAR_DAQ_LIST deliberately does not.
func (s *Session) clearDaqList(idx int, preserveMode bool) {
	list := &s.DaqLists[idx]
	for o := range list.Odts {
		for e := range list.Odts[o].Entries {
			list.Odts[o].Entries[e] = OdtEntry{}
		}
	}
	if s.Cfg.DaqLists[idx].Dynamic {
		list.Odts = nil
		list.allocStage = allocNone
		list.allocOdtIdx = 0
	}
	list.MaxOdtIdUsed = 0
	list.ptr = daqPtr{}
	if !preserveMode {
		list.Mode = 0
		if s.Cfg.DaqLists[idx].Direction == xcpconf.DirectionStim {
			list.Mode |= ModeDirection
		}
	}
}

// ClearDaqList implements the CLEAR_DAQ_LIST handler contract.
func (s *Session) ClearDaqList(idx int) error {
	if idx < 0 || idx >= len(s.DaqLists) {
		return xcperr.ErrOutOfRange
	}
	s.clearDaqList(idx, s.Cfg.ClearDaqListPreservesMode)
	return nil
}

// SetDaqPtr validates (daq, odt, entry) and repoints the list's
// cursor used by subsequent WRITE_DAQ calls.
func (s *Session) SetDaqPtr(daq int, odt int, entry int) error {
	if daq < 0 || daq >= len(s.DaqLists) {
		return xcperr.ErrOutOfRange
	}
	list := &s.DaqLists[daq]
	if list.Running() {
		return xcperr.ErrDaqActive
	}
	if odt < 0 || odt >= len(list.Odts) {
		return xcperr.ErrOutOfRange
	}
	if entry < 0 || entry >= len(list.Odts[odt].Entries) {
		return xcperr.ErrOutOfRange
	}
	list.ptr = daqPtr{odt: odt, entry: entry}
	s.daqPtrList = daq
	return nil
}

// WriteDaqByte packs one byte-mode entry (length 1..8) at the current
// pointer and advances the pointer within the current ODT.
func (s *Session) WriteDaqByte(addr uint32, ext uint8, length uint8) error {
	list, entry, err := s.ptrEntry()
	if err != nil {
		return err
	}
	if list.Running() {
		return xcperr.ErrDaqActive
	}
	if length < 1 || length > 8 {
		return xcperr.ErrOutOfRange
	}
	*entry = OdtEntry{Addr: addr, Ext: ext, Length: length}
	s.bumpMaxOdtIdUsed(list)
	s.advanceDaqPtr(list)
	return nil
}

// WriteDaqBit packs one bit-mode entry; bitOffset is normalized to
// 0..7 by advancing addr in 8-bit steps (little-endian: addr grows;
// big-endian targets would instead shrink addr — see B2).
func (s *Session) WriteDaqBit(addr uint32, ext uint8, bitOffset uint8, littleEndian bool) error {
	list, entry, err := s.ptrEntry()
	if err != nil {
		return err
	}
	if list.Running() {
		return xcperr.ErrDaqActive
	}
	byteAdvance := uint32(bitOffset / 8)
	normalized := bitOffset % 8
	if littleEndian {
		addr += byteAdvance
	} else {
		addr -= byteAdvance
	}
	*entry = OdtEntry{Addr: addr, Ext: ext, IsBit: true, BitOffset: normalized, Length: 1}
	s.bumpMaxOdtIdUsed(list)
	s.advanceDaqPtr(list)
	return nil
}

// ptrEntry resolves the list and entry the current DAQ pointer (as
// last set by SetDaqPtr) addresses. WRITE_DAQ with no prior
// SET_DAQ_PTR in this connection is a sequence error.
func (s *Session) ptrEntry() (*DaqListState, *OdtEntry, error) {
	if s.daqPtrList < 0 || s.daqPtrList >= len(s.DaqLists) {
		return nil, nil, xcperr.ErrSequence
	}
	list := &s.DaqLists[s.daqPtrList]
	if list.ptr.odt >= len(list.Odts) || list.ptr.entry >= len(list.Odts[list.ptr.odt].Entries) {
		return nil, nil, xcperr.ErrSequence
	}
	return list, &list.Odts[list.ptr.odt].Entries[list.ptr.entry], nil
}

func (s *Session) bumpMaxOdtIdUsed(list *DaqListState) {
	if uint8(list.ptr.odt) >= list.MaxOdtIdUsed {
		list.MaxOdtIdUsed = uint8(list.ptr.odt) + 1
	}
}

func (s *Session) advanceDaqPtr(list *DaqListState) {
	list.ptr.entry++
	if list.ptr.entry >= len(list.Odts[list.ptr.odt].Entries) {
		list.ptr.entry = len(list.Odts[list.ptr.odt].Entries) - 1
	}
}

// --- Dynamic DAQ allocation (FREE_DAQ / ALLOC_DAQ / ALLOC_ODT / ALLOC_ODT_ENTRY) ---

// FreeDaq collapses every dynamic list back to "none": no ODTs, no
// entries, allocation stage reset.
func (s *Session) FreeDaq() {
	for i := range s.DaqLists {
		if !s.Cfg.DaqLists[i].Dynamic {
			continue
		}
		s.clearDaqList(i, false)
	}
}

// AllocDaq pre-sizes list idx's ODT slice to numOdt, the first step of
// the strict ALLOC sequence.
func (s *Session) AllocDaq(idx int, numOdt int) error {
	if idx < 0 || idx >= len(s.DaqLists) || !s.Cfg.DaqLists[idx].Dynamic {
		return xcperr.ErrOutOfRange
	}
	if numOdt < 0 || numOdt > s.Cfg.DaqLists[idx].MaxOdt {
		return xcperr.ErrMemoryOverflow
	}
	list := &s.DaqLists[idx]
	list.Odts = make([]Odt, numOdt)
	list.allocStage = allocDaqDone
	list.allocOdtIdx = 0
	return nil
}

// AllocOdt pre-sizes ODT odtIdx of list idx to numEntries. Must
// follow AllocDaq for that list (P4: reversed order is ERR_SEQUENCE).
func (s *Session) AllocOdt(idx int, odtIdx int, numEntries int) error {
	if idx < 0 || idx >= len(s.DaqLists) || !s.Cfg.DaqLists[idx].Dynamic {
		return xcperr.ErrOutOfRange
	}
	list := &s.DaqLists[idx]
	if list.allocStage == allocNone {
		return xcperr.ErrSequence
	}
	if odtIdx < 0 || odtIdx >= len(list.Odts) {
		return xcperr.ErrOutOfRange
	}
	if numEntries < 0 || numEntries > s.Cfg.DaqLists[idx].EntriesPerOdt {
		return xcperr.ErrMemoryOverflow
	}
	list.Odts[odtIdx].Entries = make([]OdtEntry, numEntries)
	list.allocStage = allocOdtDone
	list.allocOdtIdx = odtIdx
	return nil
}

// AllocOdtEntry is a validation-only step confirming entryIdx is
// within the most recently AllocOdt'd ODT; WRITE_DAQ does the actual
// write. Must follow AllocOdt for the same ODT.
func (s *Session) AllocOdtEntry(idx int, odtIdx int, entryIdx int) error {
	if idx < 0 || idx >= len(s.DaqLists) || !s.Cfg.DaqLists[idx].Dynamic {
		return xcperr.ErrOutOfRange
	}
	list := &s.DaqLists[idx]
	if list.allocStage != allocOdtDone || list.allocOdtIdx != odtIdx {
		return xcperr.ErrSequence
	}
	if odtIdx < 0 || odtIdx >= len(list.Odts) {
		return xcperr.ErrOutOfRange
	}
	if entryIdx < 0 || entryIdx >= len(list.Odts[odtIdx].Entries) {
		return xcperr.ErrOutOfRange
	}
	return nil
}
