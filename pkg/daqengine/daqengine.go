// Package daqengine implements components H and I: the DAQ sampling
// engine and its STIM dual. Both are driven by application-supplied
// event ticks rather than a clock of their own, and both walk the
// same ODT/entry shape — one assembling measurement DTOs from
// application memory, the other deframing stimulation DTOs back into
// it. Grounded on pkg/pdo/tpdo.go's per-entry streamer walk (the DAQ
// direction) and pkg/pdo/rpdo.go's receive-and-apply counterpart (the
// STIM direction), generalized from "one fixed PDO mapping, SYNC
// driven" to "any configured DAQ list, driven by any application
// event".
package daqengine

import (
	"sync"

	"github.com/xcp-tools/xcpslave/pkg/canbridge"
	"github.com/xcp-tools/xcpslave/pkg/ringbuf"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/target"
	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
)

// Result is the bitwise union of outcomes across every list a firing
// touched, per spec.md §4.H "Return code".
type Result uint8

const (
	Executed Result = 1 << iota
	NotExecuted
	DaqOverload
	DtoOverfill
	MissingDto
)

// Engine fires DAQ/STIM sampling for every session registered with
// it, mirroring canbridge.Bridge's registration shape so the two are
// wired the same way in host glue (component M).
type Engine struct {
	bridge *canbridge.Bridge

	mu       sync.Mutex
	sessions []*session.Session
}

// New builds an Engine that nudges bridge after producing TX frames
// so a currently-idle hardware message object gets them immediately
// rather than waiting for the next TX-complete interrupt. bridge may
// be nil (tests that only want to inspect channel contents directly).
func New(bridge *canbridge.Bridge) *Engine {
	return &Engine{bridge: bridge}
}

func (e *Engine) Register(s *session.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, s)
}

func (e *Engine) Unregister(s *session.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.sessions {
		if existing == s {
			e.sessions = append(e.sessions[:i], e.sessions[i+1:]...)
			return
		}
	}
}

func (e *Engine) snapshot() []*session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*session.Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Event fires eventID across every registered session, sampling DAQ
// lists (isStim=false) or applying STIM lists (isStim=true) whose
// mode has RUNNING set, DIRECTION matching isStim, and Event==eventID.
// This is the single external entry point application code calls on
// its periodic/measurement ticks, per spec.md §4.H/§4.I.
func (e *Engine) Event(eventID uint8, isStim bool) Result {
	var result Result
	for _, s := range e.snapshot() {
		s.Lock()
		if isStim {
			result |= e.fireStimSession(s, eventID)
		} else {
			result |= e.fireDaqSession(s, eventID)
		}
		s.Unlock()
	}
	return result
}

func wantsDirection(cfg xcpconf.DaqListCfg, isStim bool) bool {
	if isStim {
		return cfg.Direction == xcpconf.DirectionStim
	}
	return cfg.Direction == xcpconf.DirectionDaq
}

func (e *Engine) fireDaqSession(s *session.Session, eventID uint8) Result {
	var result Result
	for i := range s.DaqLists {
		list := &s.DaqLists[i]
		cfg := s.Cfg.DaqLists[i]
		if !wantsDirection(cfg, false) || !list.Running() || list.Event != eventID {
			continue
		}
		result |= e.sampleList(s, i, list)
	}
	return result
}

// sampleList implements spec.md §4.H steps 1-3 for one DAQ list.
func (e *Engine) sampleList(s *session.Session, idx int, list *session.DaqListState) Result {
	if list.FirstConfiguredOdtEmpty() {
		return NotExecuted
	}
	ch := s.DaqCh[idx]
	pidOff := list.Mode&session.ModePidOff != 0
	wantTimestamp := list.Mode&session.ModeTimestamp != 0
	maxDto := int(s.Cfg.MaxDto)

	result := Executed
	for odtIdx := range list.Odts {
		odt := &list.Odts[odtIdx]
		if odtEmpty(odt) {
			break // I6: this ODT and everything after it is skipped
		}
		slot := ch.GetTxBuf()
		if slot == nil {
			result |= DaqOverload
			break
		}

		buf := slot.Data[:]
		n := 0
		if !pidOff {
			buf[n] = list.FirstPID + uint8(odtIdx)
			n++
		}
		if odtIdx == 0 && wantTimestamp {
			n = e.writeTimestamp(s, buf, n, maxDto, &result)
		}
		n = e.sampleOdt(s, odt, buf, n, maxDto, &result)

		ch.TxNext(uint8(n), func() bool { return true }, nil)
		e.kick(s)
	}
	return result
}

// kick nudges the bridge's TX arbitration, releasing s's lock first:
// Bridge.Kick scans every registered session under its own lock,
// including s itself, so calling it while Event still holds s.Lock()
// here would deadlock (and does, via the virtual bus's synchronous
// TX-complete callback re-entering the same scan).
func (e *Engine) kick(s *session.Session) {
	if e.bridge == nil {
		return
	}
	s.Unlock()
	e.bridge.Kick(0)
	s.Lock()
}

func (e *Engine) writeTimestamp(s *session.Session, buf []byte, n, maxDto int, result *Result) int {
	width := s.Cfg.TimestampWidth
	value, ok := s.Timestamp(width)
	if !ok {
		return n
	}
	for i := uint8(0); i < width; i++ {
		if n >= maxDto {
			*result |= DtoOverfill
			return n
		}
		shift := 8 * i
		if target.ByteOrder == target.ByteOrderBigEndian {
			shift = 8 * (width - 1 - i)
		}
		buf[n] = uint8(value >> shift)
		n++
	}
	return n
}

// sampleOdt packs odt's configured entries into buf starting at n,
// per §4.H step 3.e; it stops at the first unconfigured entry and
// reports DTO_OVERFILL if an entry would not fit in maxDto bytes.
func (e *Engine) sampleOdt(s *session.Session, odt *session.Odt, buf []byte, n, maxDto int, result *Result) int {
	for i := range odt.Entries {
		entry := odt.Entries[i]
		if !entry.Configured() {
			break
		}
		if entry.IsBit {
			if n >= maxDto {
				*result |= DtoOverfill
				return n
			}
			var b [1]byte
			_, _ = s.App.Read(entry.Addr, entry.Ext, b[:])
			buf[n] = (b[0] >> entry.BitOffset) & 1
			n++
			continue
		}
		length := int(entry.Length)
		if n+length > maxDto {
			*result |= DtoOverfill
			return n
		}
		_, _ = s.App.Read(entry.Addr, entry.Ext, buf[n:n+length])
		n += length
	}
	return n
}

func odtEmpty(odt *session.Odt) bool {
	return len(odt.Entries) == 0 || !odt.Entries[0].Configured()
}

// --- STIM direction (component I) ---

func (e *Engine) fireStimSession(s *session.Session, eventID uint8) Result {
	var result Result
	for i := range s.DaqLists {
		list := &s.DaqLists[i]
		cfg := s.Cfg.DaqLists[i]
		if !wantsDirection(cfg, true) || !list.Running() || list.Event != eventID {
			continue
		}
		result |= e.stimList(s, i, list)
	}
	return result
}

// stimList implements spec.md §4.I: completeness check first, then
// apply.
func (e *Engine) stimList(s *session.Session, idx int, list *session.DaqListState) Result {
	if list.FirstConfiguredOdtEmpty() {
		return NotExecuted
	}
	ch := s.DaqCh[idx]
	pidOff := list.Mode&session.ModePidOff != 0

	numOdt := 0
	for i := range list.Odts {
		if odtEmpty(&list.Odts[i]) {
			break
		}
		numOdt++
	}
	if numOdt == 0 {
		return NotExecuted
	}

	occupied := ch.Occupied()
	if !pidOff {
		for i := 0; i < occupied && i < numOdt; i++ {
			slot := ch.PeekRxBuf(i)
			if slot == nil {
				break
			}
			expected := list.FirstPID + uint8(i)
			if slot.Data[0] != expected {
				dropUntil(ch, list.FirstPID)
				return MissingDto
			}
		}
	}
	if occupied < numOdt {
		return NotExecuted // delayed: not all frames have arrived yet
	}

	for odtIdx := 0; odtIdx < numOdt; odtIdx++ {
		frame, ok := ch.PopRxFrame()
		if !ok {
			break
		}
		applyOdt(s, &list.Odts[odtIdx], frame, pidOff)
	}
	return Executed
}

// dropUntil pops frames from ch until firstPid is seen at the head
// (or the channel empties), the "dropped" branch of the completeness
// check: a wrong-PID frame at the head means the master and slave
// have lost frame sync, so every stale frame ahead of the next
// expected first-ODT frame is discarded.
func dropUntil(ch *ringbuf.Channel, firstPid uint8) {
	for {
		slot := ch.GetRxBuf()
		if slot == nil {
			return
		}
		if slot.Data[0] == firstPid {
			return
		}
		ch.RxNext()
	}
}

// applyOdt writes one received STIM frame's entries into application
// memory, per §4.I "Apply phase".
func applyOdt(s *session.Session, odt *session.Odt, frame ringbuf.Slot, pidOff bool) {
	data := frame.Data[:frame.Length]
	n := 0
	if !pidOff {
		n++
	}
	for i := range odt.Entries {
		entry := odt.Entries[i]
		if !entry.Configured() {
			break
		}
		if entry.IsBit {
			if n >= len(data) {
				break
			}
			var b [1]byte
			_, _ = s.App.Read(entry.Addr, entry.Ext, b[:])
			if data[n]&1 != 0 {
				b[0] |= 1 << entry.BitOffset
			} else {
				b[0] &^= 1 << entry.BitOffset
			}
			_, _ = s.App.Write(entry.Addr, entry.Ext, b[:])
			n++
			continue
		}
		length := int(entry.Length)
		if n+length > len(data) {
			break
		}
		_, _ = s.App.Write(entry.Addr, entry.Ext, data[n:n+length])
		n += length
	}
}
