// Package persist implements component L: the magic-gated
// non-volatile image of RESUME-capable DAQ configuration described in
// spec.md §6. Grounded on pkg/od/encoding.go's hand-rolled
// encoding/binary little-endian helpers — the teacher never reaches
// for a marshalling library for wire/NV encoding, so neither does
// this — and on pkg/od's versioned-parser idiom (parse a fixed header
// first, validate it, only then trust the rest of the buffer).
package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
)

// Magic gates the validity of a persisted image the same way the
// teacher's EDS parsers refuse to trust a file that doesn't start
// with their expected signature.
const Magic uint32 = 0x58435031 // "XCP1"

// TransportAppender lets the CAN transport layer append its own
// per-list state after the protocol-level record, per spec.md §6 "On
// boot, the transport layer is given a chance to append per-list
// transport state." A transport with nothing to persist can leave
// this nil.
type TransportAppender interface {
	AppendState(w io.Writer, listIdx int) error
	ReadState(r io.Reader, listIdx int) error
}

// ListRecord is one RESUME-marked DAQ list's persisted shape: the
// fixed header from spec.md §6 plus its ODT entries.
type ListRecord struct {
	DaqListID    uint8
	MaxOdtIDUsed uint8
	Mode         uint8
	Event        uint8
	// DynamicHeader carries the dynamic-config block (ODT/entry
	// counts) for lists configured via ALLOC_DAQ/ALLOC_ODT rather than
	// the static table; zero value for static lists.
	DynamicHeader DynamicHeader
	Odts          []session.Odt
}

// DynamicHeader is only written/read when the source list is dynamic
// (xcpconf.DaqListCfg.Dynamic), letting the loader reconstruct the
// ODT/entry slice shapes before filling them in.
type DynamicHeader struct {
	Dynamic    bool
	NumOdt     uint8
	EntriesLen []uint8 // entries-per-ODT, one count per ODT
}

// Save writes sessionCfgID and every RESUME-marked DAQ list of s
// (configured or not) into w, in the §6 layout: magic, then
// (sessionCfgID, numDynDaqLists, numResumeDaqLists), then one record
// per resumable list. transport, if non-nil, appends its own state
// after each list's record.
func Save(w io.Writer, sessionCfgID uint32, s *session.Session, transport TransportAppender) error {
	s.Lock()
	defer s.Unlock()

	var resumable []int
	var numDyn uint32
	for i, lc := range s.Cfg.DaqLists {
		if lc.Dynamic {
			numDyn++
		}
		if lc.Resume {
			resumable = append(resumable, i)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, sessionCfgID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, numDyn); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(resumable))); err != nil {
		return err
	}

	for _, idx := range resumable {
		list := &s.DaqLists[idx]
		lc := s.Cfg.DaqLists[idx]
		header := [4]byte{uint8(idx), list.MaxOdtIdUsed, list.Mode, list.Event}
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
		if err := writeDynamicHeader(w, lc, list); err != nil {
			return err
		}
		if err := writeOdts(w, list.Odts); err != nil {
			return err
		}
		if transport != nil {
			if err := transport.AppendState(w, idx); err != nil {
				return fmt.Errorf("persist: transport append for list %d: %w", idx, err)
			}
		}
	}
	return nil
}

func writeDynamicHeader(w io.Writer, lc xcpconf.DaqListCfg, list *session.DaqListState) error {
	if !lc.Dynamic {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(list.Odts))); err != nil {
		return err
	}
	for _, odt := range list.Odts {
		if err := binary.Write(w, binary.LittleEndian, uint8(len(odt.Entries))); err != nil {
			return err
		}
	}
	return nil
}

func writeOdts(w io.Writer, odts []session.Odt) error {
	for _, odt := range odts {
		for _, e := range odt.Entries {
			if err := binary.Write(w, binary.LittleEndian, e.Addr); err != nil {
				return err
			}
			flags := e.Ext
			bit := uint8(0)
			if e.IsBit {
				bit = 0x80 | (e.BitOffset & 0x0F)
			}
			if _, err := w.Write([]byte{flags, e.Length, bit}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore parses a persisted image from r against cfg, validating the
// magic number first and refusing to return partial state on any
// later error (the caller gets either a fully-parsed set of records
// or none at all). cfg resolves, per list, whether to expect a
// dynamic header or to size ODTs from the static table, and
// transport, if non-nil, is given a chance to read back its own
// appended state for each list right after the protocol record.
func Restore(r io.Reader, cfg *xcpconf.SessionCfg, transport TransportAppender) (sessionCfgID uint32, records []ListRecord, err error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return 0, nil, fmt.Errorf("persist: %w", err)
	}
	if magic != Magic {
		return 0, nil, fmt.Errorf("persist: bad magic %#x", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &sessionCfgID); err != nil {
		return 0, nil, fmt.Errorf("persist: %w", err)
	}
	var numDyn, numResume uint32
	if err := binary.Read(r, binary.LittleEndian, &numDyn); err != nil {
		return 0, nil, fmt.Errorf("persist: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &numResume); err != nil {
		return 0, nil, fmt.Errorf("persist: %w", err)
	}

	records = make([]ListRecord, 0, numResume)
	for i := uint32(0); i < numResume; i++ {
		rec, err := readRecord(r, cfg)
		if err != nil {
			return 0, nil, fmt.Errorf("persist: record %d: %w", i, err)
		}
		if transport != nil {
			if err := transport.ReadState(r, int(rec.DaqListID)); err != nil {
				return 0, nil, fmt.Errorf("persist: transport read for list %d: %w", rec.DaqListID, err)
			}
		}
		records = append(records, rec)
	}
	return sessionCfgID, records, nil
}

func readRecord(r io.Reader, cfg *xcpconf.SessionCfg) (ListRecord, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return ListRecord{}, err
	}
	rec := ListRecord{
		DaqListID:    header[0],
		MaxOdtIDUsed: header[1],
		Mode:         header[2],
		Event:        header[3],
	}
	if int(rec.DaqListID) >= len(cfg.DaqLists) {
		return ListRecord{}, fmt.Errorf("daq list id %d out of range", rec.DaqListID)
	}
	lc := cfg.DaqLists[rec.DaqListID]

	if lc.Dynamic {
		var numOdt uint8
		if err := binary.Read(r, binary.LittleEndian, &numOdt); err != nil {
			return ListRecord{}, err
		}
		entriesLen := make([]uint8, numOdt)
		for i := range entriesLen {
			if err := binary.Read(r, binary.LittleEndian, &entriesLen[i]); err != nil {
				return ListRecord{}, err
			}
		}
		rec.DynamicHeader = DynamicHeader{Dynamic: true, NumOdt: numOdt, EntriesLen: entriesLen}
		rec.Odts = make([]session.Odt, numOdt)
		for i := range rec.Odts {
			rec.Odts[i].Entries = make([]session.OdtEntry, entriesLen[i])
		}
	} else {
		rec.Odts = make([]session.Odt, lc.MaxOdt)
		for i := range rec.Odts {
			rec.Odts[i].Entries = make([]session.OdtEntry, lc.EntriesPerOdt)
		}
	}

	if err := readOdts(r, rec.Odts); err != nil {
		return ListRecord{}, err
	}
	return rec, nil
}

func readOdts(r io.Reader, odts []session.Odt) error {
	for o := range odts {
		for e := range odts[o].Entries {
			var addr uint32
			if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
				return err
			}
			var fields [3]byte
			if _, err := io.ReadFull(r, fields[:]); err != nil {
				return err
			}
			entry := session.OdtEntry{Addr: addr, Ext: fields[0], Length: fields[1]}
			if fields[2]&0x80 != 0 {
				entry.IsBit = true
				entry.BitOffset = fields[2] & 0x0F
			}
			odts[o].Entries[e] = entry
		}
	}
	return nil
}

// Bytes is a convenience wrapper for callers that hold the image
// entirely in memory (e.g. a small EEPROM-backed store read in full
// at boot) rather than streaming it.
func Bytes(sessionCfgID uint32, s *session.Session, transport TransportAppender) ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, sessionCfgID, s, transport); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
