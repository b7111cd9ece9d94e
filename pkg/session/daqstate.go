package session

// Mode bitfield values for a DAQ list, as carried by
// SET/GET_DAQ_LIST_MODE.
const (
	ModeResume    uint8 = 1 << 0
	ModeRunning   uint8 = 1 << 1
	ModePidOff    uint8 = 1 << 2
	ModeTimestamp uint8 = 1 << 4
	ModeDirection uint8 = 1 << 5 // set => STIM, clear => DAQ
	ModeSelected  uint8 = 1 << 6
)

// OdtEntry is one (address, length-or-bit-offset, extension)
// descriptor. Length == 0 iff the entry is unconfigured (§3). Bit
// offsets are normalized to 0..7 at WRITE_DAQ time by advancing Addr,
// so sampling never has to branch on offsets outside that range.
type OdtEntry struct {
	Addr     uint32
	Ext      uint8
	Length   uint8 // byte mode: 1..8; bit mode: unused (kept 1 for bookkeeping)
	BitOffset uint8 // bit mode only, 0..7
	IsBit    bool
}

func (e OdtEntry) Configured() bool {
	if e.IsBit {
		return true
	}
	return e.Length != 0
}

// Odt is one Object Descriptor Table: an ordered sequence of entries.
type Odt struct {
	Entries []OdtEntry
}

// daqPtr is the cursor SET_DAQ_PTR/WRITE_DAQ advance through a list's
// ODTs and entries.
type daqPtr struct {
	odt   int
	entry int
}

// DaqListState is the full mutable state of one DAQ list: mode,
// event, the configured ODTs, and — for dynamic lists — the
// allocation bookkeeping FREE_DAQ/ALLOC_DAQ/ALLOC_ODT/ALLOC_ODT_ENTRY
// mutate.
type DaqListState struct {
	Mode         uint8
	Event        uint8
	MaxOdtIdUsed uint8
	FirstPID     uint8
	MsgID        uint32 // dynamic lists only: runtime-set via SET_DAQ_ID

	Odts []Odt

	ptr daqPtr

	// Dynamic allocation bookkeeping. allocStage tracks how far
	// through the strict ALLOC_DAQ -> ALLOC_ODT -> ALLOC_ODT_ENTRY
	// sequence this list has progressed; a handler invoked out of
	// order sees allocStage not matching its expected predecessor and
	// returns ERR_SEQUENCE (P4).
	dynamic        bool
	allocStage     allocStage
	allocOdtIdx    int // ALLOC_ODT: which ODT is being sized next
}

type allocStage uint8

const (
	allocNone allocStage = iota
	allocDaqDone
	allocOdtDone
)

func (d *DaqListState) Running() bool { return d.Mode&ModeRunning != 0 }
func (d *DaqListState) IsStim() bool  { return d.Mode&ModeDirection != 0 }

// firstEntryEmpty reports whether odt's first entry has length 0 —
// the I6 "ODT is empty, skip it and everything after" signal.
func (o Odt) firstEntryEmpty() bool {
	if len(o.Entries) == 0 {
		return true
	}
	return !o.Entries[0].Configured()
}

// FirstConfiguredOdtEmpty implements the "skip the whole list" check
// at the top of §4.H step 1 and §4.I.
func (d *DaqListState) FirstConfiguredOdtEmpty() bool {
	if len(d.Odts) == 0 {
		return true
	}
	return d.Odts[0].firstEntryEmpty()
}
