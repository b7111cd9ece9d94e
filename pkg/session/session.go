// Package session holds everything spec.md calls "component C":
// the mutable per-session bookkeeping layered on top of the
// immutable configuration from pkg/xcpconf. It also hosts the two
// small satellite state machines that share its mutex — the
// calibration-page proxy (component J) and the seed/key
// authenticator (component K) — since both only ever touch session
// fields and splitting them into separate packages would just move
// the same lock back and forth.
package session

import (
	"log/slog"
	"sync"

	"github.com/xcp-tools/xcpslave/pkg/ringbuf"
	"github.com/xcp-tools/xcpslave/pkg/target"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
)

// ConnectionState is the tri-state of §3: a session is at all times
// in exactly one of these.
type ConnectionState uint8

const (
	Disconnected ConnectionState = iota
	ConnectedNormal
	ConnectedUserDefined
)

// CurrCmd is the sentinel prevCmd value a dispatcher passes to a
// handler being re-invoked after it previously suspended (returned
// 0), signalling "this is the same command bytes as last time, not a
// new command". It is safe as a sentinel because every real command
// PID is >= PidCmdLast (0xCF); 0x00 never occurs as an incoming
// command byte.
const CurrCmd uint8 = 0x00

// PidCmdLast is the lowest numeric command PID (PROGRAM_RESET); a
// frame on the CMD id whose first byte is below this is not a command,
// and the CAN bridge does not queue it on the CMD channel.
const PidCmdLast = wire.PidCmdLast

// PendingCmd tracks the last dispatched command for the "is this a
// re-execution" decision in §4.F.
type PendingCmd struct {
	PID           uint8
	IsReexecution bool
	TimeoutTicks  int // counts down while the handler returns 0 (suspended)
}

// Segment is the mutable state of one page-switchable memory
// segment: which page the tool currently has selected, which page is
// live for the ECU.
type Segment struct {
	Cfg       xcpconf.SegCfg
	ToolPage  uint8
	EcuPage   uint8
}

// Session is one XCP tool connection's full state.
type Session struct {
	Cfg *xcpconf.SessionCfg
	App App

	mu sync.Mutex

	state ConnectionState

	mtaAddr uint32
	mtaExt  uint8

	pending PendingCmd

	daqPtrList int // list selected by the last SET_DAQ_PTR, -1 if none yet

	DaqLists []DaqListState
	Segments []Segment

	seedKey seedKeyState

	pgmActive bool // a PROGRAM_START...PROGRAM_RESET sequence is in progress
	maxCtoPgm uint8 // MAX_CTO_PGM reported by ProgramStart, 0 until then

	echoRequested bool // GET_SLAVE_ID mode-1 gate: last request was mode 0

	protectionMask uint8 // resource bits still locked; cleared per-resource by a successful Unlock

	blockXfer blockTransferState // DOWNLOAD/UPLOAD/PROGRAM block-mode bookkeeping

	tick target.TickSource

	CmdCh   *ringbuf.Channel
	EventCh *ringbuf.Channel
	ResCh   *ringbuf.Channel
	DaqCh   []*ringbuf.Channel // parallel to Cfg.DaqLists / DaqLists

	Logger *slog.Logger
}

// New builds a disconnected session from cfg, allocating its
// transport channels and initializing DAQ list state from the
// (immutable) static configuration.
func New(cfg *xcpconf.SessionCfg, app App, tick target.TickSource, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if tick == nil {
		tick = target.DefaultTickSource
	}
	s := &Session{
		Cfg:        cfg,
		App:        app,
		tick:       tick,
		daqPtrList: -1,
		Logger:  logger.With("service", "[XCP]", "session", cfg.Name),
		CmdCh:   ringbuf.NewChannel(cfg.CmdChannel.Depth, false),
		EventCh: ringbuf.NewChannel(cfg.EventChannel.Depth, true),
		ResCh:   ringbuf.NewChannel(cfg.ResChannel.Depth, true),
	}
	s.DaqCh = make([]*ringbuf.Channel, len(cfg.DaqLists))
	s.DaqLists = make([]DaqListState, len(cfg.DaqLists))
	for i, lc := range cfg.DaqLists {
		isTx := lc.Direction == xcpconf.DirectionDaq
		s.DaqCh[i] = ringbuf.NewChannel(lc.Channel.Depth, isTx)
		s.DaqLists[i] = DaqListState{
			FirstPID: lc.FirstPID,
			Event:    lc.Event,
			dynamic:  lc.Dynamic,
		}
		if lc.Direction == xcpconf.DirectionStim {
			s.DaqLists[i].Mode |= ModeDirection
		}
		if !lc.Dynamic {
			s.DaqLists[i].Odts = make([]Odt, lc.MaxOdt)
			for o := range s.DaqLists[i].Odts {
				s.DaqLists[i].Odts[o].Entries = make([]OdtEntry, lc.EntriesPerOdt)
			}
		}
	}
	s.Segments = make([]Segment, len(cfg.Segments))
	for i, sc := range cfg.Segments {
		s.Segments[i] = Segment{Cfg: sc, ToolPage: sc.InitPage, EcuPage: sc.InitPage}
	}
	return s
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) State() ConnectionState { return s.state }
func (s *Session) Connected() bool        { return s.state != Disconnected }

// Connect transitions the session to connected, in normal or
// user-defined mode.
func (s *Session) Connect(userDefined bool) {
	if userDefined {
		s.state = ConnectedUserDefined
	} else {
		s.state = ConnectedNormal
	}
	s.protectionMask = s.Cfg.ResourceMask
}

// ProtectionMask reports which resource bits are still seed/key locked.
func (s *Session) ProtectionMask() uint8 { return s.protectionMask }

// ResourceLocked reports whether resource is currently locked.
func (s *Session) ResourceLocked(resource uint8) bool {
	return s.protectionMask&resource != 0
}

// Disconnect wipes DAQ state, ODT entries, seed/key progress and the
// pending command, returning the session to its post-init shape —
// the soft-cancel behaviour of §5 ("Cancellation") and the round-trip
// law P5. Segment page selections are the one exception: ToolPage and
// EcuPage keep whatever SET_CAL_PAGE last set.
func (s *Session) Disconnect() {
	s.state = Disconnected
	s.mtaAddr = 0
	s.mtaExt = 0
	s.pending = PendingCmd{}
	s.daqPtrList = -1
	s.seedKey = seedKeyState{}
	s.pgmActive = false
	s.maxCtoPgm = 0
	s.echoRequested = false
	s.blockXfer = blockTransferState{}
	s.protectionMask = 0

	for i := range s.DaqLists {
		s.clearDaqList(i, false /* always fully reset on disconnect, unlike CLEAR_DAQ_LIST */)
		s.DaqLists[i].Mode = 0
		if s.Cfg.DaqLists[i].Direction == xcpconf.DirectionStim {
			s.DaqLists[i].Mode |= ModeDirection
		}
		s.DaqLists[i].Event = s.Cfg.DaqLists[i].Event
		s.DaqLists[i].MsgID = 0
	}
	s.EventCh.Reset()
	s.ResCh.Reset()
	for _, ch := range s.DaqCh {
		ch.Reset()
	}
}

// DaqRunning implements GET_STATUS's DAQ_RUNNING bit and property P3:
// true iff any DAQ list has mode.RUNNING set.
func (s *Session) DaqRunning() bool {
	for i := range s.DaqLists {
		if s.DaqLists[i].Running() {
			return true
		}
	}
	return false
}

// MTA returns the current Memory Transfer Address.
func (s *Session) MTA() (addr uint32, ext uint8) {
	return s.mtaAddr, s.mtaExt
}

// SetMTA installs a new MTA and is also used internally to advance it
// after UPLOAD/DOWNLOAD/BUILD_CHECKSUM.
func (s *Session) SetMTA(addr uint32, ext uint8) {
	s.mtaAddr = addr
	s.mtaExt = ext
}

// AdvanceMTA moves the MTA forward by n bytes, same extension.
func (s *Session) AdvanceMTA(n uint32) {
	s.mtaAddr += n
}

// Pending returns the current pending-command marker.
func (s *Session) Pending() PendingCmd { return s.pending }

func (s *Session) SetPending(pid uint8, reexec bool) {
	s.pending.PID = pid
	s.pending.IsReexecution = reexec
}

// PendingTimeoutTicks and SetPendingTimeoutTicks let the dispatcher
// manage the EV_CMD_PENDING countdown (§4.F) without reaching into
// session internals directly.
func (s *Session) PendingTimeoutTicks() int     { return s.pending.TimeoutTicks }
func (s *Session) SetPendingTimeoutTicks(n int) { s.pending.TimeoutTicks = n }

func (s *Session) EchoRequested() bool     { return s.echoRequested }
func (s *Session) SetEchoRequested(v bool) { s.echoRequested = v }

// Timestamp reads the session's tick source through target.Timestamp,
// truncated to width bytes (GET_DAQ_CLOCK, DAQ-list TIMESTAMP mode).
func (s *Session) Timestamp(width uint8) (value uint64, ok bool) {
	return target.Timestamp(s.tick, width)
}

func (s *Session) PgmActive() bool      { return s.pgmActive }
func (s *Session) SetPgmActive(v bool)  { s.pgmActive = v }
func (s *Session) MaxCtoPgm() uint8     { return s.maxCtoPgm }
func (s *Session) SetMaxCtoPgm(v uint8) { s.maxCtoPgm = v }
