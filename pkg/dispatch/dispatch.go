// Package dispatch implements component F: the periodic command
// processor. Grounded on pkg/node/controller.go's ticker-driven
// background/main goroutine shape (time.NewTicker, select over
// ctx.Done()) combined with pkg/sdo/server.go's Process(ctx) suspend
// loop — one dispatcher runs per session, polling the CMD channel
// instead of blocking on a Go channel, since the CAN ISR bridge (not a
// chan) is the producer.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/xcp-tools/xcpslave/pkg/canbridge"
	"github.com/xcp-tools/xcpslave/pkg/ringbuf"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

// Result is the bitmask a Handler returns, per §4.F step 4.
type Result uint8

const (
	RxReady Result = 1 << 0
	TxReady Result = 1 << 1
)

// Handler processes one CTO. rx is the received payload (length ==
// the frame's DLC); tx is a scratch buffer sized to the session's
// MaxCto that the handler fills and reports the used length of.
// prevCmd is session.CurrCmd when this is a re-invocation of a
// suspended command, otherwise the PID of whatever ran before.
type Handler func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int)

// Registry maps a command PID to its handler.
type Registry map[uint8]Handler

// Dispatcher runs the per-session command processor loop.
type Dispatcher struct {
	Session  *session.Session
	Bridge   *canbridge.Bridge
	Handlers Registry
	Logger   *slog.Logger
}

// New builds a Dispatcher for session s.
func New(s *session.Session, bridge *canbridge.Bridge, handlers Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Session: s, Bridge: bridge, Handlers: handlers, Logger: logger.With("service", "[XCP]", "component", "dispatch")}
}

// Run drives Tick on a ticker bounded by period (which must be <=
// MIN_ST/2, per §5) until ctx is cancelled. Mirrors the teacher's
// background-goroutine ticker idiom in pkg/node/controller.go.
func (d *Dispatcher) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick performs one dispatch step, per spec.md §4.F.
func (d *Dispatcher) Tick() {
	s := d.Session
	s.Lock()
	defer s.Unlock()

	rxSlot := s.CmdCh.GetRxBuf()
	if rxSlot == nil {
		return
	}
	txSlot := s.ResCh.GetTxBuf()
	if txSlot == nil {
		return // backpressure: leave the command queued
	}

	pid := rxSlot.Data[0]
	pending := s.Pending()

	reexecuting := pending.IsReexecution && pending.PID == pid
	var prevCmd uint8
	if reexecuting {
		prevCmd = session.CurrCmd
	} else {
		prevCmd = pending.PID
	}

	if !s.Connected() && pid != wire.PidConnect {
		s.CmdCh.RxNext()
		return
	}

	handler, ok := d.Handlers[pid]
	if !ok {
		d.commitError(s, txSlot, xcperr.ErrCmdUnknown)
		s.CmdCh.RxNext()
		s.SetPending(pid, false)
		return
	}

	txBuf := make([]byte, s.Cfg.MaxCto)
	result, txLen := handler(s, rxSlot.Data[:rxSlot.Length], prevCmd, txBuf)

	switch {
	case result&RxReady != 0 && result&TxReady != 0:
		s.CmdCh.RxNext()
		d.commit(s, txSlot, txBuf[:txLen])
		s.SetPending(pid, false)

	case result&TxReady != 0:
		// Commit TX but leave RX — the handler wants to be
		// re-invoked against the same command bytes (block UPLOAD).
		d.commit(s, txSlot, txBuf[:txLen])
		s.SetPending(pid, true)

	case result&RxReady != 0:
		// Pop RX, no response this round (block-download segment
		// accepted, more expected).
		s.CmdCh.RxNext()
		s.SetPending(pid, false)

	default:
		// Suspended: awaiting an asynchronous result. Leave both
		// slots in place and track the EV_CMD_PENDING timeout.
		if !reexecuting {
			s.SetPendingTimeoutTicks(s.Cfg.CmdTimeoutTicks)
		} else {
			ticks := s.PendingTimeoutTicks() - 1
			if ticks <= 0 {
				d.emitCmdPending(s)
				ticks = s.Cfg.CmdTimeoutTicks
			}
			s.SetPendingTimeoutTicks(ticks)
		}
		s.SetPending(pid, true)
	}
}

// commit writes data into the TX slot, commits it on the channel, and
// nudges the bridge in case the hardware message object has nothing
// else in flight. The channel's own inline handoff is disabled
// (pendingOnMsgObj always reports busy) because cross-channel
// priority arbitration is the bridge's job, not a single channel's.
func (d *Dispatcher) commit(s *session.Session, txSlot *ringbuf.Slot, data []byte) {
	copy(txSlot.Data[:], data)
	s.ResCh.TxNext(uint8(len(data)), func() bool { return true }, nil)
	d.kick(s)
}

func (d *Dispatcher) commitError(s *session.Session, txSlot *ringbuf.Slot, code xcperr.Code) {
	txSlot.Data[0] = wire.RespError
	txSlot.Data[1] = uint8(code)
	s.ResCh.TxNext(2, func() bool { return true }, nil)
	d.kick(s)
}

// kick nudges the bridge's TX arbitration, releasing s's lock first:
// Bridge.Kick scans every registered session under its own lock,
// including s itself, so calling it while still holding s.Lock() here
// would deadlock (and does, via the virtual bus's synchronous
// TX-complete callback re-entering the same scan). Tick always holds
// s.Lock() across this call, so the unlock/relock here is the only
// place that boundary is crossed.
func (d *Dispatcher) kick(s *session.Session) {
	if d.Bridge == nil {
		return
	}
	s.Unlock()
	d.Bridge.Kick(0)
	s.Lock()
}

// emitCmdPending pushes an EVENT(EV_CMD_PENDING) frame onto the
// EVENT channel. Informational only — if the queue is full the event
// is simply dropped, matching the transport layer's general "drops
// are silent" rule.
func (d *Dispatcher) emitCmdPending(s *session.Session) {
	slot := s.EventCh.GetTxBuf()
	if slot == nil {
		return
	}
	slot.Data[0] = wire.RespEvent
	slot.Data[1] = wire.EvCmdPending
	s.EventCh.TxNext(2, func() bool { return true }, nil)
	d.kick(s)
}
