// Package ringbuf implements the fixed-size frame queue shared
// between the CAN ISR context and the protocol context (component D
// of the design). It generalizes the teacher's internal/fifo — a
// circular byte-stream FIFO with separate read/write cursors and an
// "alternate read" lookahead — from a stream of bytes to a stream of
// fixed 8-byte CAN frames, each carrying its own one-byte state word
// so producer and consumer can hand frames off without a lock on the
// fast path.
package ringbuf

import "github.com/xcp-tools/xcpslave/pkg/target"

// SlotState is the one-byte state word of a frame slot. Transitions
// are single-byte writes, assumed atomic on the target; this package
// additionally guards the multi-step sequences around them with a
// target.CriticalSection where the spec requires it (the ISR-shared
// tail-enqueue in TxNext).
type SlotState uint8

const (
	Free SlotState = iota
	TxAllocated
	TxReady
	TxInFlight
	RxData
)

// Slot is one fixed 8-byte CAN frame buffer plus its state word.
// Length is only meaningful (and only ever non-zero) while state is
// TxReady, TxInFlight or RxData — this mirrors invariant I3 ("bits 4..7 of
// the state word"), represented here as a separate field rather than
// packed bits since Go has no benefit from the packing trick the
// original used to save RAM.
type Slot struct {
	state  SlotState
	Length uint8
	Data   [8]byte
}

func (s *Slot) State() SlotState { return s.state }

// Channel is one FIFO lane: CMD, EVENT, RES, or one DAQ/STIM channel
// per configured DAQ list. Direction determines which cursor the
// protocol side and which the CAN side advance.
type Channel struct {
	slots    []Slot
	producer int
	consumer int
	isTx     bool // true: protocol is producer, CAN side is consumer
	guard    target.CriticalSection
}

// NewChannel allocates a channel with depth frame slots, all FREE.
func NewChannel(depth int, isTx bool) *Channel {
	if depth < 1 {
		depth = 1
	}
	return &Channel{slots: make([]Slot, depth), isTx: isTx}
}

func (c *Channel) Depth() int { return len(c.slots) }

func (c *Channel) advance(cursor int) int {
	cursor++
	if cursor == len(c.slots) {
		cursor = 0
	}
	return cursor
}

// ---- TX side (protocol produces, CAN driver consumes) ----

// GetTxBuf returns the slot at the producer cursor if it is FREE or
// already TX_ALLOCATED (idempotent until TxNext commits it), marking
// it TX_ALLOCATED. Returns nil ("no buffer") otherwise.
func (c *Channel) GetTxBuf() *Slot {
	slot := &c.slots[c.producer]
	switch slot.state {
	case Free:
		slot.state = TxAllocated
		return slot
	case TxAllocated:
		return slot
	default:
		return nil
	}
}

// TxNext stamps the producer slot TX_READY with the given length and
// advances the producer cursor. handoff, if the new consumer slot
// is TX_READY and the caller reports no TX already pending on the
// hardware message object, is invoked with that slot so it can be
// marked TX_IN_FLIGHT and handed to the CAN driver — all under the
// channel's critical section, matching the ISR-safety discipline of
// the original's tail-enqueue.
func (c *Channel) TxNext(length uint8, pendingOnMsgObj func() bool, handoff func(*Slot)) {
	slot := &c.slots[c.producer]
	slot.Length = length
	slot.state = TxReady
	c.producer = c.advance(c.producer)

	c.guard.Enter()
	defer c.guard.Exit()
	next := &c.slots[c.consumer]
	if next.state == TxReady && !pendingOnMsgObj() {
		next.state = TxInFlight
		if handoff != nil {
			handoff(next)
		}
	}
}

// CompleteTx marks the consumer slot FREE and advances the consumer
// cursor, to be called from the TX-complete path once the frame has
// actually left the wire.
func (c *Channel) CompleteTx() {
	slot := &c.slots[c.consumer]
	slot.state = Free
	slot.Length = 0
	c.consumer = c.advance(c.consumer)
}

// ReadyForHandoff reports whether the consumer slot is TX_READY,
// along with a pointer to it — used by the TX arbitration scan in
// the CAN bridge across channels sharing one message object.
func (c *Channel) ReadyForHandoff() (*Slot, bool) {
	slot := &c.slots[c.consumer]
	return slot, slot.state == TxReady
}

// MarkInFlight transitions the consumer slot from TX_READY to
// TX_IN_FLIGHT and hands it to the driver; used by the arbitration
// winner.
func (c *Channel) MarkInFlight() *Slot {
	slot := &c.slots[c.consumer]
	slot.state = TxInFlight
	return slot
}

// ---- RX side (CAN ISR produces, protocol consumes) ----

// PutRxData is called from the RX classification path: copies data
// into the producer slot and marks it RX_DATA, advancing the
// producer cursor. Returns false ("frame dropped") if the slot was
// not FREE.
func (c *Channel) PutRxData(data []byte) bool {
	slot := &c.slots[c.producer]
	if slot.state != Free {
		return false
	}
	n := target.CopyBytes(slot.Data[:], data)
	slot.Length = uint8(n)
	slot.state = RxData
	c.producer = c.advance(c.producer)
	return true
}

// GetRxBuf returns the slot at the consumer cursor if it holds
// RX_DATA, or nil if the channel is empty.
func (c *Channel) GetRxBuf() *Slot {
	slot := &c.slots[c.consumer]
	if slot.state != RxData {
		return nil
	}
	return slot
}

// RxNext marks the consumer slot FREE and advances the consumer
// cursor, releasing the frame GetRxBuf previously returned.
func (c *Channel) RxNext() {
	slot := &c.slots[c.consumer]
	slot.state = Free
	slot.Length = 0
	c.consumer = c.advance(c.consumer)
}

// PopRxFrame reads the frame produced first and pops it; used by the
// STIM apply phase without needing a separate peek.
func (c *Channel) PopRxFrame() (Slot, bool) {
	slot := c.GetRxBuf()
	if slot == nil {
		return Slot{}, false
	}
	cp := *slot
	c.RxNext()
	return cp, true
}

// PeekRxBuf looks ahead by depth slots (0 == the next slot GetRxBuf
// would return) without modifying either cursor. depth must be less
// than the channel's queue length. Returns nil if that far ahead
// there is no RX_DATA frame.
func (c *Channel) PeekRxBuf(depth int) *Slot {
	if depth < 0 || depth >= len(c.slots) {
		return nil
	}
	idx := c.consumer + depth
	if idx >= len(c.slots) {
		idx -= len(c.slots)
	}
	slot := &c.slots[idx]
	if slot.state != RxData {
		return nil
	}
	return slot
}

// Occupied reports how many consecutive RX_DATA frames are queued
// starting at the consumer cursor — used by the STIM completeness
// check.
func (c *Channel) Occupied() int {
	n := 0
	for n < len(c.slots) {
		if c.PeekRxBuf(n) == nil {
			break
		}
		n++
	}
	return n
}

// Reset marks every slot FREE and resets both cursors to the
// channel's first slot. Used by reset_daq_list and by DISCONNECT.
func (c *Channel) Reset() {
	for i := range c.slots {
		c.slots[i] = Slot{}
	}
	c.producer = 0
	c.consumer = 0
}
