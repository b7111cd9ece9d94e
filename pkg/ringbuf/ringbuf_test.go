package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxWrapAndAllocateIsIdempotent(t *testing.T) {
	ch := NewChannel(2, true)

	slot := ch.GetTxBuf()
	assert.NotNil(t, slot)
	assert.Equal(t, TxAllocated, slot.State())

	// Calling GetTxBuf again before TxNext must return the same slot,
	// not allocate a second one (B3).
	again := ch.GetTxBuf()
	assert.Same(t, slot, again)

	ch.TxNext(4, func() bool { return false }, nil)
	assert.Equal(t, TxReady, slot.State())
}

func TestTxNoBufferWhenFull(t *testing.T) {
	ch := NewChannel(1, true)
	slot := ch.GetTxBuf()
	assert.NotNil(t, slot)
	ch.TxNext(1, func() bool { return true }, nil)
	// Only slot is TX_READY (not consumed), producer wraps back to it.
	assert.Nil(t, ch.GetTxBuf())
}

func TestRxDropsWhenSlotNotFree(t *testing.T) {
	ch := NewChannel(1, false)
	ok := ch.PutRxData([]byte{1, 2, 3})
	assert.True(t, ok)
	// Slot still occupied (not yet consumed) -> dropped.
	ok = ch.PutRxData([]byte{4, 5, 6})
	assert.False(t, ok)
}

func TestRxNextFreesSlotForReuse(t *testing.T) {
	ch := NewChannel(1, false)
	assert.True(t, ch.PutRxData([]byte{1, 2, 3}))
	slot := ch.GetRxBuf()
	assert.NotNil(t, slot)
	assert.EqualValues(t, 3, slot.Length)
	ch.RxNext()
	assert.True(t, ch.PutRxData([]byte{9}))
}

func TestPeekRxBufLookaheadDoesNotConsume(t *testing.T) {
	ch := NewChannel(4, false)
	assert.True(t, ch.PutRxData([]byte{1}))
	assert.True(t, ch.PutRxData([]byte{2}))

	first := ch.PeekRxBuf(0)
	second := ch.PeekRxBuf(1)
	assert.NotNil(t, first)
	assert.NotNil(t, second)
	assert.Nil(t, ch.PeekRxBuf(2))

	// Peeking must not have consumed anything.
	assert.EqualValues(t, 2, ch.Occupied())
	popped, ok := ch.PopRxFrame()
	assert.True(t, ok)
	assert.EqualValues(t, 1, popped.Data[0])
}

func TestResetClearsCursorsAndStates(t *testing.T) {
	ch := NewChannel(2, true)
	ch.GetTxBuf()
	ch.TxNext(1, func() bool { return true }, nil)
	ch.Reset()
	slot := ch.GetTxBuf()
	assert.NotNil(t, slot)
	assert.Equal(t, TxAllocated, slot.State())
}

func TestTxArbitrationHandoff(t *testing.T) {
	ch := NewChannel(2, true)
	ch.GetTxBuf()
	var handedOff *Slot
	ch.TxNext(2, func() bool { return false }, func(s *Slot) { handedOff = s })
	assert.NotNil(t, handedOff)
	assert.Equal(t, TxInFlight, handedOff.State())
	ch.CompleteTx()
	assert.Equal(t, Free, handedOff.State())
}
