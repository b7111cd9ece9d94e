package virtual

import (
	"testing"

	can "github.com/xcp-tools/xcpslave/pkg/can"
	"github.com/stretchr/testify/assert"
)

type frameReceiver struct {
	frames []can.Frame
}

func (r *frameReceiver) Handle(frame can.Frame) {
	r.frames = append(r.frames, frame)
}

type txCompleteRecorder struct {
	msgObjIDs []uint8
}

func (r *txCompleteRecorder) HandleTxComplete(msgObjID uint8) {
	r.msgObjIDs = append(r.msgObjIDs, msgObjID)
}

func newVcan(t *testing.T, channel string) *VirtualCanBus {
	t.Helper()
	bus, err := NewVirtualCanBus(channel)
	assert.NoError(t, err)
	vcan, ok := bus.(*VirtualCanBus)
	assert.True(t, ok)
	return vcan
}

func TestSendDeliversToOtherMembersOnly(t *testing.T) {
	vcan1 := newVcan(t, "chan-a")
	vcan2 := newVcan(t, "chan-a")
	assert.NoError(t, vcan1.Connect())
	assert.NoError(t, vcan2.Connect())
	defer vcan1.Disconnect()
	defer vcan2.Disconnect()

	rx1 := &frameReceiver{}
	rx2 := &frameReceiver{}
	assert.NoError(t, vcan1.Subscribe(rx1, nil))
	assert.NoError(t, vcan2.Subscribe(rx2, nil))

	frame := can.NewFrame(0x111, 0, 8, []byte{0, 1, 2, 3, 4, 5, 6, 7})
	assert.NoError(t, vcan1.Send(frame))

	assert.Empty(t, rx1.frames)
	assert.Len(t, rx2.frames, 1)
	assert.EqualValues(t, 0x111, rx2.frames[0].ID)
}

func TestSendReportsTxComplete(t *testing.T) {
	vcan1 := newVcan(t, "chan-b")
	assert.NoError(t, vcan1.Connect())
	defer vcan1.Disconnect()

	tx := &txCompleteRecorder{}
	assert.NoError(t, vcan1.Subscribe(nil, tx))

	frame := can.NewFrame(0x222, 3, 1, []byte{9})
	assert.NoError(t, vcan1.Send(frame))
	assert.Equal(t, []uint8{3}, tx.msgObjIDs)
}

func TestReceiveOwnDeliversSelfSentFrames(t *testing.T) {
	vcan1 := newVcan(t, "chan-c")
	assert.NoError(t, vcan1.Connect())
	defer vcan1.Disconnect()

	rx := &frameReceiver{}
	assert.NoError(t, vcan1.Subscribe(rx, nil))

	frame := can.NewFrame(0x111, 0, 8, []byte{0, 1, 2, 3, 4, 5, 6, 7})
	assert.NoError(t, vcan1.Send(frame))
	assert.Empty(t, rx.frames)

	vcan1.SetReceiveOwn(true)
	assert.NoError(t, vcan1.Send(frame))
	assert.Len(t, rx.frames, 1)
}

func TestDisconnectRemovesMembership(t *testing.T) {
	vcan1 := newVcan(t, "chan-d")
	vcan2 := newVcan(t, "chan-d")
	assert.NoError(t, vcan1.Connect())
	assert.NoError(t, vcan2.Connect())

	rx2 := &frameReceiver{}
	assert.NoError(t, vcan2.Subscribe(rx2, nil))
	assert.NoError(t, vcan2.Disconnect())

	frame := can.NewFrame(0x123, 0, 1, []byte{1})
	assert.NoError(t, vcan1.Send(frame))
	assert.Empty(t, rx2.frames)
}
