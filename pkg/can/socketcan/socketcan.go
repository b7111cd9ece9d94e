// Package socketcan wraps github.com/brutella/can as a concrete
// can.Bus backend, the same library and wrapping shape the teacher
// uses for its own socketcan backend.
package socketcan

import (
	"fmt"

	sockcan "github.com/brutella/can"

	can "github.com/xcp-tools/xcpslave/pkg/can"
	"github.com/xcp-tools/xcpslave/pkg/target"
)

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	bus          *sockcan.Bus
	rxCallback   can.FrameListener
	txCompleteCb can.TxCompleteListener
}

func (s *SocketcanBus) Connect(...any) error {
	go s.bus.ConnectAndPublish()
	return nil
}

func (s *SocketcanBus) Disconnect() error {
	return s.bus.Disconnect()
}

// Send publishes the frame. SocketCAN exposes a single software queue
// rather than discrete hardware mailboxes, so there is exactly one
// message object (id 0); a successful Publish is reported as an
// immediate TX-complete for that object, driving the bridge's
// arbitration scan the same way a real CAN peripheral's TX-complete
// interrupt would.
func (s *SocketcanBus) Send(frame can.Frame) error {
	if !target.ValidCanID(frame.ID, frame.Extended) {
		return fmt.Errorf("socketcan: invalid CAN id %#x (extended=%v)", frame.ID, frame.Extended)
	}
	err := s.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
	if err == nil && s.txCompleteCb != nil {
		go s.txCompleteCb.HandleTxComplete(0)
	}
	return err
}

func (s *SocketcanBus) Subscribe(rx can.FrameListener, txComplete can.TxCompleteListener) error {
	s.rxCallback = rx
	s.txCompleteCb = txComplete
	s.bus.Subscribe(s)
	return nil
}

// Handle implements brutella/can's frame-handler interface.
func (s *SocketcanBus) Handle(frame sockcan.Frame) {
	s.rxCallback.Handle(can.Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data})
}

func NewSocketCanBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	return &SocketcanBus{bus: bus}, err
}
