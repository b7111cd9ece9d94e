// Package virtual implements an in-process loopback CAN bus used by
// tests and examples in place of real hardware. It adapts the
// teacher's TCP-broker virtual bus (github.com/windelbouwman/virtualcan)
// into a single-process broker: buses sharing the same channel name
// are wired together through a package-level registry instead of a
// socket, since tests never need to cross a process boundary.
package virtual

import (
	"sync"

	can "github.com/xcp-tools/xcpslave/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

var broker = struct {
	mu      sync.Mutex
	members map[string][]*VirtualCanBus
}{members: make(map[string][]*VirtualCanBus)}

type VirtualCanBus struct {
	channel    string
	receiveOwn bool
	rx         can.FrameListener
	txComplete can.TxCompleteListener
	connected  bool
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &VirtualCanBus{channel: channel}, nil
}

// SetReceiveOwn controls whether frames this bus sends are also
// delivered back to its own listener, used by tests that want to
// observe their own TX traffic.
func (b *VirtualCanBus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}

func (b *VirtualCanBus) Connect(...any) error {
	broker.mu.Lock()
	defer broker.mu.Unlock()
	broker.members[b.channel] = append(broker.members[b.channel], b)
	b.connected = true
	return nil
}

func (b *VirtualCanBus) Disconnect() error {
	broker.mu.Lock()
	defer broker.mu.Unlock()
	members := broker.members[b.channel]
	for i, m := range members {
		if m == b {
			broker.members[b.channel] = append(members[:i], members[i+1:]...)
			break
		}
	}
	b.connected = false
	return nil
}

// Send delivers the frame to every other bus connected on the same
// channel (and to itself if SetReceiveOwn(true) was called), then
// reports an immediate TX-complete for the frame's message object,
// standing in for the hardware's TX-complete interrupt.
func (b *VirtualCanBus) Send(frame can.Frame) error {
	broker.mu.Lock()
	members := append([]*VirtualCanBus(nil), broker.members[b.channel]...)
	broker.mu.Unlock()

	for _, m := range members {
		if m == b && !b.receiveOwn {
			continue
		}
		if m.rx != nil {
			m.rx.Handle(frame)
		}
	}
	if b.txComplete != nil {
		b.txComplete.HandleTxComplete(frame.MsgObjID)
	}
	return nil
}

func (b *VirtualCanBus) Subscribe(rx can.FrameListener, txComplete can.TxCompleteListener) error {
	b.rx = rx
	b.txComplete = txComplete
	return nil
}
