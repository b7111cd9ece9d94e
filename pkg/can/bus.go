// Package can defines the CAN driver seam the protocol engine is
// built against: a Frame type, a FrameListener/TxCompleteListener
// callback pair and a pluggable Bus interface with a small backend
// registry, so the same session/dispatch code runs against a real
// SocketCAN adapter or an in-process virtual bus used by tests.
package can

import "fmt"

// Frame is one CAN message: up to 8 data bytes under a standard or
// extended identifier. MsgObjID is the hardware mailbox the frame was
// sent through or received on; it is what TX arbitration keys off of
// when multiple channels share one message object.
type Frame struct {
	ID       uint32
	MsgObjID uint8
	Extended bool
	DLC      uint8
	Data     [8]byte
}

func NewFrame(id uint32, msgObjID uint8, dlc uint8, data []byte) Frame {
	f := Frame{ID: id, MsgObjID: msgObjID, DLC: dlc}
	copy(f.Data[:], data)
	return f
}

// FrameListener receives every frame the Bus picks up off the wire.
type FrameListener interface {
	Handle(frame Frame)
}

// TxCompleteListener receives notification that a message object has
// finished transmitting, driving the TX arbitration scan.
type TxCompleteListener interface {
	HandleTxComplete(msgObjID uint8)
}

// Bus is the driver contract required from the host (§6 "CAN driver
// API"). Send is expected to be non-blocking; RX/TX-complete delivery
// happens via the FrameListener/TxCompleteListener passed to
// Subscribe.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(rx FrameListener, txComplete TxCompleteListener) error
}

// NewInterfaceFunc constructs a Bus for a named backend; backends
// self-register via RegisterInterface from an init() function, the
// same plugin idiom the reference CAN stack uses so that adding a new
// backend never touches this package.
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

func RegisterInterface(name string, ctor NewInterfaceFunc) {
	interfaceRegistry[name] = ctor
}

// AvailableInterfaces lists the backends actually registered at
// runtime (populated by the blank imports in pkg/can/all).
var AvailableInterfaces = interfaceRegistry

func NewBus(interfaceName string, channel string) (Bus, error) {
	ctor, ok := interfaceRegistry[interfaceName]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", interfaceName)
	}
	return ctor(channel)
}
