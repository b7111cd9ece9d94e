package canbridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcp-tools/xcpslave/pkg/can"
	"github.com/xcp-tools/xcpslave/pkg/can/virtual"
	"github.com/xcp-tools/xcpslave/pkg/daqengine"
	"github.com/xcp-tools/xcpslave/pkg/dispatch"
	"github.com/xcp-tools/xcpslave/pkg/handlers"
	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
)

// captureListener is a can.FrameListener that records everything it
// sees, standing in for a peer ECU tool on the bus.
type captureListener struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (c *captureListener) Handle(frame can.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *captureListener) last() (can.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return can.Frame{}, false
	}
	return c.frames[len(c.frames)-1], true
}

// fullDaqApp is a minimal, fully-implemented session.App: unlike
// nopApp (embedding a nil session.App, which panics if actually
// invoked), the DAQ path below reads application memory for real.
type fullDaqApp struct {
	mem map[uint32]byte
}

func newFullDaqApp() *fullDaqApp { return &fullDaqApp{mem: map[uint32]byte{}} }

func (a *fullDaqApp) ConvertAddress(addr uint32, ext uint8) (uint32, session.Status, error) {
	return addr, session.Finished, nil
}
func (a *fullDaqApp) Read(mta uint32, ext uint8, buf []byte) (session.Status, error) {
	for i := range buf {
		buf[i] = a.mem[mta+uint32(i)]
	}
	return session.Finished, nil
}
func (a *fullDaqApp) Write(mta uint32, ext uint8, data []byte) (session.Status, error) {
	for i, b := range data {
		a.mem[mta+uint32(i)] = b
	}
	return session.Finished, nil
}
func (a *fullDaqApp) ModifyBits(mta uint32, ext uint8, shift uint8, and, xor uint16) (session.Status, error) {
	return session.Finished, nil
}
func (a *fullDaqApp) BuildChecksum(mta uint32, ext uint8, n uint32) (session.Status, session.ChecksumType, uint32, error) {
	return session.Finished, session.ChecksumAdd11, 0, nil
}
func (a *fullDaqApp) SetCalPage(segment, page, mode uint8) (session.Status, error) {
	return session.Finished, nil
}
func (a *fullDaqApp) GetCalPage(segment, mode uint8) (uint8, session.Status, error) {
	return 0, session.Finished, nil
}
func (a *fullDaqApp) CopyCalPage(srcSeg, srcPage, dstSeg, dstPage uint8) (session.Status, error) {
	return session.Finished, nil
}
func (a *fullDaqApp) FreezePage(segment uint8) (session.Status, error) { return session.Finished, nil }
func (a *fullDaqApp) GetSeed(resource uint8, first bool, out []byte) (int, error) {
	return 0, nil
}
func (a *fullDaqApp) Unlock(resource uint8, key []byte) (bool, uint8, session.Status, error) {
	return true, 0, session.Finished, nil
}
func (a *fullDaqApp) ProgramStart() (uint8, session.Status, error) { return 8, session.Finished, nil }
func (a *fullDaqApp) ProgramClear(mode uint8, size uint32) (session.Status, error) {
	return session.Finished, nil
}
func (a *fullDaqApp) Program(data []byte) (session.Status, error) { return session.Finished, nil }
func (a *fullDaqApp) ProgramPrepare(codeSize uint32) (session.Status, error) {
	return session.Finished, nil
}
func (a *fullDaqApp) ProgramFormat(x, y, z, w uint8) (session.Status, error) {
	return session.Finished, nil
}
func (a *fullDaqApp) ProgramReset() (session.Status, error) { return session.Finished, nil }
func (a *fullDaqApp) StoreDaq() (session.Status, error)     { return session.Finished, nil }
func (a *fullDaqApp) ClearDaq() (session.Status, error)     { return session.Finished, nil }
func (a *fullDaqApp) UserCmd(sub uint8, data []byte) ([]byte, session.Status, error) {
	return nil, session.Finished, nil
}

// runWithDeadline runs fn in a goroutine and fails the test if it
// hasn't returned within d — the shape a reviewer would expect to
// prove Kick's caller never re-blocks on its own session lock.
func runWithDeadline(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("deadlock: call did not return within deadline")
	}
}

// TestDispatchTickCommitDrivesRealBridgeWithoutDeadlock wires a real
// Bridge to a real Dispatcher over the virtual bus and drives a full
// CONNECT round trip through it. Before the kick-after-unlock fix,
// Dispatcher.commit called Bridge.Kick while still holding s.Lock();
// the virtual bus's synchronous Send->HandleTxComplete callback would
// re-enter pickNextTx's s.Lock() on the very same session and hang
// forever, so this test would never reach its assertions.
func TestDispatchTickCommitDrivesRealBridgeWithoutDeadlock(t *testing.T) {
	bus, err := virtual.NewVirtualCanBus("bridge-dispatch-it")
	require.NoError(t, err)
	require.NoError(t, bus.Connect())

	br, err := New(bus)
	require.NoError(t, err)

	cfg := &xcpconf.SessionCfg{
		Name:            "it",
		MaxCto:          8,
		MaxDto:          8,
		CmdTimeoutTicks: 3,
		CmdChannel:      xcpconf.ChannelCfg{MsgID: 0x700, Depth: 4},
		EventChannel:    xcpconf.ChannelCfg{MsgID: 0x702, Depth: 2},
		ResChannel:      xcpconf.ChannelCfg{MsgID: 0x701, Depth: 4},
	}
	s := session.New(cfg, nopApp{}, nil, nil)
	br.Register(s)

	d := dispatch.New(s, br, handlers.All(), nil)

	peer, err := virtual.NewVirtualCanBus("bridge-dispatch-it")
	require.NoError(t, err)
	require.NoError(t, peer.Connect())
	capture := &captureListener{}
	require.NoError(t, peer.Subscribe(capture, nil))

	require.NoError(t, peer.Send(can.NewFrame(cfg.CmdChannel.MsgID, 0, 2, []byte{wire.PidConnect, 0x00})))
	time.Sleep(5 * time.Millisecond)
	require.NotNil(t, s.CmdCh.GetRxBuf(), "CONNECT must have been classified into CmdCh")

	runWithDeadline(t, 500*time.Millisecond, d.Tick)

	assert.Nil(t, s.CmdCh.GetRxBuf(), "CONNECT must be popped off CmdCh")
	time.Sleep(5 * time.Millisecond)

	frame, ok := capture.last()
	require.True(t, ok, "the CONNECT response must have reached the peer over the bus")
	assert.Equal(t, cfg.ResChannel.MsgID, frame.ID)
	assert.Equal(t, wire.RespOK, frame.Data[0])
}

// TestDaqEngineEventDrivesRealBridgeWithoutDeadlock mirrors the
// dispatch case for the DAQ sampling path: Engine.Event holds s.Lock()
// across sampleList, which used to call bridge.Kick directly.
func TestDaqEngineEventDrivesRealBridgeWithoutDeadlock(t *testing.T) {
	bus, err := virtual.NewVirtualCanBus("bridge-daq-it")
	require.NoError(t, err)
	require.NoError(t, bus.Connect())

	br, err := New(bus)
	require.NoError(t, err)

	cfg := &xcpconf.SessionCfg{
		Name: "it", MaxCto: 8, MaxDto: 8, TimestampWidth: 4,
		CmdChannel: xcpconf.ChannelCfg{MsgID: 0x700, Depth: 2},
		ResChannel: xcpconf.ChannelCfg{MsgID: 0x701, Depth: 2},
		DaqLists: []xcpconf.DaqListCfg{{
			Name: "measure", FirstPID: 0x10, Event: 0, MaxOdt: 1, EntriesPerOdt: 1,
			Channel: xcpconf.ChannelCfg{Depth: 2, MsgID: 0x300},
		}},
	}
	app := newFullDaqApp()
	app.mem[0x2000] = 0x42
	s := session.New(cfg, app, nil, nil)
	s.Connect(false)
	require.NoError(t, s.SetDaqPtr(0, 0, 0))
	require.NoError(t, s.WriteDaqByte(0x2000, 0, 1))
	s.DaqLists[0].Mode |= session.ModeRunning

	br.Register(s)
	e := daqengine.New(br)
	e.Register(s)

	peer, err := virtual.NewVirtualCanBus("bridge-daq-it")
	require.NoError(t, err)
	require.NoError(t, peer.Connect())
	capture := &captureListener{}
	require.NoError(t, peer.Subscribe(capture, nil))

	var result daqengine.Result
	runWithDeadline(t, 500*time.Millisecond, func() {
		result = e.Event(0, false)
	})
	assert.Equal(t, daqengine.Executed, result)

	time.Sleep(5 * time.Millisecond)
	frame, ok := capture.last()
	require.True(t, ok, "the sampled DTO must have reached the peer over the bus")
	assert.Equal(t, cfg.DaqLists[0].Channel.MsgID, frame.ID)
	assert.Equal(t, uint8(0x10), frame.Data[0])
	assert.Equal(t, uint8(0x42), frame.Data[1])
}
