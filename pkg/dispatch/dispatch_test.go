package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcp-tools/xcpslave/pkg/session"
	"github.com/xcp-tools/xcpslave/pkg/wire"
	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

type nopApp struct{ session.App }

func testCfg() *xcpconf.SessionCfg {
	return &xcpconf.SessionCfg{
		Name:            "t",
		MaxCto:          8,
		CmdTimeoutTicks: 3,
		CmdChannel:      xcpconf.ChannelCfg{MsgID: 0x700, Depth: 4},
		EventChannel:    xcpconf.ChannelCfg{MsgID: 0x702, Depth: 2},
		ResChannel:      xcpconf.ChannelCfg{MsgID: 0x701, Depth: 4},
	}
}

func newTestSession() *session.Session {
	return session.New(testCfg(), nopApp{}, nil, nil)
}

func push(t *testing.T, s *session.Session, payload []byte) {
	t.Helper()
	require.True(t, s.CmdCh.PutRxData(payload))
}

func TestTickNoopWithoutRx(t *testing.T) {
	s := newTestSession()
	d := New(s, nil, Registry{}, nil)
	d.Tick() // nothing queued, must not panic or consume anything
	assert.Nil(t, s.CmdCh.GetRxBuf())
}

func TestTickBackpressureLeavesCommandQueued(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	// Fill every RES slot so GetTxBuf has nothing free.
	for i := 0; i < s.ResCh.Depth(); i++ {
		buf := s.ResCh.GetTxBuf()
		require.NotNil(t, buf)
		s.ResCh.TxNext(1, func() bool { return true }, nil)
	}
	push(t, s, []byte{wire.PidGetStatus})

	called := false
	d := New(s, nil, Registry{wire.PidGetStatus: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		called = true
		return RxReady | TxReady, 0
	}}, nil)
	d.Tick()

	assert.False(t, called, "handler must not run while RES is backpressured")
	assert.NotNil(t, s.CmdCh.GetRxBuf(), "command must stay queued")
}

func TestTickConnectionGateDropsNonConnect(t *testing.T) {
	s := newTestSession() // disconnected
	push(t, s, []byte{wire.PidGetStatus})

	called := false
	d := New(s, nil, Registry{wire.PidGetStatus: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		called = true
		return RxReady | TxReady, 0
	}}, nil)
	d.Tick()

	assert.False(t, called)
	assert.Nil(t, s.CmdCh.GetRxBuf(), "the dropped command must be popped")
}

func TestTickConnectAllowedWhileDisconnected(t *testing.T) {
	s := newTestSession()
	push(t, s, []byte{wire.PidConnect, 0x00})

	called := false
	d := New(s, nil, Registry{wire.PidConnect: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		called = true
		tx[0] = wire.RespOK
		return RxReady | TxReady, 1
	}}, nil)
	d.Tick()

	assert.True(t, called)
	slot, ready := s.ResCh.ReadyForHandoff()
	require.True(t, ready)
	assert.Equal(t, wire.RespOK, slot.Data[0])
}

func TestTickUnknownCommandRespondsError(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	push(t, s, []byte{0xAA})

	d := New(s, nil, Registry{}, nil)
	d.Tick()

	assert.Nil(t, s.CmdCh.GetRxBuf(), "unknown command must still be popped")
	slot, ready := s.ResCh.ReadyForHandoff()
	require.True(t, ready)
	assert.Equal(t, wire.RespError, slot.Data[0])
	assert.Equal(t, uint8(xcperr.ErrCmdUnknown), slot.Data[1])
}

func TestTickBothReadyCommitsAndPopsRx(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	push(t, s, []byte{wire.PidGetStatus})

	d := New(s, nil, Registry{wire.PidGetStatus: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		tx[0] = wire.RespOK
		tx[1] = 0x01
		return RxReady | TxReady, 2
	}}, nil)
	d.Tick()

	assert.Nil(t, s.CmdCh.GetRxBuf())
	slot, ready := s.ResCh.ReadyForHandoff()
	require.True(t, ready)
	assert.Equal(t, []byte{wire.RespOK, 0x01}, slot.Data[:2])
	assert.False(t, s.Pending().IsReexecution)
}

func TestTickTxOnlyReexecutesSameCommand(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	push(t, s, []byte{wire.PidUpload, 0x04})

	calls := 0
	var seenPrev []uint8
	d := New(s, nil, Registry{wire.PidUpload: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		calls++
		seenPrev = append(seenPrev, prevCmd)
		tx[0] = wire.RespOK
		return TxReady, 1
	}}, nil)

	d.Tick() // first invocation: prevCmd == 0 (not yet pending)
	require.True(t, s.Pending().IsReexecution)
	assert.NotNil(t, s.CmdCh.GetRxBuf(), "rx must remain queued across a TX-only round")

	// Drain the RES slot so the second Tick isn't backpressured.
	slot, ready := s.ResCh.ReadyForHandoff()
	require.True(t, ready)
	_ = slot
	s.ResCh.MarkInFlight()
	s.ResCh.CompleteTx()

	d.Tick() // second invocation: this is a re-execution

	require.Equal(t, 2, calls)
	assert.Equal(t, uint8(0x00), seenPrev[0])
	assert.Equal(t, session.CurrCmd, seenPrev[1])
}

func TestTickRxOnlyPopsWithNoReply(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	push(t, s, []byte{wire.PidDownload, 0x01, 0xAA})

	d := New(s, nil, Registry{wire.PidDownload: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		return RxReady, 0
	}}, nil)
	d.Tick()

	assert.Nil(t, s.CmdCh.GetRxBuf())
	_, ready := s.ResCh.ReadyForHandoff()
	assert.False(t, ready, "no response should be committed")
}

func TestTickSuspendTracksPendingTimeout(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	push(t, s, []byte{wire.PidProgram, 0x02})

	d := New(s, nil, Registry{wire.PidProgram: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		return 0, 0
	}}, nil)

	d.Tick()
	assert.NotNil(t, s.CmdCh.GetRxBuf(), "suspended command stays queued")
	assert.Equal(t, s.Cfg.CmdTimeoutTicks, s.PendingTimeoutTicks())

	d.Tick()
	assert.Equal(t, s.Cfg.CmdTimeoutTicks-1, s.PendingTimeoutTicks())
}

func TestTickSuspendEmitsCmdPendingOnTimeout(t *testing.T) {
	s := newTestSession()
	s.Connect(false)
	push(t, s, []byte{wire.PidProgram, 0x02})

	d := New(s, nil, Registry{wire.PidProgram: func(s *session.Session, rx []byte, prevCmd uint8, tx []byte) (Result, int) {
		return 0, 0
	}}, nil)

	for i := 0; i < s.Cfg.CmdTimeoutTicks+1; i++ {
		d.Tick()
	}

	slot, ready := s.EventCh.ReadyForHandoff()
	require.True(t, ready, "EV_CMD_PENDING must be emitted once the countdown expires")
	assert.Equal(t, wire.RespEvent, slot.Data[0])
	assert.Equal(t, wire.EvCmdPending, slot.Data[1])
}
