package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcp-tools/xcpslave/pkg/xcpconf"
	"github.com/xcp-tools/xcpslave/pkg/xcperr"
)

type fakeApp struct {
	seed         []byte
	seedOffset   int
	wantKey      []byte
	gotKey       []byte
	calPageSeg   uint8
	calPageTool  uint8
	calPageEcu   uint8
}

func (f *fakeApp) ConvertAddress(addr uint32, ext uint8) (uint32, Status, error) {
	return addr, Finished, nil
}
func (f *fakeApp) Read(mta uint32, ext uint8, buf []byte) (Status, error)  { return Finished, nil }
func (f *fakeApp) Write(mta uint32, ext uint8, data []byte) (Status, error) { return Finished, nil }
func (f *fakeApp) ModifyBits(mta uint32, ext uint8, shift uint8, and, xor uint16) (Status, error) {
	return Finished, nil
}
func (f *fakeApp) BuildChecksum(mta uint32, ext uint8, n uint32) (Status, ChecksumType, uint32, error) {
	return Finished, ChecksumCrc16, 0, nil
}
func (f *fakeApp) SetCalPage(segment, page, mode uint8) (Status, error) { return Finished, nil }
func (f *fakeApp) GetCalPage(segment, mode uint8) (uint8, Status, error) {
	return 0, Finished, nil
}
func (f *fakeApp) CopyCalPage(srcSeg, srcPage, dstSeg, dstPage uint8) (Status, error) {
	return Finished, nil
}
func (f *fakeApp) FreezePage(segment uint8) (Status, error) { return Finished, nil }
func (f *fakeApp) GetSeed(resource uint8, first bool, out []byte) (int, error) {
	if first {
		f.seedOffset = 0
	}
	n := copy(out, f.seed[f.seedOffset:])
	f.seedOffset += n
	return n, nil
}
func (f *fakeApp) Unlock(resource uint8, key []byte) (bool, uint8, Status, error) {
	f.gotKey = append(f.gotKey, key...)
	done := len(f.gotKey) >= len(f.wantKey)
	if !done {
		return false, 0, Finished, nil
	}
	ok := string(f.gotKey) == string(f.wantKey)
	if !ok {
		return true, 0, RequestNotValid, nil
	}
	return true, resource, Finished, nil
}
func (f *fakeApp) ProgramStart() (uint8, Status, error)         { return 8, Finished, nil }
func (f *fakeApp) ProgramClear(mode uint8, size uint32) (Status, error) { return Finished, nil }
func (f *fakeApp) Program(data []byte) (Status, error)          { return Finished, nil }
func (f *fakeApp) ProgramPrepare(codeSize uint32) (Status, error) { return Finished, nil }
func (f *fakeApp) ProgramFormat(a, b, c, d uint8) (Status, error) { return Finished, nil }
func (f *fakeApp) ProgramReset() (Status, error)                { return Finished, nil }
func (f *fakeApp) StoreDaq() (Status, error)                    { return Finished, nil }
func (f *fakeApp) ClearDaq() (Status, error)                    { return Finished, nil }
func (f *fakeApp) UserCmd(sub uint8, data []byte) ([]byte, Status, error) {
	return nil, Finished, nil
}

func testCfg() *xcpconf.SessionCfg {
	return &xcpconf.SessionCfg{
		Name:                      "test",
		CmdChannel:                xcpconf.ChannelCfg{Depth: 4},
		EventChannel:              xcpconf.ChannelCfg{Depth: 2},
		ResChannel:                xcpconf.ChannelCfg{Depth: 4},
		ClearDaqListPreservesMode: true,
		Segments: []xcpconf.SegCfg{
			{Name: "Cal", PageCount: 2, InitPage: 0},
		},
		DaqLists: []xcpconf.DaqListCfg{
			{Name: "A", FirstPID: 0x10, MaxOdt: 2, EntriesPerOdt: 2, Channel: xcpconf.ChannelCfg{Depth: 4, MsgID: xcpconf.InvalidMsgID}},
			{Name: "B", FirstPID: 0x20, Dynamic: true, MaxOdt: 4, EntriesPerOdt: 4, Channel: xcpconf.ChannelCfg{Depth: 4, MsgID: xcpconf.InvalidMsgID}},
		},
	}
}

func newTestSession() *Session {
	return New(testCfg(), &fakeApp{}, nil, nil)
}

func TestConnectDisconnectResetsState(t *testing.T) {
	s := newTestSession()
	assert.False(t, s.Connected())

	s.Connect(false)
	assert.Equal(t, ConnectedNormal, s.State())

	s.SetMTA(0x1000, 0)
	require.NoError(t, s.SetDaqPtr(0, 0, 0))
	require.NoError(t, s.WriteDaqByte(0x2000, 0, 2))

	s.Disconnect()
	assert.Equal(t, Disconnected, s.State())
	addr, ext := s.MTA()
	assert.Zero(t, addr)
	assert.Zero(t, ext)
	assert.False(t, s.DaqLists[0].Odts[0].Entries[0].Configured())
}

func TestWriteDaqWithoutSetDaqPtrIsSequenceError(t *testing.T) {
	s := newTestSession()
	err := s.WriteDaqByte(0x1000, 0, 1)
	assert.Equal(t, xcperr.ErrSequence, xcperr.AsCode(err))
}

func TestWriteDaqAdvancesPointerAndMaxOdtIdUsed(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.SetDaqPtr(0, 0, 0))
	require.NoError(t, s.WriteDaqByte(0x100, 0, 4))
	require.NoError(t, s.WriteDaqByte(0x200, 0, 2))
	assert.EqualValues(t, 1, s.DaqLists[0].MaxOdtIdUsed)
	assert.True(t, s.DaqLists[0].Odts[0].Entries[0].Configured())
	assert.True(t, s.DaqLists[0].Odts[0].Entries[1].Configured())
}

func TestClearDaqListPreservesModeWhenConfigured(t *testing.T) {
	s := newTestSession()
	s.DaqLists[0].Mode = ModeResume | ModeTimestamp
	require.NoError(t, s.ClearDaqList(0))
	assert.Equal(t, ModeResume|ModeTimestamp, s.DaqLists[0].Mode)
}

func TestDynamicDaqAllocSequence(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.AllocDaq(1, 2))
	require.NoError(t, s.AllocOdt(1, 0, 3))
	require.NoError(t, s.AllocOdtEntry(1, 0, 2))

	err := s.AllocOdt(1, 1, 10)
	assert.Equal(t, xcperr.ErrMemoryOverflow, xcperr.AsCode(err))
}

func TestDynamicDaqAllocOutOfOrderIsSequenceError(t *testing.T) {
	s := newTestSession()
	err := s.AllocOdt(1, 0, 2)
	assert.Equal(t, xcperr.ErrSequence, xcperr.AsCode(err))
}

func TestFreeDaqOnlyAffectsDynamicLists(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.AllocDaq(1, 2))
	s.FreeDaq()
	assert.Nil(t, s.DaqLists[1].Odts)
	assert.NotNil(t, s.DaqLists[0].Odts)
}

func TestSeedKeyRoundTrip(t *testing.T) {
	app := &fakeApp{seed: []byte{0x11, 0x22, 0x33}, wantKey: []byte{0xAA, 0xBB, 0xCC}}
	s := New(testCfg(), app, nil, nil)

	buf := make([]byte, 2)
	n, err := s.GetSeed(ResourceCalPag, true, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.GetSeed(ResourceCalPag, false, buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done, _, err := s.Unlock([]byte{0xAA, 0xBB})
	require.NoError(t, err)
	assert.False(t, done)

	done, mask, err := s.Unlock([]byte{0xCC})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, ResourceCalPag, mask)
}

func TestUnlockWithoutSeedIsSequenceError(t *testing.T) {
	s := newTestSession()
	_, _, err := s.Unlock([]byte{0x01})
	assert.Equal(t, xcperr.ErrSequence, xcperr.AsCode(err))
}

func TestSetGetCalPage(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.SetCalPage(0, 1, PageModeEcu|PageModeTool))
	page, err := s.GetCalPage(0, PageModeTool)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page)
}

func TestSetCalPageRejectsBadPage(t *testing.T) {
	s := newTestSession()
	err := s.SetCalPage(0, 9, PageModeTool)
	assert.Equal(t, xcperr.ErrPageNotValid, xcperr.AsCode(err))
}

func TestBlockTransferSequencing(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.BeginBlock(blockDownload, 10))
	remaining, err := s.AdvanceBlock(blockDownload, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 6, remaining)

	_, err = s.BeginBlock(blockDownload, 1)
	assert.Equal(t, xcperr.ErrSequence, xcperr.AsCode(err))

	remaining, err = s.AdvanceBlock(blockDownload, 6)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.False(t, s.blockXfer.Active())
}
