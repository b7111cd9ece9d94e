package xcpconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testdata = `
[session]
Name = bench
MaxCto = 8
MaxDto = 8
ResourceMask = 0x1D
CmdMsgId = 0x700
ResMsgId = 0x701
BroadcastMsgId = 0x7DF
DynamicDaqEnabled = true
DynamicDaqListsMax = 2

[segment0]
Name = Calibration
PageCount = 2
InitPage = 0
RangeStart = 0x1000
RangeEnd = 0x2000

[daqlist0]
Name = Engine
FirstPid = 0x10
Event = 1
Direction = daq
MaxOdt = 2
EntriesPerOdt = 3
ChannelDepth = 4

[daqlist1]
Name = Stimulus
FirstPid = 0x20
Event = 2
Direction = stim
Dynamic = true
MaxOdt = 4
EntriesPerOdt = 4
`

func TestLoadParsesSessionAndTables(t *testing.T) {
	cfg, err := Load([]byte(testdata))
	require.NoError(t, err)

	assert.Equal(t, "bench", cfg.Name)
	assert.EqualValues(t, 0x1D, cfg.ResourceMask)
	assert.EqualValues(t, 0x700, cfg.CmdChannel.MsgID)
	assert.True(t, cfg.DynamicDaqEnabled)

	require.Len(t, cfg.Segments, 1)
	assert.Equal(t, uint8(2), cfg.Segments[0].PageCount)

	require.Len(t, cfg.DaqLists, 2)
	var engine, stim *DaqListCfg
	for i := range cfg.DaqLists {
		switch cfg.DaqLists[i].Name {
		case "Engine":
			engine = &cfg.DaqLists[i]
		case "Stimulus":
			stim = &cfg.DaqLists[i]
		}
	}
	require.NotNil(t, engine)
	require.NotNil(t, stim)
	assert.Equal(t, DirectionDaq, engine.Direction)
	assert.EqualValues(t, 0x10, engine.FirstPID)
	assert.Equal(t, DirectionStim, stim.Direction)
	assert.True(t, stim.Dynamic)
	assert.Equal(t, InvalidMsgID, stim.Channel.MsgID)
}

func TestValidateRejectsPidCollision(t *testing.T) {
	const collision = `
[daqlist0]
Name = A
FirstPid = 0x10
MaxOdt = 4
[daqlist1]
Name = B
FirstPid = 0x12
MaxOdt = 2
`
	_, err := Load([]byte(collision))
	assert.Error(t, err)
}
