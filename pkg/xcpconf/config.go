// Package xcpconf loads the immutable per-session configuration
// tables (component B): channels, DAQ lists, segments and buffer
// extents. Configuration is read once at startup from an INI-style
// descriptor file using gopkg.in/ini.v1 — the same library and the
// same "one section per entity, numeric/keyword keys" idiom the
// teacher uses for its own EDS bootstrap tables — and turned into a
// flat, already-validated SessionCfg that the rest of the stack
// treats as read-only for the lifetime of the session.
package xcpconf

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Direction distinguishes a DAQ list's sampling direction.
type Direction uint8

const (
	DirectionDaq Direction = iota
	DirectionStim
)

// InvalidMsgID is the sentinel used when a DAQ/STIM channel has no
// statically configured message id and must fall back to the
// session's CMD (STIM) or RES (DAQ) id, per §4.E.
const InvalidMsgID uint32 = 0xFFFFFFFF

// ChannelCfg describes one transport channel: CMD, EVENT, RES, or a
// single DAQ/STIM lane.
type ChannelCfg struct {
	Name     string
	MsgID    uint32 // InvalidMsgID if not statically assigned
	Extended bool
	Depth    int
}

// DaqListCfg is the immutable shape of one DAQ list: how many ODTs it
// has (or, for a dynamic list, how many it may ever be allocated),
// how many entries per ODT, which event fires it, and its identity
// on the wire.
type DaqListCfg struct {
	Name          string
	FirstPID      uint8
	Event         uint8
	Direction     Direction
	EventFixed    bool
	Dynamic       bool
	MaxOdt        int // static: exact ODT count; dynamic: pool capacity
	EntriesPerOdt int // static: exact entry count per ODT; dynamic: pool capacity per ODT
	Resume        bool
	Channel       ChannelCfg
}

// SegCfg describes one page-switchable calibration memory segment.
type SegCfg struct {
	Name       string
	PageCount  uint8
	InitPage   uint8
	RangeStart uint32
	RangeEnd   uint32
}

// SessionCfg is the full immutable configuration of one XCP session.
type SessionCfg struct {
	Name string

	MaxCto uint8
	MaxDto uint8

	ProtocolVersionMajor uint8
	ProtocolVersionMinor uint8

	ResourceMask uint8 // CAL_PAG=0x01, DAQ=0x04, STIM=0x08, PGM=0x10

	BroadcastMsgID uint32
	CmdChannel     ChannelCfg
	EventChannel   ChannelCfg
	ResChannel     ChannelCfg

	DaqLists []DaqListCfg
	Segments []SegCfg

	DynamicDaqEnabled  bool
	DynamicDaqListsMax int

	CmdTimeoutTicks int // dispatcher suspend timeout, in dispatcher ticks

	MaxChecksumBlockSize uint32

	// TimestampWidth is the width in bytes (0, 1, 2 or 4) GET_DAQ_CLOCK
	// and DAQ-list TIMESTAMP mode report; 0 disables clock support.
	TimestampWidth uint8

	// ClearDaqListPreservesMode implements the quirk documented as
	// OQ1: CLEAR_DAQ_LIST in the source deliberately does not reset
	// mode/event, because a specific master implementation expects
	// the DAQ-list mode to survive a clear. Exposed as a switch
	// rather than hard-wired so a different master can get the
	// fully-resetting behaviour instead.
	ClearDaqListPreservesMode bool
}

var (
	sectionIdxRE = regexp.MustCompile(`^daqlist(\d+)$`)
	segmentIdxRE = regexp.MustCompile(`^segment(\d+)$`)
)

// Load parses a session descriptor from file (path, []byte, or
// io.Reader — anything ini.Load accepts).
func Load(file any) (*SessionCfg, error) {
	raw, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("xcpconf: %w", err)
	}

	session := raw.Section("session")
	cfg := &SessionCfg{
		Name:                      session.Key("Name").MustString("xcp-slave"),
		MaxCto:                    uint8(session.Key("MaxCto").MustInt(8)),
		MaxDto:                    uint8(session.Key("MaxDto").MustInt(8)),
		ProtocolVersionMajor:      uint8(session.Key("ProtocolVersionMajor").MustInt(1)),
		ProtocolVersionMinor:      uint8(session.Key("ProtocolVersionMinor").MustInt(0)),
		ResourceMask:              uint8(mustHex(session.Key("ResourceMask").MustString("0x00"))),
		BroadcastMsgID:            mustHex(session.Key("BroadcastMsgId").MustString("0x0")),
		DynamicDaqEnabled:         session.Key("DynamicDaqEnabled").MustBool(false),
		DynamicDaqListsMax:        session.Key("DynamicDaqListsMax").MustInt(0),
		CmdTimeoutTicks:           session.Key("CmdTimeoutTicks").MustInt(100),
		MaxChecksumBlockSize:      uint32(session.Key("MaxChecksumBlockSize").MustInt(0xFFFF)),
		TimestampWidth:            uint8(session.Key("TimestampWidth").MustInt(4)),
		ClearDaqListPreservesMode: session.Key("ClearDaqListPreservesMode").MustBool(true),
	}
	cfg.CmdChannel = ChannelCfg{
		Name:  "CMD",
		MsgID: mustHex(session.Key("CmdMsgId").MustString("0x0")),
		Depth: session.Key("CmdQueueDepth").MustInt(4),
	}
	cfg.EventChannel = ChannelCfg{
		Name:  "EVENT",
		MsgID: mustHex(session.Key("EventMsgId").MustString("0x0")),
		Depth: session.Key("EventQueueDepth").MustInt(2),
	}
	cfg.ResChannel = ChannelCfg{
		Name:  "RES",
		MsgID: mustHex(session.Key("ResMsgId").MustString("0x0")),
		Depth: session.Key("ResQueueDepth").MustInt(4),
	}

	for _, section := range raw.Sections() {
		name := section.Name()
		switch {
		case segmentIdxRE.MatchString(name):
			seg := SegCfg{
				Name:       section.Key("Name").MustString(name),
				PageCount:  uint8(section.Key("PageCount").MustInt(2)),
				InitPage:   uint8(section.Key("InitPage").MustInt(0)),
				RangeStart: mustHex(section.Key("RangeStart").MustString("0x0")),
				RangeEnd:   mustHex(section.Key("RangeEnd").MustString("0x0")),
			}
			if seg.PageCount < 2 {
				return nil, fmt.Errorf("xcpconf: segment %s must have at least 2 pages", name)
			}
			cfg.Segments = append(cfg.Segments, seg)

		case sectionIdxRE.MatchString(name):
			dir := DirectionDaq
			if strings.EqualFold(section.Key("Direction").MustString("daq"), "stim") {
				dir = DirectionStim
			}
			msgID := InvalidMsgID
			if v := section.Key("MsgId").String(); v != "" {
				msgID = mustHex(v)
			}
			list := DaqListCfg{
				Name:          section.Key("Name").MustString(name),
				FirstPID:      uint8(mustHex(section.Key("FirstPid").MustString("0x0"))),
				Event:         uint8(section.Key("Event").MustInt(0)),
				Direction:     dir,
				EventFixed:    section.Key("EventFixed").MustBool(false),
				Dynamic:       section.Key("Dynamic").MustBool(false),
				MaxOdt:        section.Key("MaxOdt").MustInt(1),
				EntriesPerOdt: section.Key("EntriesPerOdt").MustInt(1),
				Resume:        section.Key("Resume").MustBool(false),
				Channel: ChannelCfg{
					Name:  name,
					MsgID: msgID,
					Depth: section.Key("ChannelDepth").MustInt(4),
				},
			}
			cfg.DaqLists = append(cfg.DaqLists, list)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *SessionCfg) validate() error {
	seen := map[uint16]string{}
	for _, list := range cfg.DaqLists {
		last := int(list.FirstPID) + list.MaxOdt - 1
		if last > 0xBF {
			return fmt.Errorf("xcpconf: daq list %s firstPid+numOdt overflows PID space", list.Name)
		}
		for pid := int(list.FirstPID); pid <= last; pid++ {
			if owner, ok := seen[uint16(pid)]; ok {
				return fmt.Errorf("xcpconf: daq list %s PID 0x%x collides with %s", list.Name, pid, owner)
			}
			seen[uint16(pid)] = list.Name
		}
	}
	return nil
}

func mustHex(s string) uint32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
