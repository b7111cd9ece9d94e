// Package xcperr defines the XCP wire error-code taxonomy. Every
// command handler reports failures through this single enum so that
// a generic error-packet writer in dispatch can serialize any of them
// the same way, rather than each handler hand-rolling its own ERR
// byte.
package xcperr

// Code is one byte of the XCP-defined error-code space, returned
// verbatim inside an ERROR (0xFE) response packet.
type Code uint8

// Wire-defined error codes (ASAM XCP Part 2, table "Error Codes").
const (
	ErrCmdSynch        Code = 0x00
	ErrCmdBusy         Code = 0x10
	ErrDaqActive       Code = 0x11
	ErrPgmActive       Code = 0x12
	ErrCmdUnknown      Code = 0x20
	ErrCmdSyntax       Code = 0x21
	ErrOutOfRange      Code = 0x22
	ErrWriteProtected  Code = 0x23
	ErrAccessDenied    Code = 0x24
	ErrAccessLocked    Code = 0x25
	ErrPageNotValid    Code = 0x26
	ErrModeNotValid    Code = 0x27
	ErrSegmentNotValid Code = 0x28
	ErrSequence        Code = 0x29
	ErrDaqConfig       Code = 0x2A
	ErrMemoryOverflow  Code = 0x30
	ErrGeneric         Code = 0x31
	ErrVerify          Code = 0x32
)

// origin classifies which of the five origin kinds in §7 produced a
// given Code; purely informational, used for logging.
type Origin uint8

const (
	OriginParameterRange Origin = iota
	OriginSequence
	OriginAccess
	OriginAsync
	OriginSynch
)

var origins = map[Code]Origin{
	ErrOutOfRange:      OriginParameterRange,
	ErrModeNotValid:    OriginParameterRange,
	ErrSegmentNotValid: OriginParameterRange,
	ErrPageNotValid:    OriginParameterRange,
	ErrSequence:        OriginSequence,
	ErrDaqActive:       OriginSequence,
	ErrPgmActive:       OriginSequence,
	ErrAccessDenied:    OriginAccess,
	ErrAccessLocked:    OriginAccess,
	ErrWriteProtected:  OriginAccess,
	ErrMemoryOverflow:  OriginAsync,
	ErrCmdBusy:         OriginAsync,
	ErrGeneric:         OriginAsync,
	ErrCmdSynch:        OriginSynch,
}

func (c Code) Origin() Origin {
	if o, ok := origins[c]; ok {
		return o
	}
	return OriginParameterRange
}

// Error implements the error interface so handlers can return a Code
// through normal Go error-handling paths when convenient, while the
// dispatcher still extracts the wire byte via AsCode.
func (c Code) Error() string {
	if name, ok := names[c]; ok {
		return name
	}
	return "unknown XCP error"
}

var names = map[Code]string{
	ErrCmdSynch:        "ERR_CMD_SYNCH",
	ErrCmdBusy:         "ERR_CMD_BUSY",
	ErrDaqActive:       "ERR_DAQ_ACTIVE",
	ErrPgmActive:       "ERR_PGM_ACTIVE",
	ErrCmdUnknown:      "ERR_CMD_UNKNOWN",
	ErrCmdSyntax:       "ERR_CMD_SYNTAX",
	ErrOutOfRange:      "ERR_OUT_OF_RANGE",
	ErrWriteProtected:  "ERR_WRITE_PROTECTED",
	ErrAccessDenied:    "ERR_ACCESS_DENIED",
	ErrAccessLocked:    "ERR_ACCESS_LOCKED",
	ErrPageNotValid:    "ERR_PAGE_NOT_VALID",
	ErrModeNotValid:    "ERR_MODE_NOT_VALID",
	ErrSegmentNotValid: "ERR_SEGMENT_NOT_VALID",
	ErrSequence:        "ERR_SEQUENCE",
	ErrDaqConfig:       "ERR_DAQ_CONFIG",
	ErrMemoryOverflow:  "ERR_MEMORY_OVERFLOW",
	ErrGeneric:         "ERR_GENERIC",
	ErrVerify:          "ERR_VERIFY",
}

// AsCode extracts a Code from an error, defaulting to ErrGeneric for
// any error that did not originate in this package (e.g. an
// application-callback error wrapped by a handler).
func AsCode(err error) Code {
	if err == nil {
		return 0
	}
	if c, ok := err.(Code); ok {
		return c
	}
	return ErrGeneric
}
