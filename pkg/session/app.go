package session

// Status is the application-callback status enum of §6: every
// calibration-memory, programming and checksum call returns one of
// these, with Busy driving the dispatcher's suspend path.
type Status uint8

const (
	Finished Status = iota
	Busy
	OutOfRam
	Rejected
	BadAddress
	PageNotValid
	SegNotValid
	RequestNotValid
)

// Resource bits, shared by the resource mask (CONNECT response) and
// the seed/key protection mask (GET_SEED/UNLOCK).
const (
	ResourceCalPag uint8 = 0x01
	ResourceDaq    uint8 = 0x04
	ResourceStim   uint8 = 0x08
	ResourcePgm    uint8 = 0x10
)

// ChecksumType identifies the algorithm BUILD_CHECKSUM used, echoed
// in the response.
type ChecksumType uint8

const (
	ChecksumAdd11 ChecksumType = iota + 1
	ChecksumAdd12
	ChecksumAdd14
	ChecksumAdd22
	ChecksumAdd24
	ChecksumAdd44
	ChecksumCrc16
	ChecksumCrc16Ccitt
	ChecksumCrc32
)

// App is the application-domain collaborator every command handler
// delegates memory access, paging and programming to (§6
// "Application API"). It is an external collaborator by design —
// component A/B/C/D/E..J never reach into application memory
// directly — the same separation the object dictionary's
// Stream/StreamReader/StreamWriter indirection gives the teacher's
// SDO and PDO engines.
type App interface {
	// ConvertAddress validates and translates an (address, extension)
	// pair as the target of SET_MTA. Address 0 must be rejected by
	// the caller before this is invoked.
	ConvertAddress(addr uint32, ext uint8) (effective uint32, status Status, err error)

	// Read copies len(buf) bytes starting at mta into buf (UPLOAD /
	// SHORT_UPLOAD, DAQ sampling).
	Read(mta uint32, ext uint8, buf []byte) (Status, error)

	// Write copies data to mta (DOWNLOAD family, STIM apply).
	Write(mta uint32, ext uint8, data []byte) (Status, error)

	// ModifyBits rewrites the bits selected by mask at mta; shift
	// left-shifts both masks before applying them. MTA is not advanced.
	ModifyBits(mta uint32, ext uint8, shift uint8, andMask, xorMask uint16) (Status, error)

	// BuildChecksum computes a checksum over blockSize bytes starting
	// at mta using the application's preferred algorithm (Busy is a
	// legal status for slow/hardware-assisted checksums).
	BuildChecksum(mta uint32, ext uint8, blockSize uint32) (Status, ChecksumType, uint32, error)

	// SetCalPage/GetCalPage/CopyCalPage implement page switching for
	// one segment. mode carries the ECU/tool-page bit selection.
	SetCalPage(segment uint8, page uint8, mode uint8) (Status, error)
	GetCalPage(segment uint8, mode uint8) (page uint8, status Status, err error)
	CopyCalPage(srcSeg, srcPage, dstSeg, dstPage uint8) (Status, error)

	// FreezePage copies the current tool page into the segment's
	// init page (SET_REQUEST STORE_CAL).
	FreezePage(segment uint8) (Status, error)

	// GetSeed returns the next chunk of the challenge for resource,
	// sized to at most len(out); first indicates a fresh challenge
	// vs a continuation request.
	GetSeed(resource uint8, first bool, out []byte) (n int, err error)

	// Unlock validates one chunk of key material; done indicates the
	// application has received the complete key and can report the
	// resulting protection mask.
	Unlock(resource uint8, key []byte) (done bool, protectionMask uint8, status Status, err error)

	// ProgramStart begins a flash programming session, reporting the
	// max CTO the programming transport should use.
	ProgramStart() (maxCtoPgm uint8, status Status, err error)
	ProgramClear(mode uint8, size uint32) (Status, error)
	Program(data []byte) (Status, error)
	ProgramPrepare(codeSize uint32) (Status, error)
	ProgramFormat(compressionMethod, encryptionMethod, programmingMethod, accessMethod uint8) (Status, error)
	ProgramReset() (Status, error)

	// StoreDaq/ClearDaq persist or wipe the RESUME-capable DAQ
	// configuration in non-volatile memory (SET_REQUEST).
	StoreDaq() (Status, error)
	ClearDaq() (Status, error)

	// UserCmd is a pure pass-through for USER_CMD.
	UserCmd(subCommand uint8, data []byte) (response []byte, status Status, err error)
}
