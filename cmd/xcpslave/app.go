package main

import (
	"log/slog"
	"sync"

	"github.com/xcp-tools/xcpslave/internal/crc"
	"github.com/xcp-tools/xcpslave/pkg/session"
)

// fileApp is the default session.App: a flat in-process byte space
// standing in for ECU RAM/flash, exercised the same way the teacher's
// cmd/canopen/extension_example.go wires a toy DOMAIN-object
// read/write pair to a real file instead of leaving the hook
// unimplemented. A production host normally supplies its own App
// bound to real memory-mapped calibration RAM.
type fileApp struct {
	mu  sync.Mutex
	mem map[uint32]byte

	seed       []byte
	seedOffset int

	logger *slog.Logger
}

func newFileApp(logger *slog.Logger) *fileApp {
	return &fileApp{mem: make(map[uint32]byte), logger: logger}
}

func (a *fileApp) ConvertAddress(addr uint32, ext uint8) (uint32, session.Status, error) {
	return addr, session.Finished, nil
}

func (a *fileApp) Read(mta uint32, ext uint8, buf []byte) (session.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range buf {
		buf[i] = a.mem[mta+uint32(i)]
	}
	return session.Finished, nil
}

func (a *fileApp) Write(mta uint32, ext uint8, data []byte) (session.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, b := range data {
		a.mem[mta+uint32(i)] = b
	}
	return session.Finished, nil
}

func (a *fileApp) ModifyBits(mta uint32, ext uint8, shift uint8, andMask, xorMask uint16) (session.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := uint16(a.mem[mta]) | uint16(a.mem[mta+1])<<8
	cur = (cur & (andMask << shift)) ^ (xorMask << shift)
	a.mem[mta] = uint8(cur)
	a.mem[mta+1] = uint8(cur >> 8)
	return session.Finished, nil
}

func (a *fileApp) BuildChecksum(mta uint32, ext uint8, blockSize uint32) (session.Status, session.ChecksumType, uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var c crc.CRC16
	for i := uint32(0); i < blockSize; i++ {
		c.Single(a.mem[mta+i])
	}
	return session.Finished, session.ChecksumCrc16Ccitt, uint32(c), nil
}

func (a *fileApp) SetCalPage(segment uint8, page uint8, mode uint8) (session.Status, error) {
	return session.Finished, nil
}

func (a *fileApp) GetCalPage(segment uint8, mode uint8) (uint8, session.Status, error) {
	return 0, session.Finished, nil
}

func (a *fileApp) CopyCalPage(srcSeg, srcPage, dstSeg, dstPage uint8) (session.Status, error) {
	return session.Finished, nil
}

func (a *fileApp) FreezePage(segment uint8) (session.Status, error) {
	return session.Finished, nil
}

// GetSeed hands out a fixed demo seed in maxlen-sized chunks; a real
// deployment replaces this with a hardware RNG or a per-ECU secret.
func (a *fileApp) GetSeed(resource uint8, first bool, out []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if first {
		a.seed = []byte{0xDE, 0xAD, 0xBE, 0xEF}
		a.seedOffset = 0
	}
	n := copy(out, a.seed[a.seedOffset:])
	a.seedOffset += n
	return n, nil
}

// Unlock accepts any key once the whole demo seed has been handed out
// and reports the key as incomplete before that; the key bytes
// themselves are not checked — a deliberately permissive demo policy;
// XOR-style real key derivation belongs to the host, not this binary.
func (a *fileApp) Unlock(resource uint8, key []byte) (bool, uint8, session.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	done := a.seedOffset >= len(a.seed)
	if done {
		return true, 0, session.Finished, nil
	}
	return false, 0, session.Finished, nil
}

func (a *fileApp) ProgramStart() (uint8, session.Status, error) {
	return 8, session.Finished, nil
}
func (a *fileApp) ProgramClear(mode uint8, size uint32) (session.Status, error) {
	return session.Finished, nil
}
func (a *fileApp) Program(data []byte) (session.Status, error) {
	return session.Finished, nil
}
func (a *fileApp) ProgramPrepare(codeSize uint32) (session.Status, error) {
	return session.Finished, nil
}
func (a *fileApp) ProgramFormat(compressionMethod, encryptionMethod, programmingMethod, accessMethod uint8) (session.Status, error) {
	return session.Finished, nil
}
func (a *fileApp) ProgramReset() (session.Status, error) {
	return session.Finished, nil
}

func (a *fileApp) StoreDaq() (session.Status, error) { return session.Finished, nil }
func (a *fileApp) ClearDaq() (session.Status, error) { return session.Finished, nil }

func (a *fileApp) UserCmd(subCommand uint8, data []byte) ([]byte, session.Status, error) {
	return nil, session.Finished, nil
}
