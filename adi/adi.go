// Package adi implements the host side of the ARM Debug Interface v5
// (ADIv5) over a JTAG transport. ArmDebugInterface translates logical
// DP/AP register operations into 35-bit DPACC/APACC scans, and MemAP
// layers memory reads and writes on top of a Memory Access Port.
package adi

import (
	"bytes"
	"errors"
	"fmt"
)

// Port selects between the Debug Port and Access Port scan chains. The
// value is the JTAG IR opcode that selects the corresponding DR.
type Port uint8

const (
	DP Port = 10
	AP Port = 11
)

// Debug Port register indexes.
const (
	DPAbort    uint8 = 0
	DPCtrlStat uint8 = 1
	DPSelect   uint8 = 2
	DPRdbuff   uint8 = 3
)

// CTRL/STAT bits.
const (
	CtrlCSysPwrUpReq = 1 << 30 // system power-up request
	CtrlCDbgPwrUpReq = 1 << 28 // debug power-up request
	CtrlStickyErrClr = 1 << 24 // write 1 to clear STICKYERR
	CtrlStickyCmpClr = 1 << 5  // write 1 to clear STICKYCMP
	CtrlStickyOrnClr = 1 << 1  // write 1 to clear STICKYORUN

	// Bits 0 and 2 of CTRL/STAT, the failure bits a MemAP operation
	// probes for after compound traffic.
	stickyMask = 0x5
)

// Transport is the JTAG link layer the engine drives; *jtag.Taps
// implements it. Byte slices are little-endian bit-packed within bytes
// and trailing bits beyond the scan length are ignored. The engine owns
// the transport exclusively for its lifetime.
type Transport interface {
	WriteIR(ir []byte)
	WriteDR(dr []byte, bits int)
	ReadDR(bits int) []byte
	ReadWriteDR(dr []byte, bits int) []byte
	QueueDRRead(bits int) bool
	QueueDRReadWrite(dr []byte, bits int) bool
	FinishDRRead(bits int) []byte
}

// errQueueFull is returned when a scalar read cannot enqueue its result
// on the transport. It cannot happen unless queued reads were left
// unfinished.
var errQueueFull = errors.New("adi: transport read queue full")

// invalidBank differs from the SELECT value of any bank this core
// touches, so the first BankSelect always writes the register.
const invalidBank = 0xFF

// ArmDebugInterface drives ADIv5 register traffic for one JTAG-DP. It
// caches the last IR payload and the last SELECT value so repeated
// accesses to the same port and bank skip the redundant scans.
type ArmDebugInterface struct {
	taps     Transport
	lastbank uint32
	lastir   []byte
}

// New takes ownership of the transport and brings the debug port to a
// known state: SELECT is forced to zero, any stalled transaction is
// aborted, and the power-up requests and sticky-error clears are written
// to CTRL/STAT.
func New(taps Transport) (*ArmDebugInterface, error) {
	a := &ArmDebugInterface{
		taps:     taps,
		lastbank: invalidBank,
	}

	// Force bank selects to known values.
	if err := a.BankSelect(0, 0, 0); err != nil {
		return nil, fmt.Errorf("adi: bank select: %w", err)
	}

	// Abort any in-progress transaction.
	if err := a.WriteADINoBank(DP, DPAbort, 0, true); err != nil {
		return nil, fmt.Errorf("adi: abort: %w", err)
	}

	// Make sure everything is powered up and the sticky errors are
	// cleared.
	ctrl := uint32(CtrlCSysPwrUpReq | CtrlCDbgPwrUpReq | CtrlStickyErrClr |
		CtrlStickyCmpClr | CtrlStickyOrnClr)
	if err := a.WriteADINoBank(DP, DPCtrlStat, ctrl, true); err != nil {
		return nil, fmt.Errorf("adi: clear errors: %w", err)
	}
	return a, nil
}

// writeIR shifts the instruction register unless the payload matches
// the previous shift byte-for-byte. The IR scan is the most expensive
// operation on the wire, so the cache matters.
func (a *ArmDebugInterface) writeIR(ir []byte) {
	if !bytes.Equal(a.lastir, ir) {
		a.taps.WriteIR(ir)
		a.lastir = append(a.lastir[:0], ir...)
	}
}

// QueueReadADINoBank issues a read request for register reg of port and
// enqueues retrieval of its result on the transport. It reports false
// when the transport queue is full. The correct bank must already be
// selected.
func (a *ArmDebugInterface) QueueReadADINoBank(port Port, reg uint8) bool {
	a.writeIR([]byte{byte(port)})
	buf := encodeRead(reg)
	a.taps.WriteDR(buf[:], scanBits)
	return a.taps.QueueDRRead(scanBits)
}

// FinishRead retrieves the oldest queued read result.
func (a *ArmDebugInterface) FinishRead() (uint32, error) {
	return decode(a.taps.FinishDRRead(scanBits))
}

// ReadADINoBank reads register reg from port. It assumes the correct
// bank is already selected; you probably want ReadADI unless you know
// what you're doing. A WAIT ACK is returned to the caller, which drives
// the retry.
func (a *ArmDebugInterface) ReadADINoBank(port Port, reg uint8) (uint32, error) {
	if !a.QueueReadADINoBank(port, reg) {
		return 0, errQueueFull
	}
	return a.FinishRead()
}

// WriteADINoBank writes val to register reg on port, assuming the
// correct bank is already selected. With check set, the ACK of the
// write is fetched in an extra scan and a WAIT answer retries the whole
// IR+DR sequence until the target accepts it. Without check, the
// function returns as soon as the write scan is shifted; the ACK rides
// in the next scan and is intentionally discarded.
func (a *ArmDebugInterface) WriteADINoBank(port Port, reg uint8, val uint32, check bool) error {
	ir := []byte{byte(port)}
	buf := encodeWrite(reg, val)
	for {
		a.writeIR(ir)
		a.taps.WriteDR(buf[:], scanBits)
		if !check {
			return nil
		}
		_, err := decode(a.taps.ReadDR(scanBits))
		if err == nil {
			return nil
		}
		if ack, ok := err.(AckError); ok && ack == AckWait {
			continue
		}
		return err
	}
}

// BankSelect writes DP SELECT for the given access port and AP/DP
// register banks, skipping the write when the packed value matches the
// cache. A failed write leaves the target-side SELECT unknown, so the
// cache is invalidated before returning.
func (a *ArmDebugInterface) BankSelect(apsel, apbank, dpbank uint32) error {
	val := apsel<<24 | apbank<<4 | dpbank
	if val == a.lastbank {
		return nil
	}
	if err := a.WriteADINoBank(DP, DPSelect, val, true); err != nil {
		a.lastbank = invalidBank
		return err
	}
	a.lastbank = val
	return nil
}

// ReadADI reads register reg of AP apsel or the DP. reg is the register
// index (byte address / 4); the bank half is routed through SELECT.
func (a *ArmDebugInterface) ReadADI(apsel uint32, port Port, reg uint8) (uint32, error) {
	if err := a.BankSelect(apsel, uint32(reg>>2), 0); err != nil {
		return 0, err
	}
	return a.ReadADINoBank(port, reg&3)
}

// QueueReadADI is ReadADI with the result left on the transport queue,
// to be collected with FinishRead. It reports false when the queue is
// full.
func (a *ArmDebugInterface) QueueReadADI(apsel uint32, port Port, reg uint8) (bool, error) {
	if err := a.BankSelect(apsel, uint32(reg>>2), 0); err != nil {
		return false, err
	}
	return a.QueueReadADINoBank(port, reg&3), nil
}

// WriteADI writes val to register reg of AP apsel or the DP and checks
// the ACK. DPBANKSEL is asserted to the same value as APBANKSEL on this
// path; read paths select DP bank 0. The asymmetry minimizes SELECT
// rewrites across common mixed sequences and is preserved from the
// observed wire traffic.
func (a *ArmDebugInterface) WriteADI(apsel uint32, port Port, reg uint8, val uint32) error {
	bank := uint32(reg >> 2)
	if err := a.BankSelect(apsel, bank, bank); err != nil {
		return err
	}
	return a.WriteADINoBank(port, reg&3, val, true)
}

// WriteADINoCheck is WriteADI without ACK verification. It is slightly
// faster, especially for a run of writes; callers verify out-of-band
// via CTRL/STAT.
func (a *ArmDebugInterface) WriteADINoCheck(apsel uint32, port Port, reg uint8, val uint32) error {
	bank := uint32(reg >> 2)
	if err := a.BankSelect(apsel, bank, bank); err != nil {
		return err
	}
	return a.WriteADINoBank(port, reg&3, val, false)
}

// A PipelinedResult is the outcome of one element of a pipelined read.
// Individual elements fail independently: Err may carry a WAIT or FAULT
// ACK while neighbouring elements succeed.
type PipelinedResult struct {
	Val uint32
	Err error
}

// ReadADIPipelined reads the registers in regs, which must all live in
// the same bank, overlapping the scans so the result of request N is
// collected while request N+1 shifts. If the transport queue fills, the
// remaining requests are dropped and the returned slice is shorter than
// regs.
func (a *ArmDebugInterface) ReadADIPipelined(apsel uint32, port Port, regs []uint8) ([]PipelinedResult, error) {
	if len(regs) == 0 {
		return nil, nil
	}
	bank := regs[0] >> 2
	if err := a.BankSelect(apsel, uint32(bank), 0); err != nil {
		return nil, err
	}

	a.writeIR([]byte{byte(port)})
	buf := encodeRead(regs[0] & 3)
	a.taps.WriteDR(buf[:], scanBits)

	count := 0
	queueFull := false
	for _, r := range regs[1:] {
		if r>>2 != bank {
			return nil, fmt.Errorf("adi: pipelined read crosses banks (reg %#x vs %#x)", r, regs[0])
		}
		buf := encodeRead(r & 3)
		if !a.taps.QueueDRReadWrite(buf[:], scanBits) {
			queueFull = true
			break
		}
		count++
	}
	// A terminating read scan drains the ACK of the last request.
	if !queueFull && a.taps.QueueDRRead(scanBits) {
		count++
	}

	out := make([]PipelinedResult, 0, count)
	for i := 0; i < count; i++ {
		val, err := decode(a.taps.FinishDRRead(scanBits))
		out = append(out, PipelinedResult{Val: val, Err: err})
	}
	return out, nil
}

// A RegWrite pairs a register index with the value to write.
type RegWrite struct {
	Reg uint8
	Val uint32
}

// WriteADIPipelined streams write scans for the registers in regs,
// which must all live in the same bank, without collecting any ACKs.
// Callers verify success out-of-band via CTRL/STAT.
func (a *ArmDebugInterface) WriteADIPipelined(apsel uint32, port Port, regs []RegWrite) error {
	if len(regs) == 0 {
		return nil
	}
	bank := regs[0].Reg >> 2
	if err := a.BankSelect(apsel, uint32(bank), 0); err != nil {
		return err
	}

	a.writeIR([]byte{byte(port)})
	for _, w := range regs {
		if w.Reg>>2 != bank {
			return fmt.Errorf("adi: pipelined write crosses banks (reg %#x vs %#x)", w.Reg, regs[0].Reg)
		}
		buf := encodeWrite(w.Reg&3, w.Val)
		a.taps.WriteDR(buf[:], scanBits)
	}
	return nil
}
