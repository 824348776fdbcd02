// Package jtag implements the JTAG link layer: the TAP controller state
// machine, scan-chain management with BYPASS padding for inactive TAPs,
// and a deferred DR read queue. It sits between a physical Cable and
// the ADI transaction engine.
package jtag

import "fmt"

// Cable is a physical JTAG adapter. Shift clocks bits TMS/TDI pairs,
// LSB-first within bytes, and returns the sampled TDO bits when read is
// set (nil otherwise).
type Cable interface {
	Shift(tms, tdi []byte, bits int, read bool) ([]byte, error)
}

// SM navigates the TAP controller state machine over a Cable. Between
// scans it parks the controller in Run-Test/Idle.
//
// The first cable failure latches: subsequent scans are no-ops
// returning zeros, and Err reports the original failure. Callers check
// Err once after a batch of scans rather than on every shift.
type SM struct {
	cable Cable
	err   error
}

// TMS paths from Run-Test/Idle into the shift states.
var (
	navShiftDR = []byte{1, 0, 0}    // Select-DR, Capture-DR, Shift-DR
	navShiftIR = []byte{1, 1, 0, 0} // Select-DR, Select-IR, Capture-IR, Shift-IR
)

// NewSM resets the TAP controller and leaves it in Run-Test/Idle.
func NewSM(cable Cable) *SM {
	sm := &SM{cable: cable}
	sm.Reset()
	return sm
}

// Err returns the first cable failure, if any.
func (s *SM) Err() error {
	return s.err
}

// Reset forces the controller into Test-Logic-Reset with five TMS ones,
// then steps to Run-Test/Idle.
func (s *SM) Reset() {
	if s.err != nil {
		return
	}
	tms := []byte{0b011111}
	if _, err := s.cable.Shift(tms, bitBuf(6), 6, false); err != nil {
		s.err = fmt.Errorf("jtag: cable: %w", err)
	}
}

// ShiftDR scans bits of tdi through the data register and returns the
// captured TDO bits when read is set.
func (s *SM) ShiftDR(tdi []byte, bits int, read bool) []byte {
	return s.scan(navShiftDR, tdi, bits, read)
}

// ShiftIR scans bits of tdi through the instruction register and
// returns the captured TDO bits when read is set.
func (s *SM) ShiftIR(tdi []byte, bits int, read bool) []byte {
	return s.scan(navShiftIR, tdi, bits, read)
}

// scan performs one full scan as a single cable transaction: navigate
// into the shift state, clock the payload with TMS high on the final
// bit (to Exit1), then TMS 1,0 through Update back to Run-Test/Idle.
func (s *SM) scan(nav []byte, tdi []byte, bits int, read bool) []byte {
	if s.err != nil || bits == 0 {
		return bitBuf(bits)
	}

	total := len(nav) + bits + 2
	tms := bitBuf(total)
	data := bitBuf(total)
	for i, b := range nav {
		if b != 0 {
			setBit(tms, i)
		}
	}
	for i := 0; i < bits; i++ {
		if getBit(tdi, i) {
			setBit(data, len(nav)+i)
		}
	}
	setBit(tms, len(nav)+bits-1) // final payload bit: Shift -> Exit1
	setBit(tms, len(nav)+bits)   // Exit1 -> Update

	tdo, err := s.cable.Shift(tms, data, total, read)
	if err != nil {
		s.err = fmt.Errorf("jtag: cable: %w", err)
		return bitBuf(bits)
	}
	if !read {
		return nil
	}
	out := bitBuf(bits)
	for i := 0; i < bits; i++ {
		if getBit(tdo, len(nav)+i) {
			setBit(out, i)
		}
	}
	return out
}
