package adi

// External debug register offsets used by the DCC fast path (ARMv8
// external debug memory map).
const (
	edscrOffset = 0x088 // EDSCR, debug status and control
	dtrOffset   = 0x08C // DBGDTRRX/TX, the DCC data register

	// EDSCR.TXfull: the CPU has placed a word in the transmit register.
	edscrTXFull = 1 << 29
)

// ReadDCC pulls one word from the CPU's Debug Communications Channel.
// base is the core's external debug base address. EDSCR is probed first
// and ok=false is returned when the transmit register is empty; with
// skipStatus the probe is skipped and the DTR word is read
// unconditionally, saving a full round trip when the caller already
// knows a word is pending.
func (m *MemAP) ReadDCC(base uint32, skipStatus bool) (val uint32, ok bool, err error) {
	if !skipStatus {
		edscr, err := m.Read(base + edscrOffset)
		if err != nil {
			return 0, false, err
		}
		if edscr&edscrTXFull == 0 {
			return 0, false, nil
		}
	}
	val, err = m.Read(base + dtrOffset)
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}
