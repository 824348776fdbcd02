package jtag

// defaultIRLength covers ARM debug TAPs, which carry a 4-bit IR. Other
// parts on the chain need SetIRLength before their registers are
// addressed.
const defaultIRLength = 4

// drQueueDepth bounds the deferred-read FIFO. Queue operations report
// false when it is full and the caller drains what was queued.
const drQueueDepth = 64

// Taps manages a scan chain of one or more TAPs. One TAP is active at a
// time; the others are held in BYPASS, and every scan accounts for
// their padding bits. Scans queued with QueueDRRead/QueueDRReadWrite
// are shifted immediately and their captures parked in a FIFO for
// FinishDRRead, which is what lets a caller overlap the response of one
// transaction with the request of the next.
type Taps struct {
	sm      *SM
	idcodes []uint32
	irlens  []int
	active  int
	queue   [][]byte
}

// NewTaps wraps a TAP state machine. Call Detect to enumerate the
// chain, then SelectTap before scanning.
func NewTaps(sm *SM) *Taps {
	return &Taps{sm: sm}
}

// Err returns the first cable failure, if any.
func (t *Taps) Err() error {
	return t.sm.Err()
}

// IDCodes returns the identification codes harvested by Detect, in
// chain order starting nearest TDI. TAPs that came up in BYPASS report
// zero.
func (t *Taps) IDCodes() []uint32 {
	return t.idcodes
}

// SetIRLength overrides the instruction register length assumed for the
// TAP at index. Detect assumes the ARM debug TAP length for every part.
func (t *Taps) SetIRLength(index, bits int) {
	t.irlens[index] = bits
}

// Detect resets the chain and harvests the IDCODE of every TAP. After a
// TAP reset each part presents either its 32-bit IDCODE (LSB 1) or a
// single BYPASS zero; shifting ones behind the chain marks the end.
func (t *Taps) Detect() []uint32 {
	const maxTaps = 16

	t.sm.Reset()
	ones := make([]byte, maxTaps*4)
	for i := range ones {
		ones[i] = 0xFF
	}
	tdo := t.sm.ShiftDR(ones, maxTaps*32, true)

	t.idcodes = nil
	t.irlens = nil
	for pos := 0; pos < maxTaps*32; {
		if !getBit(tdo, pos) {
			t.idcodes = append(t.idcodes, 0)
			t.irlens = append(t.irlens, defaultIRLength)
			pos++
			continue
		}
		if pos+32 > maxTaps*32 {
			break
		}
		id := extract32(tdo, pos)
		if id == 0xFFFFFFFF {
			break
		}
		t.idcodes = append(t.idcodes, id)
		t.irlens = append(t.irlens, defaultIRLength)
		pos += 32
	}

	// The scan walked every part into Update-DR; put the chain back in
	// a known state before instructions are loaded.
	t.sm.Reset()
	return t.idcodes
}

// SelectTap makes the TAP at index the target of subsequent scans and
// loads ir into its instruction register.
func (t *Taps) SelectTap(index int, ir []byte) {
	t.active = index
	t.WriteIR(ir)
}

// chain returns the TAP count, treating an undetected chain as a single
// part.
func (t *Taps) chain() int {
	if len(t.irlens) == 0 {
		return 1
	}
	return len(t.irlens)
}

// irOffset returns the bit position of the active TAP's IR payload
// within the full chain scan. Bits shifted first settle in the parts
// nearest TDO, so the payload sits behind the IR bits of every part
// after the active one.
func (t *Taps) irOffset() (offset, total int) {
	if len(t.irlens) == 0 {
		return 0, defaultIRLength
	}
	for i, l := range t.irlens {
		total += l
		if i > t.active {
			offset += l
		}
	}
	return offset, total
}

// WriteIR loads ir into the active TAP and BYPASS into every other part
// on the chain.
func (t *Taps) WriteIR(ir []byte) {
	offset, total := t.irOffset()
	irlen := total
	if len(t.irlens) != 0 {
		irlen = t.irlens[t.active]
	}

	// BYPASS is all ones; clear only the active payload's zero bits.
	buf := bitBuf(total)
	for i := range buf {
		buf[i] = 0xFF
	}
	for i := 0; i < irlen; i++ {
		if !getBit(ir, i) {
			clearBit(buf, offset+i)
		}
	}
	t.sm.ShiftIR(buf, total, false)
}

// rawDR scans the active TAP's data register, padding for the single
// BYPASS bit each inactive part contributes.
func (t *Taps) rawDR(dr []byte, bits int, read bool) []byte {
	n := t.chain()
	after := n - 1 - t.active
	total := bits + n - 1

	buf := bitBuf(total)
	for i := 0; i < bits; i++ {
		if getBit(dr, i) {
			setBit(buf, after+i)
		}
	}
	tdo := t.sm.ShiftDR(buf, total, read)
	if !read {
		return nil
	}
	out := bitBuf(bits)
	for i := 0; i < bits; i++ {
		if getBit(tdo, after+i) {
			setBit(out, i)
		}
	}
	return out
}

// WriteDR shifts bits of dr into the active TAP's data register.
func (t *Taps) WriteDR(dr []byte, bits int) {
	t.rawDR(dr, bits, false)
}

// ReadDR captures bits from the active TAP's data register, shifting
// zeros in.
func (t *Taps) ReadDR(bits int) []byte {
	return t.rawDR(bitBuf(bits), bits, true)
}

// ReadWriteDR shifts dr in while capturing what shifts out.
func (t *Taps) ReadWriteDR(dr []byte, bits int) []byte {
	return t.rawDR(dr, bits, true)
}

// QueueDRRead performs a read scan and parks the capture for
// FinishDRRead. It reports false, performing no scan, when the FIFO is
// full.
func (t *Taps) QueueDRRead(bits int) bool {
	if len(t.queue) >= drQueueDepth {
		return false
	}
	t.queue = append(t.queue, t.ReadDR(bits))
	return true
}

// QueueDRReadWrite performs a combined scan — capturing the response of
// the previous transaction while shifting in the next request — and
// parks the capture for FinishDRRead. It reports false, performing no
// scan, when the FIFO is full.
func (t *Taps) QueueDRReadWrite(dr []byte, bits int) bool {
	if len(t.queue) >= drQueueDepth {
		return false
	}
	t.queue = append(t.queue, t.ReadWriteDR(dr, bits))
	return true
}

// FinishDRRead pops the oldest parked capture. Draining an empty queue
// returns zeros.
func (t *Taps) FinishDRRead(bits int) []byte {
	if len(t.queue) == 0 {
		return bitBuf(bits)
	}
	r := t.queue[0]
	t.queue = t.queue[1:]
	return r
}
