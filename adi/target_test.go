package adi

import "encoding/binary"

// fakeTarget is a functional JTAG-DP model: it decodes DPACC/APACC
// scans against a little register file and a sparse memory, answering
// with the pipelined timing of real silicon — the response to request N
// is captured by scan N+1. It lets the MemAP tests run end-to-end
// without scripting individual scans.
type fakeTarget struct {
	ir       byte
	sel      uint32
	csw      uint32
	tar      uint32
	ctrlstat uint32
	mem      map[uint32]uint32

	pending []byte
	queue   [][]byte
	depth   int

	// op counters for cache assertions
	tarWrites int
	cswWrites int
	selWrites int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		mem:     make(map[uint32]uint32),
		pending: ackBytes(uint8(AckOK), 0),
		depth:   64,
	}
}

// execute decodes one 35-bit request and computes the response scan
// that the next capture will deliver.
func (f *fakeTarget) execute(v uint64) {
	rnw := v&1 != 0
	reg := uint8(v>>1) & 3
	data := uint32(v >> 3)

	var result uint32
	switch f.ir {
	case byte(DP):
		switch reg {
		case DPAbort:
			// write-only, nothing modelled
		case DPCtrlStat:
			if rnw {
				result = f.ctrlstat
			} else {
				f.ctrlstat &^= data & (CtrlStickyErrClr | CtrlStickyOrnClr)
			}
		case DPSelect:
			if !rnw {
				f.sel = data
				f.selWrites++
			}
		case DPRdbuff:
			// reads as zero
		}
	case byte(AP):
		addr := (uint8(f.sel>>4)&0xF)<<4 | reg<<2
		switch addr {
		case 0x00:
			if rnw {
				result = f.csw
			} else {
				f.csw = data
				f.cswWrites++
			}
		case 0x04:
			if rnw {
				result = f.tar
			} else {
				f.tar = data
				f.tarWrites++
			}
		case 0x0C:
			if rnw {
				result = f.mem[f.tar]
			} else {
				f.mem[f.tar] = data
			}
			if f.csw&cswAddrInc != 0 {
				// auto-increment wraps within the 1 KiB page
				f.tar = f.tar&^0x3FF | (f.tar+4)&0x3FF
			}
		}
	}
	f.pending = ackBytes(uint8(AckOK), result)
}

func (f *fakeTarget) request(dr []byte) {
	var buf [8]byte
	copy(buf[:], dr)
	f.execute(binary.LittleEndian.Uint64(buf[:]) & (1<<scanBits - 1))
}

func (f *fakeTarget) WriteIR(ir []byte) {
	f.ir = ir[0]
}

func (f *fakeTarget) WriteDR(dr []byte, bits int) {
	f.request(dr)
}

func (f *fakeTarget) ReadDR(bits int) []byte {
	return f.pending
}

func (f *fakeTarget) ReadWriteDR(dr []byte, bits int) []byte {
	r := f.pending
	f.request(dr)
	return r
}

func (f *fakeTarget) QueueDRRead(bits int) bool {
	if len(f.queue) >= f.depth {
		return false
	}
	f.queue = append(f.queue, f.pending)
	return true
}

func (f *fakeTarget) QueueDRReadWrite(dr []byte, bits int) bool {
	if len(f.queue) >= f.depth {
		return false
	}
	f.queue = append(f.queue, f.pending)
	f.request(dr)
	return true
}

func (f *fakeTarget) FinishDRRead(bits int) []byte {
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r
}
