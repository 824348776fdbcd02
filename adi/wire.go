package adi

import (
	"encoding/binary"
	"fmt"
)

// The DPACC/APACC scan chain is 35 bits: a 32-bit data word, a 2-bit
// register address within the selected bank, and the RnW bit. The
// incoming scan carries the 3-bit ACK of the previous transaction in the
// positions the register address and RnW went out on.
const scanBits = 35

// ACK codes carried in bits [2:0] of every incoming scan.
const (
	AckWait  AckError = 1 // target busy, retry the transaction
	AckOK    AckError = 2
	AckFault AckError = 4 // a sticky error is pending
)

// ErrStickyStatus reports sticky error bits found in CTRL/STAT after a
// compound memory operation.
const ErrStickyStatus = AckError(5)

// AckError is a non-OK ACK returned by the target, or the sticky-status
// code 5. The numeric codes are opaque to callers but stable.
type AckError uint8

func (e AckError) Error() string {
	switch e {
	case AckWait:
		return "adi: target busy (WAIT)"
	case AckFault:
		return "adi: transaction fault (FAULT)"
	case ErrStickyStatus:
		return "adi: sticky error set in CTRL/STAT"
	}
	return fmt.Sprintf("adi: protocol error (ack %d)", uint8(e))
}

// encodeWrite packs a write request into the outgoing scan layout:
// value in bits [34:3], register in [2:1], RnW=0 in bit 0.
func encodeWrite(reg uint8, val uint32) [5]byte {
	v := uint64(val)<<3 | uint64(reg&3)<<1
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	var out [5]byte
	copy(out[:], buf[:5])
	return out
}

// encodeRead packs a read request: register in bits [2:1], RnW=1.
func encodeRead(reg uint8) [5]byte {
	return [5]byte{(reg&3)<<1 | 1}
}

// decode splits an incoming scan into its ACK and data fields. Trailing
// bits beyond the 35-bit scan are ignored.
func decode(dr []byte) (uint32, error) {
	var buf [8]byte
	copy(buf[:], dr)
	v := binary.LittleEndian.Uint64(buf[:]) & (1<<scanBits - 1)
	if ack := AckError(v & 7); ack != AckOK {
		return 0, ack
	}
	return uint32(v >> 3), nil
}
