package adi

import (
	"encoding/binary"
	"testing"
)

// A scanOp records one transport call for sequence assertions.
type scanOp struct {
	kind string // "ir", "wdr", "rdr", "rwdr", "qrd", "qrw", "fin"
	ir   byte   // active IR at the time of the op
	data []byte
	bits int
}

// ackBytes builds a 35-bit response scan with the given ACK and data.
func ackBytes(ack uint8, data uint32) []byte {
	v := uint64(data)<<3 | uint64(ack&7)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:5]
}

func okAck(data uint32) []byte { return ackBytes(uint8(AckOK), data) }

// mockTransport is a scripted transport: every scan that captures data
// consumes the next scripted response, and every call is logged. Queued
// captures are taken at queue time and drained FIFO, matching the real
// link layer.
type mockTransport struct {
	t         *testing.T
	ops       []scanOp
	responses [][]byte
	queue     [][]byte
	depth     int
	lastIR    byte
}

func newMock(t *testing.T) *mockTransport {
	return &mockTransport{t: t, depth: 64}
}

// script appends responses consumed in order by capturing scans.
func (m *mockTransport) script(responses ...[]byte) {
	m.responses = append(m.responses, responses...)
}

func (m *mockTransport) pop() []byte {
	if len(m.responses) == 0 {
		m.t.Fatal("transport: capture with no scripted response")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r
}

func (m *mockTransport) log(kind string, data []byte, bits int) {
	m.ops = append(m.ops, scanOp{kind: kind, ir: m.lastIR, data: append([]byte(nil), data...), bits: bits})
}

func (m *mockTransport) WriteIR(ir []byte) {
	m.lastIR = ir[0]
	m.log("ir", ir, len(ir)*8)
}

func (m *mockTransport) WriteDR(dr []byte, bits int) {
	m.log("wdr", dr, bits)
}

func (m *mockTransport) ReadDR(bits int) []byte {
	m.log("rdr", nil, bits)
	return m.pop()
}

func (m *mockTransport) ReadWriteDR(dr []byte, bits int) []byte {
	m.log("rwdr", dr, bits)
	return m.pop()
}

func (m *mockTransport) QueueDRRead(bits int) bool {
	if len(m.queue) >= m.depth {
		return false
	}
	m.log("qrd", nil, bits)
	m.queue = append(m.queue, m.pop())
	return true
}

func (m *mockTransport) QueueDRReadWrite(dr []byte, bits int) bool {
	if len(m.queue) >= m.depth {
		return false
	}
	m.log("qrw", dr, bits)
	m.queue = append(m.queue, m.pop())
	return true
}

func (m *mockTransport) FinishDRRead(bits int) []byte {
	m.log("fin", nil, bits)
	if len(m.queue) == 0 {
		m.t.Fatal("transport: finish with empty queue")
	}
	r := m.queue[0]
	m.queue = m.queue[1:]
	return r
}

// count returns how many logged ops match kind, under any IR.
func (m *mockTransport) count(kind string) int {
	n := 0
	for _, op := range m.ops {
		if op.kind == kind {
			n++
		}
	}
	return n
}

// drWrites decodes every logged DR write issued under the given IR into
// (reg, rnw, value) triples.
func (m *mockTransport) drWrites(ir byte) []drWrite {
	var out []drWrite
	for _, op := range m.ops {
		if (op.kind == "wdr" || op.kind == "qrw") && op.ir == ir {
			var buf [8]byte
			copy(buf[:], op.data)
			v := binary.LittleEndian.Uint64(buf[:])
			out = append(out, drWrite{
				reg: uint8(v>>1) & 3,
				rnw: v&1 != 0,
				val: uint32(v >> 3),
			})
		}
	}
	return out
}

type drWrite struct {
	reg uint8
	rnw bool
	val uint32
}

// clearLog drops the recorded ops, typically right after construction
// so a test asserts only its own traffic.
func (m *mockTransport) clearLog() {
	m.ops = nil
}

// initScript returns the responses consumed by New: three checked
// writes (SELECT, ABORT, CTRL/STAT).
func initScript() [][]byte {
	return [][]byte{okAck(0), okAck(0), okAck(0)}
}

// newTestADI builds an engine over the mock, scripting the
// construction sequence and clearing the log afterwards.
func newTestADI(t *testing.T, m *mockTransport) *ArmDebugInterface {
	t.Helper()
	m.script(initScript()...)
	a, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.clearLog()
	return a
}
