package adi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: construction forces SELECT to zero, aborts any stalled
// transaction and writes the power-up/sticky-clear word, all checked.
func TestInitSequence(t *testing.T) {
	m := newMock(t)
	m.script(initScript()...)

	_, err := New(m)
	require.NoError(t, err)

	writes := m.drWrites(byte(DP))
	require.Len(t, writes, 3)
	assert.Equal(t, drWrite{reg: DPSelect, val: 0}, writes[0])
	assert.Equal(t, drWrite{reg: DPAbort, val: 0}, writes[1])
	assert.Equal(t, drWrite{reg: DPCtrlStat, val: 0x51000022}, writes[2])

	// every write is checked
	assert.Equal(t, 3, m.count("rdr"))
	// one port for the whole sequence: the IR is shifted exactly once
	assert.Equal(t, 1, m.count("ir"))
}

func TestInitFailure(t *testing.T) {
	m := newMock(t)
	m.script(ackBytes(uint8(AckFault), 0))

	_, err := New(m)
	require.Error(t, err)
	assert.ErrorIs(t, err, AckFault)
}

// Property 1: consecutive operations on the same port shift the IR
// once; switching ports shifts it again.
func TestIRCaching(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(okAck(1), okAck(2))
	_, err := a.ReadADINoBank(DP, DPCtrlStat)
	require.NoError(t, err)
	_, err = a.ReadADINoBank(DP, DPCtrlStat)
	require.NoError(t, err)
	assert.Equal(t, 0, m.count("ir"), "DP already selected by construction")

	m.script(okAck(3))
	_, err = a.ReadADINoBank(AP, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.count("ir"), "port change must reshift the IR")
}

// Property 2: identical BankSelect calls emit one SELECT write; any
// differing field emits another.
func TestSelectCaching(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	selects := func() []drWrite {
		var out []drWrite
		for _, w := range m.drWrites(byte(DP)) {
			if w.reg == DPSelect {
				out = append(out, w)
			}
		}
		return out
	}

	require.NoError(t, a.BankSelect(0, 0, 0))
	assert.Empty(t, selects(), "construction already wrote SELECT=0")

	m.script(okAck(0))
	require.NoError(t, a.BankSelect(0, 1, 0))
	require.NoError(t, a.BankSelect(0, 1, 0))
	require.Len(t, selects(), 1)
	assert.Equal(t, uint32(1<<4), selects()[0].val)

	m.script(okAck(0))
	require.NoError(t, a.BankSelect(2, 1, 0))
	require.Len(t, selects(), 2)
	assert.Equal(t, uint32(2<<24|1<<4), selects()[1].val)
}

// A failed SELECT write poisons the cache so the next call rewrites it.
func TestSelectFailureInvalidatesCache(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(ackBytes(uint8(AckFault), 0))
	err := a.BankSelect(0, 3, 0)
	assert.ErrorIs(t, err, AckFault)

	// same value again must hit the wire, not the cache
	m.script(okAck(0))
	require.NoError(t, a.BankSelect(0, 3, 0))

	n := 0
	for _, w := range m.drWrites(byte(DP)) {
		if w.reg == DPSelect {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

// Property 3: the read path selects DP bank 0 while the checked write
// path selects DP bank = AP bank, so alternating reads and writes in
// the same AP bank rewrite SELECT each time.
func TestBankSelectAsymmetry(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	const reg = uint8(0x10 >> 2) // AP bank 1, register 0

	m.script(okAck(0), okAck(0))       // SELECT, read data
	_, err := a.ReadADI(0, AP, reg)
	require.NoError(t, err)

	m.script(okAck(0), okAck(0))       // SELECT, write ack
	require.NoError(t, a.WriteADI(0, AP, reg, 42))

	m.script(okAck(0), okAck(0))       // SELECT, read data
	_, err = a.ReadADI(0, AP, reg)
	require.NoError(t, err)

	var selects []uint32
	for _, w := range m.drWrites(byte(DP)) {
		if w.reg == DPSelect {
			selects = append(selects, w.val)
		}
	}
	require.Len(t, selects, 3)
	assert.Equal(t, uint32(1<<4), selects[0], "read: dpbank 0")
	assert.Equal(t, uint32(1<<4|1), selects[1], "write: dpbank = apbank")
	assert.Equal(t, uint32(1<<4), selects[2], "read again: dpbank back to 0")
}

// Property 4: a checked write answered WAIT, WAIT, OK shifts the DR
// three times and succeeds.
func TestCheckedWriteWaitRetry(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(ackBytes(uint8(AckWait), 0), ackBytes(uint8(AckWait), 0), okAck(0))
	require.NoError(t, a.WriteADINoBank(AP, 3, 0xAA, true))

	writes := m.drWrites(byte(AP))
	require.Len(t, writes, 3)
	for _, w := range writes {
		assert.Equal(t, drWrite{reg: 3, val: 0xAA}, w)
	}
	assert.Equal(t, 3, m.count("rdr"))
}

// Property 5: FAULT is terminal; the same numeric code reaches the
// caller and no retry scan is issued.
func TestFaultPropagation(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	err := a.WriteADINoBank(AP, 3, 1, false)
	require.NoError(t, err, "unchecked writes never see the ACK")

	m.clearLog()
	m.script(ackBytes(uint8(AckFault), 0))
	err = a.WriteADINoBank(AP, 3, 1, true)
	assert.Equal(t, AckFault, err)
	assert.Equal(t, 1, m.count("wdr"))

	m.clearLog()
	m.script(ackBytes(uint8(AckFault), 0))
	_, err = a.ReadADINoBank(AP, 3)
	assert.Equal(t, AckFault, err)
}

func TestUnknownAckPropagation(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(ackBytes(7, 0))
	err := a.WriteADINoBank(DP, DPAbort, 0, true)
	assert.Equal(t, AckError(7), err)
	assert.EqualError(t, err, "adi: protocol error (ack 7)")
}

// Read paths surface WAIT directly; the caller drives the retry.
func TestReadWaitSurfaced(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(ackBytes(uint8(AckWait), 0))
	_, err := a.ReadADINoBank(DP, DPCtrlStat)
	assert.Equal(t, AckWait, err)
}

func TestUncheckedWriteSkipsAckScan(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	require.NoError(t, a.WriteADINoBank(AP, 1, 0x1000, false))
	assert.Equal(t, 1, m.count("wdr"))
	assert.Equal(t, 0, m.count("rdr"))
}

func TestReadADIPipelined(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(okAck(0x11), okAck(0x22), okAck(0x33), okAck(0x44))
	res, err := a.ReadADIPipelined(0, AP, []uint8{3, 3, 3, 3})
	require.NoError(t, err)

	require.Len(t, res, 4)
	for i, want := range []uint32{0x11, 0x22, 0x33, 0x44} {
		assert.NoError(t, res[i].Err)
		assert.Equal(t, want, res[i].Val)
	}

	// one plain request, then combined scans, then the drain scan
	assert.Equal(t, 1, m.count("wdr"))
	assert.Equal(t, 3, m.count("qrw"))
	assert.Equal(t, 1, m.count("qrd"))
	assert.Equal(t, 4, m.count("fin"))
}

// Individual pipelined elements carry their own ACK outcome.
func TestReadADIPipelinedMixedAcks(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(okAck(1), ackBytes(uint8(AckWait), 0), ackBytes(uint8(AckFault), 0))
	res, err := a.ReadADIPipelined(0, AP, []uint8{3, 3, 3})
	require.NoError(t, err)

	require.Len(t, res, 3)
	assert.NoError(t, res[0].Err)
	assert.Equal(t, uint32(1), res[0].Val)
	assert.Equal(t, AckWait, res[1].Err)
	assert.Equal(t, AckFault, res[2].Err)
}

// When the transport queue fills, the remaining requests are dropped
// and the result is shorter than the request list.
func TestReadADIPipelinedQueueFull(t *testing.T) {
	m := newMock(t)
	m.depth = 2
	a := newTestADI(t, m)

	m.script(okAck(1), okAck(2), okAck(3), okAck(4))
	res, err := a.ReadADIPipelined(0, AP, []uint8{3, 3, 3, 3, 3, 3})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestReadADIPipelinedBankMismatch(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	m.script(okAck(0))
	_, err := a.ReadADIPipelined(0, AP, []uint8{0x10 >> 2, 0x00})
	assert.Error(t, err)
}

func TestWriteADIPipelined(t *testing.T) {
	m := newMock(t)
	a := newTestADI(t, m)

	err := a.WriteADIPipelined(0, AP, []RegWrite{
		{Reg: 3, Val: 0x11},
		{Reg: 3, Val: 0x22},
		{Reg: 3, Val: 0x33},
	})
	require.NoError(t, err)

	writes := m.drWrites(byte(AP))
	require.Len(t, writes, 3)
	assert.Equal(t, uint32(0x11), writes[0].val)
	assert.Equal(t, uint32(0x33), writes[2].val)
	// fire and forget: no ACKs collected
	assert.Equal(t, 0, m.count("rdr"))
	assert.Equal(t, 0, m.count("fin"))
}
