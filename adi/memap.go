package adi

import "fmt"

// MemAP register word indexes (byte address / 4) within bank 0.
const (
	APCSW uint8 = 0x00 >> 2
	APTAR uint8 = 0x04 >> 2
	APDRW uint8 = 0x0C >> 2
	// The identification block lives in bank 0xF:
	// Base0 0xF0, CFG 0xF4, Base1 0xF8, IDR 0xFC.
)

// CSW bits used by this façade.
const (
	// cswAddrInc makes the target increment TAR by the access size on
	// every DRW transfer, wrapping within a 1 KiB page.
	cswAddrInc = 1 << 4
)

// Shadow sentinels. This façade never writes either value (CSW reserved
// bits, full-ones TAR), so a poisoned shadow always misses the compare.
const (
	invalidCSW = 0xFFFFFFFF
	invalidTAR = 0xFFFFFFFF
)

// MemAP provides memory access through a Memory Access Port. It shadows
// the target's CSW and TAR registers so consecutive accesses to nearby
// addresses avoid redundant setup scans; the shadowed registers must not
// be modified other than through this façade.
//
// A single engine may be shared by several MemAPs. Operations are not
// safe for concurrent use; the model is one task driving the probe.
type MemAP struct {
	adi   *ArmDebugInterface
	apsel uint32
	csw   uint32
	tar   uint32
}

// NewMemAP binds a façade to access port apsel. CSW and TAR are read
// once so the shadows start coherent with the target.
func NewMemAP(a *ArmDebugInterface, apsel uint32) (*MemAP, error) {
	csw, err := a.ReadADI(apsel, AP, APCSW)
	if err != nil {
		return nil, fmt.Errorf("adi: read csw: %w", err)
	}
	tar, err := a.ReadADI(apsel, AP, APTAR)
	if err != nil {
		return nil, fmt.Errorf("adi: read tar: %w", err)
	}
	return &MemAP{adi: a, apsel: apsel, csw: csw, tar: tar}, nil
}

// currentCSW returns the CSW shadow, re-reading the target register if
// an earlier failure poisoned it.
func (m *MemAP) currentCSW() (uint32, error) {
	if m.csw == invalidCSW {
		csw, err := m.adi.ReadADI(m.apsel, AP, APCSW)
		if err != nil {
			return 0, err
		}
		m.csw = csw
	}
	return m.csw, nil
}

// WriteCSW sets the control and status word, skipping the write when it
// matches the shadow. On failure the shadow is invalidated so the next
// operation resynchronizes with the target.
func (m *MemAP) WriteCSW(csw uint32) error {
	if csw == m.csw {
		return nil
	}
	if err := m.adi.WriteADI(m.apsel, AP, APCSW, csw); err != nil {
		m.csw = invalidCSW
		return err
	}
	m.csw = csw
	return nil
}

// setAddrInc updates the auto-increment bit of CSW.
func (m *MemAP) setAddrInc(enable bool) error {
	csw, err := m.currentCSW()
	if err != nil {
		return err
	}
	if enable {
		return m.WriteCSW(csw | cswAddrInc)
	}
	return m.WriteCSW(csw &^ cswAddrInc)
}

// writeTAR points TAR at addr unless the shadow already matches. The
// unchecked variant is used on queued paths; its ACK is never seen, so
// a failure there surfaces later through CTRL/STAT.
func (m *MemAP) writeTAR(addr uint32, check bool) error {
	if m.tar == addr {
		return nil
	}
	var err error
	if check {
		err = m.adi.WriteADI(m.apsel, AP, APTAR, addr)
	} else {
		err = m.adi.WriteADINoCheck(m.apsel, AP, APTAR, addr)
	}
	if err != nil {
		m.tar = invalidTAR
		return err
	}
	m.tar = addr
	return nil
}

// checkStatus probes DP CTRL/STAT for the sticky failure bits left
// behind by the preceding AP traffic.
func (m *MemAP) checkStatus() error {
	stat, err := m.adi.ReadADI(m.apsel, DP, DPCtrlStat)
	if err != nil {
		return err
	}
	if stat&stickyMask != 0 {
		return ErrStickyStatus
	}
	return nil
}

// Read returns the 32-bit word at addr.
func (m *MemAP) Read(addr uint32) (uint32, error) {
	// Make sure we're not in auto-increment mode.
	if err := m.setAddrInc(false); err != nil {
		return 0, err
	}
	if err := m.writeTAR(addr, true); err != nil {
		return 0, err
	}
	val, err := m.adi.ReadADI(m.apsel, AP, APDRW)
	if err != nil {
		return 0, err
	}
	if err := m.checkStatus(); err != nil {
		return 0, err
	}
	return val, nil
}

// Write stores value to the 32-bit word at addr.
func (m *MemAP) Write(addr, value uint32) error {
	if err := m.setAddrInc(false); err != nil {
		return err
	}
	if err := m.writeTAR(addr, true); err != nil {
		return err
	}
	if err := m.adi.WriteADI(m.apsel, AP, APDRW, value); err != nil {
		return err
	}
	return m.checkStatus()
}

// QueueRead starts a read of addr whose result is collected later with
// FinishRead, overlapping the shift and wait phases of consecutive
// reads. It reports false without error when the transport cannot
// accept another queued read; the TAR shadow is invalidated in that
// case because the unchecked TAR update may or may not have landed.
func (m *MemAP) QueueRead(addr uint32) (bool, error) {
	if err := m.setAddrInc(false); err != nil {
		return false, err
	}
	if err := m.writeTAR(addr, false); err != nil {
		return false, err
	}
	ok, err := m.adi.QueueReadADI(m.apsel, AP, APDRW)
	if err != nil {
		return false, err
	}
	if !ok {
		m.tar = invalidTAR
		return false, nil
	}
	return true, nil
}

// FinishRead collects the oldest result queued by QueueRead.
func (m *MemAP) FinishRead() (uint32, error) {
	return m.adi.FinishRead()
}

// ReadMulti reads count words. With autoIncrement each word comes from
// the next sequential address; otherwise every read is from addr. Since
// every scan hits the same register, WAIT ACKs are dropped rather than
// retried, so the result may hold fewer than count words — as it may
// when the transport queue fills. With checkStatus, CTRL/STAT is probed
// for sticky errors after the burst.
//
// Auto-incrementing bursts wrap within a 1 KiB page on the target; the
// burst is not split here, callers that need linearity across a page
// boundary split themselves.
func (m *MemAP) ReadMulti(addr uint32, count int, autoIncrement, checkStatus bool) ([]uint32, error) {
	if err := m.setAddrInc(autoIncrement); err != nil {
		return nil, err
	}
	if err := m.writeTAR(addr, true); err != nil {
		return nil, err
	}

	regs := make([]uint8, count)
	for i := range regs {
		regs[i] = APDRW
	}
	vals, err := m.adi.ReadADIPipelined(m.apsel, AP, regs)
	if err != nil {
		return nil, err
	}

	result := make([]uint32, 0, len(vals))
	for _, r := range vals {
		switch {
		case r.Err == nil:
			result = append(result, r.Val)
		case r.Err == AckWait:
			continue
		default:
			if autoIncrement {
				m.tar = invalidTAR
			}
			return nil, r.Err
		}
	}

	if autoIncrement {
		if len(vals) < count {
			// The transport queue filled: one request more was shifted
			// than was collected, so the final TAR is not known here.
			m.tar = invalidTAR
		} else {
			// The target advanced TAR once per completed transfer; WAITed
			// scans did not transfer.
			m.tar = addr + 4*uint32(len(result))
		}
	}

	if checkStatus {
		if err := m.checkStatus(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ReadBlock reads count consecutive words starting at addr.
func (m *MemAP) ReadBlock(addr uint32, count int, checkStatus bool) ([]uint32, error) {
	return m.ReadMulti(addr, count, true, checkStatus)
}

// WriteBlock writes data to consecutive words starting at addr. The
// writes are streamed without ACK collection; with checkStatus the
// sticky bits in CTRL/STAT are probed once at the end.
func (m *MemAP) WriteBlock(addr uint32, data []uint32, checkStatus bool) error {
	if err := m.setAddrInc(true); err != nil {
		return err
	}
	if err := m.writeTAR(addr, true); err != nil {
		return err
	}

	regs := make([]RegWrite, len(data))
	for i, v := range data {
		regs[i] = RegWrite{Reg: APDRW, Val: v}
	}
	if err := m.adi.WriteADIPipelined(m.apsel, AP, regs); err != nil {
		m.tar = invalidTAR
		return err
	}
	m.tar = addr + 4*uint32(len(data))

	if checkStatus {
		return m.checkStatus()
	}
	return nil
}
