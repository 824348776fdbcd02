// Package rom identifies CoreSight components and walks ROM tables
// through a MemAP.
package rom

import "fmt"

// Reader is the slice of the MemAP surface the walker needs.
// *adi.MemAP satisfies it.
type Reader interface {
	Read(addr uint32) (uint32, error)
}

// Component identification registers, offsets from the component base.
const (
	devAff0    = 0xFA8 // device affinity
	devAff1    = 0xFAC
	authStatus = 0xFB8
	devArch    = 0xFBC // architecture ID
	devType    = 0xFCC
	cidr0      = 0xFF0
	cidr1      = 0xFF4
	cidr2      = 0xFF8
	cidr3      = 0xFFC
)

// Component classes from CIDR1.
const (
	ClassROMTable  = 0x10
	ClassCoreSight = 0x90
)

// ROM table entry bits.
const (
	entryPresent = 1 << 0
	entryPDValid = 1 << 2

	// A first-level table holds up to 960 entries; the rest of the 4 KiB
	// page is the identification block.
	maxEntries = 960
)

// A Component is one node of a ROM table hierarchy.
type Component struct {
	Base     uint32
	Class    uint32 // CIDR1 value: ClassROMTable, ClassCoreSight or other
	DevType  uint32
	ArchID   uint32
	Auth     uint32
	Affinity [2]uint32
}

// major/minor device type decoding, DEVTYPE low byte.
var devTypeMajor = map[uint32]struct {
	name  string
	minor map[uint32]string
}{
	0: {name: "Misc"},
	1: {name: "Trace sink", minor: map[uint32]string{1: "TPIU", 2: "ETB", 3: "Router"}},
	2: {name: "Trace link", minor: map[uint32]string{1: "Router", 2: "Filter", 3: "FIFO"}},
	3: {name: "Trace source", minor: map[uint32]string{1: "CPU", 2: "DSP", 3: "Coprocessor", 4: "Bus"}},
	4: {name: "Debug control", minor: map[uint32]string{1: "Trigger Matrix", 2: "Debug Authentication", 3: "Power Requestor"}},
	5: {name: "Debug logic", minor: map[uint32]string{1: "CPU", 2: "DSP", 3: "Coprocessor", 4: "Bus", 5: "Memory"}},
}

// DevTypeString renders a DEVTYPE value like "Debug logic: CPU".
func DevTypeString(devtype uint32) string {
	major, ok := devTypeMajor[devtype&0xF]
	if !ok {
		return "Other"
	}
	if major.minor == nil {
		return major.name
	}
	minor, ok := major.minor[(devtype>>4)&0xF]
	if !ok {
		minor = "Other"
	}
	return fmt.Sprintf("%s: %s", major.name, minor)
}

func (c Component) String() string {
	switch c.Class {
	case ClassROMTable:
		return fmt.Sprintf("ROM table at %#x", c.Base)
	case ClassCoreSight:
		return fmt.Sprintf("CoreSight component at %#x: %s", c.Base, DevTypeString(c.DevType))
	}
	return fmt.Sprintf("unknown component at %#x (cidr1 %#x)", c.Base, c.Class)
}

// Identify probes the identification block at base and, for CoreSight
// components, the device type and authentication registers.
func Identify(r Reader, base uint32) (Component, error) {
	c := Component{Base: base}

	// CIDR0/2/3 carry the fixed preamble; only the class byte decides
	// anything here.
	if _, err := r.Read(base + cidr0); err != nil {
		return c, err
	}
	class, err := r.Read(base + cidr1)
	if err != nil {
		return c, err
	}
	c.Class = class
	if _, err := r.Read(base + cidr2); err != nil {
		return c, err
	}
	if _, err := r.Read(base + cidr3); err != nil {
		return c, err
	}

	if class == ClassCoreSight {
		if c.Auth, err = r.Read(base + authStatus); err != nil {
			return c, err
		}
		if c.Affinity[0], err = r.Read(base + devAff0); err != nil {
			return c, err
		}
		if c.Affinity[1], err = r.Read(base + devAff1); err != nil {
			return c, err
		}
		if c.ArchID, err = r.Read(base + devArch); err != nil {
			return c, err
		}
		if c.DevType, err = r.Read(base + devType); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Walk identifies the component at base and recurses through ROM table
// entries, calling fn for every component found, parents before
// children. Entries are scanned until the first empty one; absent
// entries are skipped.
func Walk(r Reader, base uint32, fn func(Component) error) error {
	c, err := Identify(r, base)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	if c.Class != ClassROMTable {
		return nil
	}

	for i := uint32(0); i < maxEntries; i++ {
		entry, err := r.Read(base + i*4)
		if err != nil {
			return err
		}
		if entry == 0 {
			break
		}
		if entry&entryPresent == 0 {
			continue
		}
		// The entry holds a 4 KiB-page offset from this table's base.
		child := base + (entry>>12)<<12
		if err := Walk(r, child, fn); err != nil {
			return err
		}
	}
	return nil
}
