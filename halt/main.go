package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/newhook/jtag-adi/adi"
	"github.com/newhook/jtag-adi/cable"
	"github.com/newhook/jtag-adi/jtag"
)

// IDCODE instruction on ARM debug TAPs.
const idcodeIR = 14

// External debug and CTI register offsets (ARMv8 debug memory map).
const (
	edscr  = 0x088 // debug status and control
	oslar  = 0x300 // OS lock access
	edprsr = 0x314 // processor status
	lar    = 0xFB0 // software lock access
	lsr    = 0xFB4 // software lock status

	ctiControl  = 0x000
	ctiIntAck   = 0x010
	ctiAppPulse = 0x01C
	ctiOutEn0   = 0x0A0
	ctiOutEn1   = 0x0A4
	ctiTrigOut  = 0x134
	ctiGate     = 0x140

	unlockKey = 0xC5ACCE55

	edscrHDE = 1 << 14 // halting debug enable
)

func parseInt(s string) (uint32, error) {
	if strings.HasPrefix(s, "$") {
		s = "0x" + s[1:]
	}
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

// cpuHalt pulses CTI channel 0 into the core and waits for the trigger
// to acknowledge.
func cpuHalt(mem *adi.MemAP, ctiBase uint32) error {
	// Gate all channels off the CTM.
	if err := mem.Write(ctiBase+ctiGate, 0); err != nil {
		return err
	}
	// Route channel 0 to trigger output 0 (halt request).
	if err := mem.Write(ctiBase+ctiOutEn0, 1); err != nil {
		return err
	}
	// Pulse channel 0.
	if err := mem.Write(ctiBase+ctiAppPulse, 1); err != nil {
		return err
	}
	// Ack and wait for the trigger to drop.
	if err := mem.Write(ctiBase+ctiIntAck, 3); err != nil {
		return err
	}
	for {
		v, err := mem.Read(ctiBase + ctiTrigOut)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// cpuResume pulses CTI channel 1 (restart request).
func cpuResume(mem *adi.MemAP, ctiBase uint32) error {
	if err := mem.Write(ctiBase+ctiGate, 0); err != nil {
		return err
	}
	// Route channel 1 to trigger output 1 (restart request).
	if err := mem.Write(ctiBase+ctiOutEn1, 2); err != nil {
		return err
	}
	if err := mem.Write(ctiBase+ctiAppPulse, 2); err != nil {
		return err
	}
	if err := mem.Write(ctiBase+ctiIntAck, 3); err != nil {
		return err
	}
	for {
		v, err := mem.Read(ctiBase + ctiTrigOut)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

func run() error {
	cableSpec := flag.String("cable", "", "JTAG cable (rbb:host:port or serial:/dev/...)")
	baud := flag.Uint("baud", 115200, "Serial cable baud rate")
	tapIndex := flag.Int("tap", 0, "Which JTAG TAP to use")
	apNum := flag.Uint("ap", 0, "Which access port to use")
	cpuBaseStr := flag.String("cpu-base", "", "External debug base address")
	ctiBaseStr := flag.String("cti-base", "", "CTI base address")
	flag.Parse()

	cpuBase, err := parseInt(*cpuBaseStr)
	if err != nil {
		return fmt.Errorf("invalid cpu base: %w", err)
	}
	ctiBase, err := parseInt(*ctiBaseStr)
	if err != nil {
		return fmt.Errorf("invalid cti base: %w", err)
	}

	c, err := cable.Open(*cableSpec, uint32(*baud))
	if err != nil {
		return err
	}
	defer c.Close()

	taps := jtag.NewTaps(jtag.NewSM(c))
	taps.Detect()
	taps.SelectTap(*tapIndex, []byte{idcodeIR})
	idcode := binary.LittleEndian.Uint32(taps.ReadDR(32))
	if err := taps.Err(); err != nil {
		return err
	}
	if idcode&0xFFF != 0x477 {
		return fmt.Errorf("unexpected idcode %#x", idcode)
	}

	engine, err := adi.New(taps)
	if err != nil {
		return err
	}
	mem, err := adi.NewMemAP(engine, uint32(*apNum))
	if err != nil {
		return err
	}

	prsr, err := mem.Read(cpuBase + edprsr)
	if err != nil {
		return err
	}
	fmt.Printf("edprsr %x\n", prsr)
	if prsr&1 == 0 {
		return fmt.Errorf("core is powered down")
	}

	// Clear the OS lock.
	if err := mem.Write(cpuBase+oslar, 0); err != nil {
		return err
	}

	// Clear the software lock.
	if err := mem.Write(cpuBase+lar, unlockKey); err != nil {
		return err
	}
	lock, err := mem.Read(cpuBase + lsr)
	if err != nil {
		return err
	}
	if lock&2 != 0 {
		return fmt.Errorf("software lock still set (%#x)", lock)
	}

	// Enable halting debug.
	scr, err := mem.Read(cpuBase + edscr)
	if err != nil {
		return err
	}
	fmt.Printf("edscr %x\n", scr)
	if err := mem.Write(cpuBase+edscr, scr|edscrHDE); err != nil {
		return err
	}

	// Unlock and enable the CTI.
	if err := mem.Write(ctiBase+lar, unlockKey); err != nil {
		return err
	}
	ctl, err := mem.Read(ctiBase + ctiControl)
	if err != nil {
		return err
	}
	if err := mem.Write(ctiBase+ctiControl, ctl|1); err != nil {
		return err
	}

	switch flag.Arg(0) {
	case "halt":
		if err := cpuHalt(mem, ctiBase); err != nil {
			return err
		}
	case "resume":
		if err := cpuResume(mem, ctiBase); err != nil {
			return err
		}
	case "":
	default:
		return fmt.Errorf("unknown command %q", flag.Arg(0))
	}

	scr, err = mem.Read(cpuBase + edscr)
	if err != nil {
		return err
	}
	fmt.Printf("edscr %x\n", scr)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
