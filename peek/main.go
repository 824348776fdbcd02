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

func parseInt(s string) (uint32, error) {
	if strings.HasPrefix(s, "$") {
		s = "0x" + s[1:]
	}
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func main() {
	cableSpec := flag.String("cable", "", "JTAG cable (rbb:host:port or serial:/dev/...)")
	baud := flag.Uint("baud", 115200, "Serial cable baud rate")
	tapIndex := flag.Int("tap", 0, "Which JTAG TAP to use")
	apNum := flag.Uint("ap", 0, "Which access port to use")
	write := flag.String("write", "", "Value to write instead of reading")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: peek [flags] <addr>")
		os.Exit(1)
	}
	addr, err := parseInt(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad address: %v\n", err)
		os.Exit(1)
	}

	c, err := cable.Open(*cableSpec, uint32(*baud))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	taps := jtag.NewTaps(jtag.NewSM(c))
	taps.Detect()
	taps.SelectTap(*tapIndex, []byte{idcodeIR})
	idcode := binary.LittleEndian.Uint32(taps.ReadDR(32))
	if err := taps.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if idcode&0xFFF != 0x477 {
		fmt.Fprintf(os.Stderr, "warning: unexpected idcode %#x\n", idcode)
	}

	engine, err := adi.New(taps)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mem, err := adi.NewMemAP(engine, uint32(*apNum))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *write != "" {
		value, err := parseInt(*write)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad value: %v\n", err)
			os.Exit(1)
		}
		if err := mem.Write(addr, value); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Success")
		return
	}

	val, err := mem.Read(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("0x%x = 0x%x\n", addr, val)
}
