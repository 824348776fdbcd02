// Package cable provides physical JTAG adapters for the jtag link
// layer. Both drivers speak the OpenOCD remote-bitbang byte protocol:
// '0'..'7' encode the TCK/TMS/TDI pin states, 'R' samples TDO and the
// far end answers with an ASCII '0' or '1'.
package cable

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// bitbang drives the remote-bitbang protocol over any byte stream.
type bitbang struct {
	w io.Writer
	r *bufio.Reader
}

// pin bit positions within a write command byte.
const (
	pinTDI = 1 << 0
	pinTMS = 1 << 1
	pinTCK = 1 << 2
)

// Shift clocks TMS/TDI pairs LSB-first and, when read is set, samples
// TDO on each cycle before the rising edge. All write commands for a
// scan go out in one burst; the responses are collected afterwards.
func (b *bitbang) Shift(tms, tdi []byte, bits int, read bool) ([]byte, error) {
	cmds := make([]byte, 0, 3*bits)
	for i := 0; i < bits; i++ {
		var pins byte
		if getBit(tdi, i) {
			pins |= pinTDI
		}
		if getBit(tms, i) {
			pins |= pinTMS
		}
		cmds = append(cmds, '0'+pins)
		if read {
			cmds = append(cmds, 'R')
		}
		cmds = append(cmds, '0'+pins+pinTCK)
	}
	if _, err := b.w.Write(cmds); err != nil {
		return nil, fmt.Errorf("cable: write: %w", err)
	}
	if !read {
		return nil, nil
	}

	out := make([]byte, (bits+7)/8)
	for i := 0; i < bits; i++ {
		c, err := b.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("cable: read: %w", err)
		}
		if c == '1' {
			setBit(out, i)
		}
	}
	return out, nil
}

func getBit(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(i%8)) != 0
}

func setBit(buf []byte, i int) {
	buf[i/8] |= 1 << (i % 8)
}

// Open builds a cable from a spec string:
//
//	rbb:host:port       remote bitbang over TCP
//	serial:/dev/ttyUSB0 bitbang adapter on a serial port
//
// baud applies to serial cables only.
func Open(spec string, baud uint32) (Cable, error) {
	switch {
	case strings.HasPrefix(spec, "rbb:"):
		return NewRemote(strings.TrimPrefix(spec, "rbb:"))
	case strings.HasPrefix(spec, "serial:"):
		return NewSerial(strings.TrimPrefix(spec, "serial:"), baud)
	}
	return nil, fmt.Errorf("cable: unknown cable %q", spec)
}

// Cable matches jtag.Cable and adds Close.
type Cable interface {
	Shift(tms, tdi []byte, bits int, read bool) ([]byte, error)
	Close() error
}
