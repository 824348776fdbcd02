package cable

import (
	"bufio"
	"fmt"

	serial "github.com/daedaluz/goserial"
)

// Serial is a bitbang adapter — typically a microcontroller speaking
// the remote-bitbang protocol over its UART — on a local serial port.
type Serial struct {
	bitbang
	port *serial.Port
}

// NewSerial opens the serial device in raw mode at the given baud rate.
func NewSerial(device string, baud uint32) (*Serial, error) {
	port, err := serial.Open(device, nil)
	if err != nil {
		return nil, fmt.Errorf("cable: open %s: %w", device, err)
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("cable: termios %s: %w", device, err)
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(baud)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("cable: configure %s: %w", device, err)
	}
	return &Serial{
		bitbang: bitbang{w: port, r: bufio.NewReader(port)},
		port:    port,
	}, nil
}

func (c *Serial) Close() error {
	return c.port.Close()
}
