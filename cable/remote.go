package cable

import (
	"bufio"
	"fmt"
	"net"
)

// Remote is an OpenOCD remote-bitbang server, e.g. a QEMU or
// Raspberry Pi GPIO bridge, reached over TCP.
type Remote struct {
	bitbang
	conn net.Conn
}

// NewRemote connects to a remote-bitbang server at host:port.
func NewRemote(addr string) (*Remote, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cable: connect %s: %w", addr, err)
	}
	return &Remote{
		bitbang: bitbang{w: conn, r: bufio.NewReader(conn)},
		conn:    conn,
	}, nil
}

// Close tells the server to quit and drops the connection.
func (c *Remote) Close() error {
	c.conn.Write([]byte{'Q'})
	return c.conn.Close()
}
