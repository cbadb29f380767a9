package stream

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
)

// allocateReturnPort binds an ephemeral UDP port and keeps the socket open so
// the port stays reserved for the session. The socket is handed to the
// supervisor as the readiness listener for the video leg and held unread for
// the audio leg.
func allocateReturnPort() (*net.UDPConn, int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, 0, &PortAllocationError{Err: err}
	}
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		conn.Close()
		return nil, 0, &PortAllocationError{Err: fmt.Errorf("unexpected local address %T", conn.LocalAddr())}
	}
	return conn, addr.Port, nil
}

// newSSRC draws a random nonzero synchronization source identifier.
func newSSRC() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("generate ssrc: %w", err)
		}
		ssrc := binary.BigEndian.Uint32(buf[:])
		if ssrc != 0 {
			return ssrc, nil
		}
	}
}
