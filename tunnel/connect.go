package tunnel

import (
	"fmt"
	"net"
)

// Dial resolves and connects a client-role tunnel's UDP socket to DestAddr,
// optionally bound to BindAddr/BindDevice. It does not perform the AUTH
// handshake; callers drive that through BeginConnect and the wire codec
// once the socket is up (spec §4.2, grounded on the teacher's
// dial-and-wrap shape in controller/direct.go, simplified from TCP's
// parallel-IP race to UDP's connected-socket model since a UDP "dial"
// never blocks on a handshake).
func (t *Tunnel) Dial() error {
	if t.Role != RoleClient {
		return fmt.Errorf("tunnel %s: Dial called on non-client tunnel", t.Name)
	}
	if t.DestAddr == nil {
		return fmt.Errorf("tunnel %s: no destination address configured", t.Name)
	}

	var laddr *net.UDPAddr
	if t.BindAddr != nil {
		laddr = t.BindAddr
	}

	dialer := net.Dialer{}
	if laddr != nil {
		dialer.LocalAddr = laddr
	}
	if t.BindDevice != "" {
		if err := bindToDevice(&dialer, t.BindDevice); err != nil {
			return fmt.Errorf("tunnel %s: bind device %s: %w", t.Name, t.BindDevice, err)
		}
	}

	conn, err := dialer.Dial("udp", t.DestAddr.String())
	if err != nil {
		return fmt.Errorf("tunnel %s: dial %s: %w", t.Name, t.DestAddr, err)
	}
	t.Conn = conn.(*net.UDPConn)
	t.Peer = t.DestAddr
	return nil
}

// Listen opens a server-role tunnel's UDP socket on BindAddr. The peer
// address is learned from the first authenticated datagram rather than
// fixed at listen time, since a server-role tunnel accepts roaming peers
// (spec §4.2 "address learning").
func (t *Tunnel) Listen() error {
	if t.Role != RoleServer {
		return fmt.Errorf("tunnel %s: Listen called on non-server tunnel", t.Name)
	}
	if t.BindAddr == nil {
		return fmt.Errorf("tunnel %s: no bind address configured", t.Name)
	}
	conn, err := net.ListenUDP("udp", t.BindAddr)
	if err != nil {
		return fmt.Errorf("tunnel %s: listen %s: %w", t.Name, t.BindAddr, err)
	}
	t.Conn = conn
	return nil
}

// LearnPeer records a newly confirmed peer address for a server-role
// tunnel, invoked after a valid AUTH frame arrives from a new source
// (spec §4.2, §7 "address roaming").
func (t *Tunnel) LearnPeer(addr *net.UDPAddr) {
	t.Peer = addr
}

// Close tears down the tunnel's socket. Safe to call on an unopened
// tunnel.
func (t *Tunnel) Close() error {
	if t.Conn == nil {
		return nil
	}
	err := t.Conn.Close()
	t.Conn = nil
	return err
}
