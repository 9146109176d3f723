package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// UDPEndpoint is the cancellable datagram endpoint used for vehicle
// discovery and peer-initiated VehicleAnnouncement listening (spec §4.5,
// §5 "shared resources"). It generalizes the teacher's TCP-only
// net.Conn usage to net.PacketConn, since the teacher never implemented
// UDP discovery.
type UDPEndpoint struct {
	conn      net.PacketConn
	localAddr net.Addr
}

// Bind opens a UDP socket on local (host:port, host may be empty for any
// interface). If broadcast is true, SO_BROADCAST is set on the socket
// before it binds, so later sends to a limited-broadcast address such as
// 255.255.255.255 are not rejected with EACCES.
func Bind(local string, broadcast bool) (*UDPEndpoint, error) {
	lc := net.ListenConfig{}
	if broadcast {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return sockErr
		}
	}
	conn, err := lc.ListenPacket(context.Background(), "udp4", local)
	if err != nil {
		return nil, fmt.Errorf("transport: bind udp %s: %w", local, err)
	}
	ep := &UDPEndpoint{conn: conn, localAddr: conn.LocalAddr()}
	return ep, nil
}

// SendTo sends b to addr (host:port).
func (e *UDPEndpoint) SendTo(addr string, b []byte) error {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	_, err = e.conn.WriteTo(b, raddr)
	return err
}

// Recv blocks for a single datagram, honoring ctx for cancellation.
func (e *UDPEndpoint) Recv(ctx context.Context) ([]byte, net.Addr, error) {
	type result struct {
		n    int
		addr net.Addr
		err  error
	}
	buf := make([]byte, 65535)
	resCh := make(chan result, 1)
	go func() {
		n, addr, err := e.conn.ReadFrom(buf)
		resCh <- result{n: n, addr: addr, err: err}
	}()
	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, nil, r.err
		}
		return buf[:r.n], r.addr, nil
	case <-ctx.Done():
		e.conn.Close()
		return nil, nil, ctx.Err()
	}
}

func (e *UDPEndpoint) LocalAddr() net.Addr { return e.localAddr }

func (e *UDPEndpoint) Close() error { return e.conn.Close() }
