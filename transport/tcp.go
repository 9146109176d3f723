// Package transport provides the uniform stream/datagram abstraction the
// rest of the engine is built on: a cancellable TCP stream and a
// cancellable UDP endpoint, both backed by the standard net package. The
// teacher dials with net.DialTimeout and reads with io.ReadFull against a
// single net.Conn (doip/client.go Connect/inputLoop); this generalizes
// that to context.Context cancellation instead of a single process-wide
// timeout and a "running" channel per connection.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Stream is a single bidirectional byte stream, e.g. one TCP connection to
// an ECU. Implementations guarantee a single writer and a single reader
// may operate concurrently on the same Stream.
type Stream interface {
	// Send writes b in full or returns an error.
	Send(b []byte) error
	// RecvExact blocks until exactly n bytes have been read, ctx is
	// cancelled, or the stream is closed/errors.
	RecvExact(ctx context.Context, n int) ([]byte, error)
	Close() error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

type tcpStream struct {
	conn net.Conn
}

// DialTCP connects to addr, honoring ctx for cancellation/timeout. If
// localAddr is non-empty, the connection is bound to it first (spec §1's
// "binding to a configured local address" boundary).
func DialTCP(ctx context.Context, localAddr, addr string) (Stream, error) {
	d := net.Dialer{}
	if localAddr != "" {
		hostPort := localAddr
		if _, _, err := net.SplitHostPort(hostPort); err != nil {
			// localAddr is a bare host (spec §6's "TcpIpAddress" is an
			// IPv4 with no port); let the kernel pick the local port.
			hostPort = net.JoinHostPort(localAddr, "0")
		}
		laddr, err := net.ResolveTCPAddr("tcp", hostPort)
		if err != nil {
			return nil, fmt.Errorf("transport: resolve local addr %s: %w", localAddr, err)
		}
		d.LocalAddr = laddr
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &tcpStream{conn: conn}, nil
}

func (s *tcpStream) Send(b []byte) error {
	_, err := s.conn.Write(b)
	return err
}

func (s *tcpStream) RecvExact(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	errCh := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(s.conn, buf)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
		return buf, nil
	case <-ctx.Done():
		// Unblock the reader goroutine; it will exit once the
		// connection is closed by the caller (mirrors the teacher's
		// Disconnect()-closes-the-socket-to-unblock-inputLoop idiom).
		s.conn.Close()
		return nil, ctx.Err()
	}
}

func (s *tcpStream) Close() error      { return s.conn.Close() }
func (s *tcpStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *tcpStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
