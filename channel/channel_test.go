package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
	"github.com/stretchr/testify/require"
)

func testTiming() Timing {
	return Timing{
		TCPInitialInactivity:   time.Second,
		TCPGeneralInactivity:   time.Second,
		CtrlTimeout:            200 * time.Millisecond,
		DiagnosticAckTimeout:   200 * time.Millisecond,
		ResponseTimeout:        200 * time.Millisecond,
		ResponsePendingTimeout: 300 * time.Millisecond,
	}
}

func newTestChannel(t *testing.T) *Channel {
	c := New(nil, Config{SourceAddress: 0x0e00, RxBufferSize: 4096, Timing: testTiming()})
	t.Cleanup(c.Close)
	return c
}

func listen(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func readMessage(t *testing.T, conn net.Conn) doip.Message {
	header := make([]byte, doip.HeaderSize)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	h, err := doip.DecodeHeader(header)
	require.NoError(t, err)
	body := make([]byte, h.PayloadLength)
	if h.PayloadLength > 0 {
		_, err = readFull(conn, body)
		require.NoError(t, err)
	}
	msg, err := doip.DecodeBody(h.PayloadType, body)
	require.NoError(t, err)
	return msg
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeMessage(t *testing.T, conn net.Conn, m doip.Message) {
	_, err := conn.Write(doip.EncodeMessage(doip.ProtocolVersion2012, m))
	require.NoError(t, err)
}

func TestConnectAndActivateRoutingSuccess(t *testing.T) {
	ln := listen(t)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()
		msg := readMessage(t, conn)
		req, ok := msg.(*doip.RoutingActivationRequest)
		require.True(t, ok)
		require.Equal(t, uint16(0x0e00), req.SourceAddress)
		writeMessage(t, conn, &doip.RoutingActivationResponse{
			SourceAddress:  req.SourceAddress,
			LogicalAddress: 0x1001,
			Code:           doip.RoutingActivationSuccessfullyActivated,
		})
		<-serverDone
	}()

	c := newTestChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx, ln.Addr().String(), 0x00)
	require.NoError(t, err)
	require.Equal(t, StateActive, c.State())
	require.Equal(t, uint16(0x1001), c.TargetAddress())
}

func TestActivateRoutingDenied(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req := readMessage(t, conn)
		activation := req.(*doip.RoutingActivationRequest)
		writeMessage(t, conn, &doip.RoutingActivationResponse{
			SourceAddress:  activation.SourceAddress,
			LogicalAddress: 0,
			Code:           doip.RoutingActivationDeniedRejected,
		})
	}()

	c := newTestChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx, ln.Addr().String(), 0x00)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindRoutingActivationDenied, kind)
	require.Equal(t, StateClosed, c.State())
}

func TestActivateRoutingTimeout(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readMessage(t, conn)
		// Never reply; the channel must time out on its own.
		time.Sleep(time.Second)
	}()

	c := newTestChannel(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Connect(ctx, ln.Addr().String(), 0x00)
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindRoutingActivationTimeout, kind)
}

func activateChannel(t *testing.T, c *Channel, ln net.Listener) net.Conn {
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		req := readMessage(t, conn)
		activation := req.(*doip.RoutingActivationRequest)
		writeMessage(t, conn, &doip.RoutingActivationResponse{
			SourceAddress:  activation.SourceAddress,
			LogicalAddress: 0x1001,
			Code:           doip.RoutingActivationSuccessfullyActivated,
		})
		connCh <- conn
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, ln.Addr().String(), 0x00))
	return <-connCh
}

func TestSendDiagnosticRequestPositiveResponse(t *testing.T) {
	ln := listen(t)
	c := newTestChannel(t)
	conn := activateChannel(t, c, ln)
	defer conn.Close()

	go func() {
		msg := readMessage(t, conn)
		req := msg.(*doip.DiagnosticMessage)
		writeMessage(t, conn, &doip.DiagnosticMessagePositiveAck{
			SourceAddress: req.TargetAddress,
			TargetAddress: req.SourceAddress,
			AckCode:       0,
		})
		writeMessage(t, conn, &doip.DiagnosticMessage{
			SourceAddress: req.TargetAddress,
			TargetAddress: req.SourceAddress,
			UserData:      []byte{0x62, 0xf1, 0x90, 0x01},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.SendDiagnosticRequest(ctx, 0x1001, []byte{0x22, 0xf1, 0x90})
	require.NoError(t, err)
	require.Equal(t, []byte{0x62, 0xf1, 0x90, 0x01}, resp)
	require.Equal(t, StateActive, c.State())
}

func TestSendDiagnosticRequestResponsePendingExtension(t *testing.T) {
	ln := listen(t)
	c := newTestChannel(t)
	conn := activateChannel(t, c, ln)
	defer conn.Close()

	go func() {
		msg := readMessage(t, conn)
		req := msg.(*doip.DiagnosticMessage)
		writeMessage(t, conn, &doip.DiagnosticMessagePositiveAck{
			SourceAddress: req.TargetAddress,
			TargetAddress: req.SourceAddress,
		})
		// After response-pending, the final response takes longer than
		// ResponseTimeout (200ms) but less than ResponsePendingTimeout
		// (300ms), so it only arrives in time if the timer was extended.
		writeMessage(t, conn, &doip.DiagnosticMessage{
			SourceAddress: req.TargetAddress,
			TargetAddress: req.SourceAddress,
			UserData:      []byte{0x7f, 0x22, 0x78},
		})
		time.Sleep(250 * time.Millisecond)
		writeMessage(t, conn, &doip.DiagnosticMessage{
			SourceAddress: req.TargetAddress,
			TargetAddress: req.SourceAddress,
			UserData:      []byte{0x62, 0xf1, 0x90, 0x02},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.SendDiagnosticRequest(ctx, 0x1001, []byte{0x22, 0xf1, 0x90})
	require.NoError(t, err)
	require.Equal(t, []byte{0x62, 0xf1, 0x90, 0x02}, resp)
}

func TestSendDiagnosticRequestAckTimeout(t *testing.T) {
	ln := listen(t)
	c := newTestChannel(t)
	conn := activateChannel(t, c, ln)
	defer conn.Close()

	go func() {
		readMessage(t, conn) // never ack
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.SendDiagnosticRequest(ctx, 0x1001, []byte{0x22, 0xf1, 0x90})
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindAckTimeout, kind)
	require.Equal(t, StateActive, c.State())
}

func TestSendDiagnosticRequestNegativeAck(t *testing.T) {
	ln := listen(t)
	c := newTestChannel(t)
	conn := activateChannel(t, c, ln)
	defer conn.Close()

	go func() {
		msg := readMessage(t, conn)
		req := msg.(*doip.DiagnosticMessage)
		writeMessage(t, conn, &doip.DiagnosticMessageNegativeAck{
			SourceAddress: req.TargetAddress,
			TargetAddress: req.SourceAddress,
			NackCode:      0x02,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.SendDiagnosticRequest(ctx, 0x1001, []byte{0x22, 0xf1, 0x90})
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindNegativeAck, kind)
}

func TestDisconnectFreesChannel(t *testing.T) {
	ln := listen(t)
	c := newTestChannel(t)
	conn := activateChannel(t, c, ln)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Disconnect(ctx))
	require.Equal(t, StateClosed, c.State())
}
