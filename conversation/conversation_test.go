package conversation

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/doipclient/diagclient/config"
	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Conversations: []config.ConversationConfig{
			{ConversationName: "front-ecu", SourceAddress: 0x0e00, RxBufferSize: 4096},
			{ConversationName: "rear-ecu", SourceAddress: 0x0e01, RxBufferSize: 4096},
		},
	}
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

func acceptAndActivate(t *testing.T, ln net.Listener) <-chan net.Conn {
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		req := readMessage(t, conn).(*doip.RoutingActivationRequest)
		writeMessage(t, conn, &doip.RoutingActivationResponse{
			SourceAddress:  req.SourceAddress,
			LogicalAddress: 0x1001,
			Code:           doip.RoutingActivationSuccessfullyActivated,
		})
		connCh <- conn
	}()
	return connCh
}

func TestHandleStartupConnectSendDisconnect(t *testing.T) {
	ln := listen(t)
	mgr := NewManager(testConfig(), nil, nil)
	h, err := mgr.Get("front-ecu")
	require.NoError(t, err)

	require.NoError(t, h.Startup(context.Background()))

	connCh := acceptAndActivate(t, ln)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Connect(ctx, 0x1001, ln.Addr().String())
	require.NoError(t, err)
	require.Equal(t, ConnectSuccess, result)
	require.Equal(t, StateConnected, h.State())

	conn := <-connCh
	defer conn.Close()

	go func() {
		msg := readMessage(t, conn).(*doip.DiagnosticMessage)
		writeMessage(t, conn, &doip.DiagnosticMessagePositiveAck{
			SourceAddress: msg.TargetAddress,
			TargetAddress: msg.SourceAddress,
		})
		writeMessage(t, conn, &doip.DiagnosticMessage{
			SourceAddress: msg.TargetAddress,
			TargetAddress: msg.SourceAddress,
			UserData:      []byte{0x62, 0xf1, 0x90, 0x01},
		})
	}()

	resp, err := h.SendDiagnosticRequest(ctx, []byte{0x22, 0xf1, 0x90})
	require.NoError(t, err)
	require.Equal(t, []byte{0x62, 0xf1, 0x90, 0x01}, resp)

	dr, err := h.Disconnect(ctx)
	require.NoError(t, err)
	require.Equal(t, DisconnectSuccess, dr)
	require.Equal(t, StateIdle, h.State())
}

func TestConnectRejectsDuplicatePair(t *testing.T) {
	lnA := listen(t)
	lnB := listen(t)
	mgr := NewManager(testConfig(), nil, nil)
	h, err := mgr.Get("front-ecu")
	require.NoError(t, err)
	require.NoError(t, h.Startup(context.Background()))

	connCh := acceptAndActivate(t, lnA)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Connect(ctx, 0x1001, lnA.Addr().String())
	require.NoError(t, err)
	require.Equal(t, ConnectSuccess, result)
	conn := <-connCh
	defer conn.Close()

	// A fresh reservation attempt for the same (source, target) pair must
	// be rejected directly by the manager, without even dialing lnB.
	taken := mgr.reservePair(0x0e00, 0x1001)
	require.False(t, taken)
	_ = lnB
}

func TestConnectFailedWhenDialUnreachable(t *testing.T) {
	mgr := NewManager(testConfig(), nil, nil)
	h, err := mgr.Get("front-ecu")
	require.NoError(t, err)
	require.NoError(t, h.Startup(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	result, err := h.Connect(ctx, 0x1001, "127.0.0.1:1")
	require.Error(t, err)
	require.Equal(t, ConnectFailed, result)
	require.Equal(t, StateIdle, h.State())
}

func TestTwoConversationsConnectAndSendConcurrently(t *testing.T) {
	lnFront := listen(t)
	lnRear := listen(t)
	mgr := NewManager(testConfig(), nil, nil)
	hFront, err := mgr.Get("front-ecu")
	require.NoError(t, err)
	hRear, err := mgr.Get("rear-ecu")
	require.NoError(t, err)
	require.NoError(t, hFront.Startup(context.Background()))
	require.NoError(t, hRear.Startup(context.Background()))

	connFrontCh := acceptAndActivate(t, lnFront)
	connRearCh := acceptAndActivate(t, lnRear)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type outcome struct {
		name string
		resp []byte
		err  error
	}
	results := make(chan outcome, 2)

	roundTrip := func(name string, h *Handle, connCh <-chan net.Conn, addr string, reqData, ackSID byte) {
		result, err := h.Connect(ctx, 0x1001, addr)
		if err != nil || result != ConnectSuccess {
			results <- outcome{name: name, err: err}
			return
		}
		conn := <-connCh
		defer conn.Close()

		go func() {
			msg := readMessage(t, conn).(*doip.DiagnosticMessage)
			writeMessage(t, conn, &doip.DiagnosticMessagePositiveAck{
				SourceAddress: msg.TargetAddress,
				TargetAddress: msg.SourceAddress,
			})
			writeMessage(t, conn, &doip.DiagnosticMessage{
				SourceAddress: msg.TargetAddress,
				TargetAddress: msg.SourceAddress,
				UserData:      []byte{0x62, ackSID, reqData},
			})
		}()

		resp, err := h.SendDiagnosticRequest(ctx, []byte{0x22, ackSID, reqData})
		results <- outcome{name: name, resp: resp, err: err}
	}

	go roundTrip("front-ecu", hFront, connFrontCh, lnFront.Addr().String(), 0x01, 0xf1)
	go roundTrip("rear-ecu", hRear, connRearCh, lnRear.Addr().String(), 0x02, 0xf2)

	seen := map[string]outcome{}
	for i := 0; i < 2; i++ {
		o := <-results
		seen[o.name] = o
	}

	front := seen["front-ecu"]
	require.NoError(t, front.err)
	require.Equal(t, []byte{0x62, 0xf1, 0x01}, front.resp)

	rear := seen["rear-ecu"]
	require.NoError(t, rear.err)
	require.Equal(t, []byte{0x62, 0xf2, 0x02}, rear.resp)

	require.Equal(t, StateConnected, hFront.State())
	require.Equal(t, StateConnected, hRear.State())
}

func TestGetUnknownConversation(t *testing.T) {
	mgr := NewManager(testConfig(), nil, nil)
	_, err := mgr.Get("does-not-exist")
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindUnknownConversation, kind)
}
