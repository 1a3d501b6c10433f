package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ppcb/internal/protocol"
)

func TestStreamConnRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server, err := ln.Accept()
		require.NoError(t, err)
		defer server.Close()
		sc := NewStreamConn(server)
		buf, _, perr := sc.RecvFrame()
		require.Nil(t, perr)
		require.Equal(t, protocol.TypeDATA, buf[0])
		require.Nil(t, sc.SendFrame(protocol.EncodeRcvd(protocol.Rcvd{SessionID: 1})))
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	cc := NewStreamConn(client)

	data := protocol.Data{SessionID: 1, PacketNo: 0, PacketCount: 5, Payload: []byte("hello")}
	require.Nil(t, cc.SendFrame(protocol.EncodeData(data)))

	buf, _, perr := cc.RecvFrame()
	require.Nil(t, perr)
	require.Equal(t, protocol.TypeRCVD, buf[0])

	<-done
}

func TestDatagramConnRoundTrip(t *testing.T) {
	serverPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverPC.Close()

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()

	server := NewDatagramConn(serverPC, nil)
	client := NewDatagramConn(clientPC, serverPC.LocalAddr())

	require.Nil(t, client.SendFrame(protocol.EncodeConn(protocol.Conn{SessionID: 7, ProtocolID: protocol.ProtoUDP, TotalCount: 1})))

	require.NoError(t, server.SetDeadline(time.Second))
	buf, peer, perr := server.RecvFrame()
	require.Nil(t, perr)
	require.Equal(t, protocol.TypeCONN, buf[0])

	require.Nil(t, server.SendFrameTo(protocol.EncodeConacc(protocol.Conacc{SessionID: 7}), peer))

	require.NoError(t, client.SetDeadline(time.Second))
	buf2, _, perr2 := client.RecvFrame()
	require.Nil(t, perr2)
	require.Equal(t, protocol.TypeCONACC, buf2[0])
}

func TestDatagramConnRecvTimeout(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	conn := NewDatagramConn(pc, nil)
	require.NoError(t, conn.SetDeadline(20 * time.Millisecond))
	_, _, perr := conn.RecvFrame()
	require.NotNil(t, perr)
	require.Equal(t, protocol.ErrTimeout, perr.Kind)
}
