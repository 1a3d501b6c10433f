package serversess

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ppcb/internal/config"
	"ppcb/internal/metrics"
	"ppcb/internal/protocol"
	"ppcb/internal/transport"
)

func TestServeTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	m := metrics.NewServerMetrics()
	go ServeTCP(ln, w, m)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	sc := transport.NewStreamConn(client)

	payload := []byte("hello\n")
	require.Nil(t, sc.SendFrame(protocol.EncodeConn(protocol.Conn{SessionID: 1, ProtocolID: protocol.ProtoTCP, TotalCount: uint64(len(payload))})))
	buf, _, perr := sc.RecvFrame()
	require.Nil(t, perr)
	require.Equal(t, protocol.TypeCONACC, buf[0])

	require.Nil(t, sc.SendFrame(protocol.EncodeData(protocol.Data{SessionID: 1, PacketNo: 0, PacketCount: uint32(len(payload)), Payload: payload})))
	buf2, _, perr2 := sc.RecvFrame()
	require.Nil(t, perr2)
	require.Equal(t, protocol.TypeRCVD, buf2[0])

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, payload, out.Bytes())
}

func TestServeTCPRejectsBadProtocolID(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	go ServeTCP(ln, w, nil)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	sc := transport.NewStreamConn(client)

	require.Nil(t, sc.SendFrame(protocol.EncodeConn(protocol.Conn{SessionID: 1, ProtocolID: 99, TotalCount: 5})))

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, perr := sc.RecvFrame()
	require.NotNil(t, perr) // connection torn down, no CONACC
}

func TestServeUDPForeignConnDuringSession(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	go ServeUDP(pc, w, nil)

	firstPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer firstPC.Close()
	secondPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer secondPC.Close()

	_, err = firstPC.WriteTo(protocol.EncodeConn(protocol.Conn{SessionID: 100, ProtocolID: protocol.ProtoUDP, TotalCount: 5}), pc.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, transport.MaxDatagram)
	firstPC.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := firstPC.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeCONACC, buf[0])
	_ = n

	// Second client intrudes with a different session id while the first
	// session is active; it must get a CONRJT carrying its own session id.
	_, err = secondPC.WriteTo(protocol.EncodeConn(protocol.Conn{SessionID: 200, ProtocolID: protocol.ProtoUDP, TotalCount: 1}), pc.LocalAddr())
	require.NoError(t, err)

	secondPC.SetReadDeadline(time.Now().Add(time.Second))
	n2, _, err := secondPC.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeCONRJT, buf[0])
	require.Equal(t, uint64(200), binary.BigEndian.Uint64(buf[1:9]))
	_ = n2
}

// TestServeUDPRForeignSessionDuringRetransmitDoesNotAbort exercises spec.md
// §4.5: a foreign session_id arriving while the server is retransmitting
// CONACC/ACC must be rejected and ignored, not end the live session — unlike
// the same error seen by the main RECV_DATA loop (see
// TestServeUDPForeignConnDuringSession, a different frame type: CONN).
func TestServeUDPRForeignSessionDuringRetransmitDoesNotAbort(t *testing.T) {
	origWait := config.MaxWait
	config.MaxWait = 80 * time.Millisecond
	defer func() { config.MaxWait = origWait }()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	go ServeUDP(pc, w, nil)

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()

	payload := []byte("hi")
	_, err = clientPC.WriteTo(protocol.EncodeConn(protocol.Conn{SessionID: 7, ProtocolID: protocol.ProtoUDPR, TotalCount: uint64(len(payload))}), pc.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, transport.MaxDatagram)
	clientPC.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = clientPC.ReadFrom(buf)
	require.NoError(t, err) // CONACC

	// Stay silent past MaxWait so the server starts retransmitting CONACC
	// while waiting for packet 0, then intrude with a foreign session's DATA.
	time.Sleep(config.MaxWait + 40*time.Millisecond)

	intruderPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer intruderPC.Close()
	_, err = intruderPC.WriteTo(protocol.EncodeData(protocol.Data{SessionID: 999, PacketNo: 0, PacketCount: 1, Payload: []byte("x")}), pc.LocalAddr())
	require.NoError(t, err)

	intruderPC.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := intruderPC.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeRJT, buf[0])
	require.Equal(t, uint64(999), binary.BigEndian.Uint64(buf[1:9]))
	_ = n

	// The real session must still be alive: sending packet 0 now completes
	// the transfer instead of finding the session already torn down.
	require.Nil(t, clientPC.SetWriteDeadline(time.Time{}))
	_, err = clientPC.WriteTo(protocol.EncodeData(protocol.Data{SessionID: 7, PacketNo: 0, PacketCount: uint32(len(payload)), Payload: payload}), pc.LocalAddr())
	require.NoError(t, err)

	// The CONACC copies the server retransmitted while the client stayed
	// silent are queued ahead of the reply; skip them, then expect ACC(0)
	// followed by RCVD.
	clientPC.SetReadDeadline(time.Now().Add(time.Second))
	n2, _, err := clientPC.ReadFrom(buf)
	require.NoError(t, err)
	for buf[0] == protocol.TypeCONACC {
		n2, _, err = clientPC.ReadFrom(buf)
		require.NoError(t, err)
	}
	require.Equal(t, protocol.TypeACC, buf[0])
	require.Equal(t, uint64(0), binary.BigEndian.Uint64(buf[9:17]))
	n2, _, err = clientPC.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeRCVD, buf[0])
	_ = n2

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, payload, out.Bytes())
}

func TestServeUDPRPacketCountZeroRejected(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	go ServeUDP(pc, w, nil)

	clientPC, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientPC.Close()

	_, err = clientPC.WriteTo(protocol.EncodeConn(protocol.Conn{SessionID: 5, ProtocolID: protocol.ProtoUDPR, TotalCount: 100}), pc.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, transport.MaxDatagram)
	clientPC.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = clientPC.ReadFrom(buf)
	require.NoError(t, err) // CONACC

	badData := protocol.EncodeData(protocol.Data{SessionID: 5, PacketNo: 0, PacketCount: 0})
	_, err = clientPC.WriteTo(badData, pc.LocalAddr())
	require.NoError(t, err)

	clientPC.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := clientPC.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeRJT, buf[0])
	_ = n
}
