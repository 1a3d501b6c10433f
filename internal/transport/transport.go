// Package transport adapts a TCP stream or a UDP socket to the same
// send/receive-a-frame shape the session drivers use, generalizing the
// original's tcp_readn/tcp_writen and udp_sendto/udp_recvfrom pair
// (original_source/src/common.c) behind one interface (spec.md §4.2).
package transport

import (
	"net"
	"time"

	"ppcb/internal/protocol"
)

// MaxDatagram bounds a single UDP read: one DATA frame at MaxPacketCount
// plus its header, rounded up (original's BUFFER_SIZE was 65536).
const MaxDatagram = protocol.SizeDataHeader + int(protocol.MaxPacketCount) + 1024

// Conn is a transport-agnostic frame channel. A stream implementation
// reassembles one protocol frame out of one or two reads (TCP has no
// datagram boundaries); a datagram implementation returns exactly what one
// recvfrom produced.
type Conn interface {
	// SendFrame writes buf as a single frame.
	SendFrame(buf []byte) *protocol.ProtoError
	// RecvFrame blocks for one frame (or the current deadline) and returns
	// its bytes along with the peer address the bytes arrived from —
	// meaningful for a UDP listener serving more than one would-be client;
	// always the connected peer for a stream or a connected datagram socket.
	RecvFrame() (buf []byte, peer net.Addr, perr *protocol.ProtoError)
	// SetDeadline arms the receive deadline MAX_WAIT uses (spec.md §4.5);
	// a zero duration clears it.
	SetDeadline(d time.Duration) error
	RemoteAddr() net.Addr
	Close() error
}

// ClassifyNetErr maps a net.Error into the two kinds the original's
// tcp_readn/tcp_writen distinguished: a timeout (EAGAIN) versus any other
// I/O failure.
func ClassifyNetErr(err error) *protocol.ProtoError {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return protocol.NewIOErr(protocol.ErrTimeout, "%s", err)
	}
	return protocol.NewIOErr(protocol.ErrIo, "%s", err)
}
