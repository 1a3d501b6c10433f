package transport

import (
	"net"
	"time"

	"ppcb/internal/protocol"
)

// DatagramConn adapts a net.PacketConn to Conn. Unlike StreamConn it never
// needs to reassemble a frame: one recvfrom already returns a whole
// datagram, the same guarantee original's udp_recvfrom relied on.
//
// peer, when non-nil, fixes the address every SendFrame targets and every
// RecvFrame is expected from — the client's view of its one server. A
// server listening for any client leaves peer nil and tracks whichever
// address a CONN arrived from itself.
type DatagramConn struct {
	pc   net.PacketConn
	peer net.Addr
}

// NewDatagramConn wraps pc. If peer is non-nil, SendFrame always writes to
// it and RecvFrame returns whatever arrives (the caller checks the returned
// peer against the session's if it cares — this is how the server's
// foreign-session detection sees packets from an unexpected address).
func NewDatagramConn(pc net.PacketConn, peer net.Addr) *DatagramConn {
	return &DatagramConn{pc: pc, peer: peer}
}

func (d *DatagramConn) SendFrame(buf []byte) *protocol.ProtoError {
	if d.peer == nil {
		return protocol.NewIOErr(protocol.ErrIo, "datagram connection has no destination address")
	}
	_, err := d.pc.WriteTo(buf, d.peer)
	if err != nil {
		return ClassifyNetErr(err)
	}
	return nil
}

// SendFrameTo writes buf to an explicit address, used by a server replying
// to whichever client address a CONN just arrived from.
func (d *DatagramConn) SendFrameTo(buf []byte, addr net.Addr) *protocol.ProtoError {
	_, err := d.pc.WriteTo(buf, addr)
	if err != nil {
		return ClassifyNetErr(err)
	}
	return nil
}

func (d *DatagramConn) RecvFrame() ([]byte, net.Addr, *protocol.ProtoError) {
	buf := make([]byte, MaxDatagram)
	n, addr, err := d.pc.ReadFrom(buf)
	if err != nil {
		return nil, addr, ClassifyNetErr(err)
	}
	return buf[:n], addr, nil
}

func (d *DatagramConn) SetDeadline(dur time.Duration) error {
	if dur == 0 {
		return d.pc.SetReadDeadline(time.Time{})
	}
	return d.pc.SetReadDeadline(time.Now().Add(dur))
}

func (d *DatagramConn) RemoteAddr() net.Addr { return d.peer }

func (d *DatagramConn) Close() error { return d.pc.Close() }

// SetPeer replaces the address SendFrame targets and RemoteAddr reports.
// The session drivers do not call it: a client keeps the peer it was
// constructed with for the whole session.
func (d *DatagramConn) SetPeer(addr net.Addr) { d.peer = addr }
