package transport

import (
	"io"
	"net"
	"time"

	"ppcb/internal/protocol"
)

// StreamConn adapts a net.Conn (one accepted or dialed TCP connection) to
// Conn. It reassembles one protocol frame per RecvFrame call the same way
// original's recv_DATA did over tcp_readn: read the common 9-byte
// type+session prefix, then read however many more bytes that type needs,
// consulting the packet_count field for DATA.
type StreamConn struct {
	conn net.Conn
}

// NewStreamConn wraps an already-connected or already-accepted net.Conn.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{conn: conn}
}

func (s *StreamConn) SendFrame(buf []byte) *protocol.ProtoError {
	_, err := s.conn.Write(buf)
	if err != nil {
		return ClassifyNetErr(err)
	}
	return nil
}

func (s *StreamConn) readFull(buf []byte) *protocol.ProtoError {
	_, err := io.ReadFull(s.conn, buf)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return protocol.NewIOErr(protocol.ErrIo, "connection closed: %s", err)
		}
		return ClassifyNetErr(err)
	}
	return nil
}

func (s *StreamConn) RecvFrame() ([]byte, net.Addr, *protocol.ProtoError) {
	prefix := make([]byte, 9)
	if perr := s.readFull(prefix); perr != nil {
		return nil, s.conn.RemoteAddr(), perr
	}
	typeID := prefix[0]

	var rest []byte
	switch typeID {
	case protocol.TypeCONN:
		rest = make([]byte, protocol.SizeConn-9)
	case protocol.TypeCONACC, protocol.TypeCONRJT, protocol.TypeRCVD:
		return prefix, s.conn.RemoteAddr(), nil
	case protocol.TypeACC, protocol.TypeRJT:
		rest = make([]byte, protocol.SizeAcc-9)
	case protocol.TypeDATA:
		header := make([]byte, protocol.SizeDataHeader-9)
		if perr := s.readFull(header); perr != nil {
			return nil, s.conn.RemoteAddr(), perr
		}
		count := uint32(header[8])<<24 | uint32(header[9])<<16 | uint32(header[10])<<8 | uint32(header[11])
		payload := make([]byte, count)
		if count > 0 {
			if perr := s.readFull(payload); perr != nil {
				return nil, s.conn.RemoteAddr(), perr
			}
		}
		buf := make([]byte, 0, protocol.SizeDataHeader+len(payload))
		buf = append(buf, prefix...)
		buf = append(buf, header...)
		buf = append(buf, payload...)
		return buf, s.conn.RemoteAddr(), nil
	default:
		// Unrecognized type: return what we have and let the codec reject
		// it with ErrType; the stream is likely desynchronized beyond this
		// point, but the session is ending on this error regardless.
		return prefix, s.conn.RemoteAddr(), nil
	}
	if perr := s.readFull(rest); perr != nil {
		return nil, s.conn.RemoteAddr(), perr
	}
	return append(prefix, rest...), s.conn.RemoteAddr(), nil
}

func (s *StreamConn) SetDeadline(d time.Duration) error {
	if d == 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(time.Now().Add(d))
}

func (s *StreamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *StreamConn) Close() error { return s.conn.Close() }
