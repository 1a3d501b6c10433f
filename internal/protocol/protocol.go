// Package protocol implements the seven-packet wire format from spec.md §3:
// byte-exact layout, network byte order, and the decode-time validation
// ordering from spec.md §4.1 (foreign-session intrusion before type
// mismatch, size before range, range before sequence).
package protocol

import "encoding/binary"

// TypeID values, spec.md §3.
const (
	TypeCONN   uint8 = 1
	TypeCONACC uint8 = 2
	TypeCONRJT uint8 = 3
	TypeDATA   uint8 = 4
	TypeACC    uint8 = 5
	TypeRJT    uint8 = 6
	TypeRCVD   uint8 = 7
)

// Protocol IDs exchanged in CONN.protocol_id, spec.md §3.
const (
	ProtoInvalid uint8 = 0
	ProtoTCP     uint8 = 1
	ProtoUDP     uint8 = 2
	ProtoUDPR    uint8 = 3
)

// MaxPacketCount and StartNo are the bounds on DATA.packet_count and the
// first legal packet_no, spec.md §3.
const (
	StartNo        uint64 = 0
	MaxPacketCount uint32 = 64000
)

// MatchProtocols implements the legal (client, server) pairing table from
// spec.md §4.3/§8: (tcp,tcp), (udp,udp), (udpr,udp). It reports whether the
// pairing is legal and, if so, whether the session runs in UDPR mode.
func MatchProtocols(clientProtocolID, serverProtocolID uint8) (udpr bool, ok bool) {
	switch {
	case clientProtocolID == ProtoTCP && serverProtocolID == ProtoTCP:
		return false, true
	case clientProtocolID == ProtoUDP && serverProtocolID == ProtoUDP:
		return false, true
	case clientProtocolID == ProtoUDPR && serverProtocolID == ProtoUDP:
		return true, true
	default:
		return false, false
	}
}

// Fixed wire sizes, spec.md §3 table.
const (
	SizeConn       = 1 + 8 + 1 + 8 // 18
	SizeConacc     = 1 + 8         // 9
	SizeConrjt     = 1 + 8         // 9
	SizeDataHeader = 1 + 8 + 8 + 4 // 21
	SizeAcc        = 1 + 8 + 8     // 17
	SizeRjt        = 1 + 8 + 8     // 17
	SizeRcvd       = 1 + 8         // 9
)

// Conn is the session-establishment request.
type Conn struct {
	SessionID  uint64
	ProtocolID uint8
	TotalCount uint64
}

// Conacc accepts a session.
type Conacc struct {
	SessionID uint64
}

// Conrjt rejects a session (sent to whoever does not own the active one).
type Conrjt struct {
	SessionID uint64
}

// Data carries one ordered chunk of the payload.
type Data struct {
	SessionID   uint64
	PacketNo    uint64
	PacketCount uint32
	Payload     []byte
}

// Acc acknowledges one Data frame by packet number (UDPR only).
type Acc struct {
	SessionID uint64
	PacketNo  uint64
}

// Rjt rejects a Data frame and ends the session.
type Rjt struct {
	SessionID uint64
	PacketNo  uint64
}

// Rcvd signals that the full payload was received.
type Rcvd struct {
	SessionID uint64
}

// EncodeConn serializes a CONN frame. Encoding never fails (spec.md §4.1).
func EncodeConn(c Conn) []byte {
	b := make([]byte, SizeConn)
	b[0] = TypeCONN
	binary.BigEndian.PutUint64(b[1:9], c.SessionID)
	b[9] = c.ProtocolID
	binary.BigEndian.PutUint64(b[10:18], c.TotalCount)
	return b
}

// EncodeConacc serializes a CONACC frame.
func EncodeConacc(c Conacc) []byte {
	b := make([]byte, SizeConacc)
	b[0] = TypeCONACC
	binary.BigEndian.PutUint64(b[1:9], c.SessionID)
	return b
}

// EncodeConrjt serializes a CONRJT frame.
func EncodeConrjt(c Conrjt) []byte {
	b := make([]byte, SizeConrjt)
	b[0] = TypeCONRJT
	binary.BigEndian.PutUint64(b[1:9], c.SessionID)
	return b
}

// EncodeData serializes a DATA frame: header immediately followed by the
// payload in one contiguous buffer (spec.md §9 ambiguity 1 — this is the
// datagram-style single-buffer assembly; a stream backend may still split
// the write into header then payload, since both are byte-identical on the
// wire either way).
func EncodeData(d Data) []byte {
	b := make([]byte, SizeDataHeader+len(d.Payload))
	b[0] = TypeDATA
	binary.BigEndian.PutUint64(b[1:9], d.SessionID)
	binary.BigEndian.PutUint64(b[9:17], d.PacketNo)
	binary.BigEndian.PutUint32(b[17:21], d.PacketCount)
	copy(b[SizeDataHeader:], d.Payload)
	return b
}

// EncodeAcc serializes an ACC frame.
func EncodeAcc(a Acc) []byte {
	b := make([]byte, SizeAcc)
	b[0] = TypeACC
	binary.BigEndian.PutUint64(b[1:9], a.SessionID)
	binary.BigEndian.PutUint64(b[9:17], a.PacketNo)
	return b
}

// EncodeRjt serializes a RJT frame.
func EncodeRjt(r Rjt) []byte {
	b := make([]byte, SizeRjt)
	b[0] = TypeRJT
	binary.BigEndian.PutUint64(b[1:9], r.SessionID)
	binary.BigEndian.PutUint64(b[9:17], r.PacketNo)
	return b
}

// EncodeRcvd serializes a RCVD frame.
func EncodeRcvd(r Rcvd) []byte {
	b := make([]byte, SizeRcvd)
	b[0] = TypeRCVD
	binary.BigEndian.PutUint64(b[1:9], r.SessionID)
	return b
}

// peekType returns the type_id byte, if the buffer is long enough to hold one.
func peekType(buf []byte) (uint8, bool) {
	if len(buf) < 1 {
		return 0, false
	}
	return buf[0], true
}

// peekSession returns the session_id field common to every non-CONN type,
// and to CONN itself (same offset), if the buffer is long enough.
func peekSession(buf []byte) (uint64, bool) {
	if len(buf) < 9 {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf[1:9]), true
}
