package protocol

import "encoding/binary"

// DecodeConn decodes a CONN frame addressed to a listener that has no
// session context yet (spec.md §4.1: CONN is the one type decoded without a
// session-id expectation).
func DecodeConn(buf []byte) (Conn, *ProtoError) {
	t, ok := peekType(buf)
	if !ok {
		return Conn{}, newErr(ErrSize, "buffer too short for type id")
	}
	if t != TypeCONN {
		return Conn{}, newErr(ErrType, "unexpected type id %d, want CONN", t)
	}
	if len(buf) != SizeConn {
		return Conn{}, newErr(ErrSize, "unexpected size %d, want %d", len(buf), SizeConn)
	}
	return Conn{
		SessionID:  binary.BigEndian.Uint64(buf[1:9]),
		ProtocolID: buf[9],
		TotalCount: binary.BigEndian.Uint64(buf[10:18]),
	}, nil
}

// PeekForeignConn reports whether buf is a CONN frame carrying a session id
// other than active — the intrusion a listening server must detect while it
// is already serving a session (spec.md §4.4, original's check_foreign_conn).
// It returns false for short buffers and non-CONN buffers alike, matching
// the original's "quiet" checks which never raise an error of their own.
func PeekForeignConn(buf []byte, active uint64) (foreign uint64, isForeignConn bool) {
	t, ok := peekType(buf)
	if !ok || t != TypeCONN {
		return 0, false
	}
	sess, ok := peekSession(buf)
	if !ok || sess == active {
		return 0, false
	}
	return sess, true
}

// DecodeConacc decodes a CONACC addressed to the session expectedSession,
// in session → type → size order (spec.md §4.1; original's recv_CONACC).
func DecodeConacc(buf []byte, expectedSession uint64) (Conacc, *ProtoError) {
	if sess, ok := peekSession(buf); ok && sess != expectedSession {
		return Conacc{}, newForeignErr(ErrSession, sess, "unexpected session id %d, want %d", sess, expectedSession)
	}
	t, ok := peekType(buf)
	if !ok {
		return Conacc{}, newErr(ErrSize, "buffer too short for type id")
	}
	if t != TypeCONACC {
		return Conacc{}, newErr(ErrType, "unexpected type id %d, want CONACC", t)
	}
	if len(buf) != SizeConacc {
		return Conacc{}, newErr(ErrSize, "unexpected size %d, want %d", len(buf), SizeConacc)
	}
	return Conacc{SessionID: expectedSession}, nil
}

// DataOpts parameterizes DecodeData over the two places it is called from:
// the server's datagram receive loop (which must also watch for a foreign
// CONN intruding on its active session) and a UDPR peer's duplicate
// tolerance for retransmitted frames already seen.
type DataOpts struct {
	ExpectedSession  uint64
	ExpectedPacketNo uint64
	// CheckForeignConn enables the foreign-CONN-before-session check; only
	// meaningful for a server's datagram socket, never for a stream socket
	// (a TCP connection cannot receive a packet from anyone but its peer).
	CheckForeignConn bool
	// Stale enables UDPR's tolerance for a retransmitted CONN or a
	// previously-seen DATA packet_no: both classify as ErrOld instead of a
	// session-ending error.
	Stale bool
}

// DecodeData decodes a DATA frame, applying the exact ordering from
// spec.md §4.1 and original's recv_DATA: foreign-CONN intrusion, session
// match, [UDPR] stale CONN retransmit, type match, header length, total
// size, packet_count range, [UDPR] stale packet_no, packet_no match.
func DecodeData(buf []byte, opts DataOpts) (Data, *ProtoError) {
	if opts.CheckForeignConn {
		if foreign, ok := PeekForeignConn(buf, opts.ExpectedSession); ok {
			return Data{}, newForeignErr(ErrConn, foreign, "received CONN from foreign session")
		}
	}
	if sess, ok := peekSession(buf); ok && sess != opts.ExpectedSession {
		return Data{}, newForeignErr(ErrSession, sess, "unexpected session id %d, want %d", sess, opts.ExpectedSession)
	}
	if opts.Stale {
		if t, ok := peekType(buf); ok && t == TypeCONN {
			return Data{}, newErr(ErrOld, "received retransmitted CONN")
		}
	}
	t, ok := peekType(buf)
	if !ok {
		return Data{}, newErr(ErrSize, "buffer too short for type id")
	}
	if t != TypeDATA {
		return Data{}, newErr(ErrType, "unexpected type id %d, want DATA", t)
	}
	if len(buf) < SizeDataHeader {
		return Data{}, newErr(ErrSize, "buffer too short for DATA header: %d", len(buf))
	}
	packetNo := binary.BigEndian.Uint64(buf[9:17])
	packetCount := binary.BigEndian.Uint32(buf[17:21])
	if uint32(len(buf)) != SizeDataHeader+packetCount {
		return Data{}, newErr(ErrSize, "unexpected size %d, want %d", len(buf), SizeDataHeader+packetCount)
	}
	if packetCount < 1 || packetCount > MaxPacketCount {
		return Data{}, newErr(ErrPacketCount, "invalid packet count %d", packetCount)
	}
	if opts.Stale && packetNo < opts.ExpectedPacketNo {
		return Data{}, newErr(ErrOld, "received old DATA packet_no %d, expected %d", packetNo, opts.ExpectedPacketNo)
	}
	if packetNo != opts.ExpectedPacketNo {
		return Data{}, newErr(ErrPacketNo, "unexpected packet number %d, want %d", packetNo, opts.ExpectedPacketNo)
	}
	payload := make([]byte, packetCount)
	copy(payload, buf[SizeDataHeader:])
	return Data{
		SessionID:   opts.ExpectedSession,
		PacketNo:    packetNo,
		PacketCount: packetCount,
		Payload:     payload,
	}, nil
}

// AccOpts parameterizes DecodeAcc; Stale tolerates a retransmitted CONACC
// arriving after the client has already moved on to waiting for ACCs.
type AccOpts struct {
	ExpectedSession  uint64
	ExpectedPacketNo uint64
	Stale            bool
}

// DecodeAcc decodes an ACC frame (UDPR only), session → [stale] → type →
// size → packet_no order, mirroring DecodeData's structure without the
// foreign-CONN branch (a client's ACC wait has no listener role to defend).
func DecodeAcc(buf []byte, opts AccOpts) (Acc, *ProtoError) {
	if sess, ok := peekSession(buf); ok && sess != opts.ExpectedSession {
		return Acc{}, newForeignErr(ErrSession, sess, "unexpected session id %d, want %d", sess, opts.ExpectedSession)
	}
	if opts.Stale {
		if t, ok := peekType(buf); ok && t == TypeCONACC {
			return Acc{}, newErr(ErrOld, "received retransmitted CONACC")
		}
	}
	t, ok := peekType(buf)
	if !ok {
		return Acc{}, newErr(ErrSize, "buffer too short for type id")
	}
	if t != TypeACC {
		return Acc{}, newErr(ErrType, "unexpected type id %d, want ACC", t)
	}
	if len(buf) != SizeAcc {
		return Acc{}, newErr(ErrSize, "unexpected size %d, want %d", len(buf), SizeAcc)
	}
	packetNo := binary.BigEndian.Uint64(buf[9:17])
	if opts.Stale && packetNo < opts.ExpectedPacketNo {
		return Acc{}, newErr(ErrOld, "received old ACC packet_no %d, expected %d", packetNo, opts.ExpectedPacketNo)
	}
	if packetNo != opts.ExpectedPacketNo {
		return Acc{}, newErr(ErrPacketNo, "unexpected packet number %d, want %d", packetNo, opts.ExpectedPacketNo)
	}
	return Acc{SessionID: opts.ExpectedSession, PacketNo: packetNo}, nil
}

// RcvdOpts parameterizes DecodeRcvd; Stale tolerates a retransmitted CONACC
// or ACC still in flight once the client already sees the final RCVD.
type RcvdOpts struct {
	ExpectedSession uint64
	Stale           bool
}

// DecodeRcvd decodes the terminal RCVD frame.
func DecodeRcvd(buf []byte, opts RcvdOpts) (Rcvd, *ProtoError) {
	if sess, ok := peekSession(buf); ok && sess != opts.ExpectedSession {
		return Rcvd{}, newForeignErr(ErrSession, sess, "unexpected session id %d, want %d", sess, opts.ExpectedSession)
	}
	if opts.Stale {
		if t, ok := peekType(buf); ok && (t == TypeCONACC || t == TypeACC) {
			return Rcvd{}, newErr(ErrOld, "received retransmitted frame while awaiting RCVD")
		}
	}
	t, ok := peekType(buf)
	if !ok {
		return Rcvd{}, newErr(ErrSize, "buffer too short for type id")
	}
	if t != TypeRCVD {
		return Rcvd{}, newErr(ErrType, "unexpected type id %d, want RCVD", t)
	}
	if len(buf) != SizeRcvd {
		return Rcvd{}, newErr(ErrSize, "unexpected size %d, want %d", len(buf), SizeRcvd)
	}
	return Rcvd{SessionID: opts.ExpectedSession}, nil
}

// DecodeRjtOrConrjt recognizes a rejection the client's own session id
// arrives in (CONRJT while waiting for CONACC, RJT while waiting for ACC or
// RCVD). A CONRJT carries only a session_id; an RJT also carries the
// rejected packet_no, returned as packetNo (0 for a CONRJT). spec.md's
// testable scenario 4 relies on this returning cleanly so the caller can
// report the rejection instead of a bare ErrType.
func DecodeRjtOrConrjt(buf []byte, expectedSession uint64) (sessionID uint64, packetNo uint64, isRjt bool, ok bool) {
	t, typeOk := peekType(buf)
	if !typeOk {
		return 0, 0, false, false
	}
	sess, sessOk := peekSession(buf)
	if !sessOk || sess != expectedSession {
		return 0, 0, false, false
	}
	switch t {
	case TypeCONRJT:
		if len(buf) != SizeConrjt {
			return 0, 0, false, false
		}
		return sess, 0, false, true
	case TypeRJT:
		if len(buf) != SizeRjt {
			return 0, 0, false, false
		}
		return sess, binary.BigEndian.Uint64(buf[9:17]), true, true
	default:
		return 0, 0, false, false
	}
}
