// Package clientsess drives the client-side session state machine from
// spec.md §4.3: CONN handshake, an ordered stream of DATA frames, and a
// final wait for RCVD. It mirrors the control flow of original_source's
// ppcbc.c (one "dummy do-while" per phase, broken out of on any failure)
// but replaces the mutable current_error slot with the typed errors
// internal/protocol returns, and the four duplicated retransmit_* loops
// with internal/retry's single generic helper.
package clientsess

import (
	"math/rand"
	"os"
	"time"

	"ppcb/internal/config"
	"ppcb/internal/logx"
	"ppcb/internal/protocol"
	"ppcb/internal/retry"
	"ppcb/internal/transport"
)

// Session holds the client-side session entity from spec.md §3: a random
// session_id fixed for the session's lifetime, the negotiated mode, and the
// RNG that picks DATA sizes. The packet_no and byte count advanced as DATA
// frames go out are locals of SendAll.
type Session struct {
	conn      transport.Conn
	mode      config.Mode
	sessionID uint64
	rng       *rand.Rand
}

// NewSession mints a session_id and seeds the packet-size RNG the way the
// original seeded srand, from the clock and the pid: the wall clock in
// nanoseconds xor'd with the pid shifted left 32 bits (spec.md §9 — "purely for seed diversity, not part of the wire
// contract"). Any seeding scheme is conformant; this one just keeps the
// same test texture as the original (variable DATA sizes, not one fixed
// chunk size).
func NewSession(conn transport.Conn, mode config.Mode) *Session {
	seed := time.Now().UnixNano() ^ int64(os.Getpid())<<32
	rng := rand.New(rand.NewSource(seed))
	return &Session{
		conn:      conn,
		mode:      mode,
		sessionID: rng.Uint64(),
		rng:       rng,
	}
}

func (s *Session) maxRetransmits() int {
	if s.mode == config.ModeUDPR {
		return config.MaxRetransmits
	}
	return 0
}

// SendAll runs the full client flow for payload: CONN handshake, a DATA
// stream with pseudo-random chunk sizes, and the final RCVD wait. It
// returns nil on the success path described by spec.md §8's round-trip
// property, or the *protocol.ProtoError that ended the session.
func (s *Session) SendAll(payload []byte) *protocol.ProtoError {
	log := logx.WithField("session", s.sessionID)
	totalCount := uint64(len(payload))

	if perr := s.waitConacc(totalCount); perr != nil {
		log.Errorf("CONN handshake failed: %s", perr)
		return perr
	}
	log.Debugf("session accepted, sending %d bytes", totalCount)

	sent := uint64(0)
	packetNo := protocol.StartNo
	for sent < totalCount {
		chunk := s.nextChunkSize(totalCount - sent)
		frame := payload[sent : sent+chunk]
		if perr := s.sendData(packetNo, frame); perr != nil {
			log.Errorf("DATA %d failed: %s", packetNo, perr)
			return perr
		}
		sent += chunk
		packetNo++
	}

	if perr := s.waitRcvd(); perr != nil {
		log.Errorf("RCVD wait failed: %s", perr)
		return perr
	}
	log.Debugf("transfer complete")
	return nil
}

// nextChunkSize reproduces generate_packet_count from
// original_source/src/protocol.c: a pseudo-random size in
// [1, min(MAX_PACKET_COUNT, remaining)].
func (s *Session) nextChunkSize(remaining uint64) uint64 {
	limit := uint64(protocol.MaxPacketCount)
	if remaining < limit {
		limit = remaining
	}
	if limit <= 1 {
		return limit
	}
	return 1 + uint64(s.rng.Int63n(int64(limit)))
}

// classifyReject upgrades a bare ErrType into a reported rejection when buf
// turns out to be a CONRJT/RJT carrying this session's own id (spec.md's
// testable scenario 4) — otherwise perr is returned unchanged.
func (s *Session) classifyReject(buf []byte, perr *protocol.ProtoError) *protocol.ProtoError {
	if perr == nil || perr.Kind != protocol.ErrType {
		return perr
	}
	_, packetNo, isRjt, ok := protocol.DecodeRjtOrConrjt(buf, s.sessionID)
	if !ok {
		return perr
	}
	if isRjt {
		return protocol.NewIOErr(protocol.ErrConn, "server rejected packet %d", packetNo)
	}
	return protocol.NewIOErr(protocol.ErrConn, "server rejected connection")
}

func (s *Session) waitConacc(totalCount uint64) *protocol.ProtoError {
	send := func() *protocol.ProtoError {
		return s.conn.SendFrame(protocol.EncodeConn(protocol.Conn{
			SessionID:  s.sessionID,
			ProtocolID: s.mode.ProtocolID(),
			TotalCount: totalCount,
		}))
	}
	attempt := func() (retry.Outcome, *protocol.ProtoError) {
		if err := s.conn.SetDeadline(config.MaxWait); err != nil {
			return retry.Fatal, protocol.NewIOErr(protocol.ErrIo, "%s", err)
		}
		buf, _, perr := s.conn.RecvFrame()
		if perr != nil {
			if perr.Kind == protocol.ErrTimeout {
				return retry.ConsumeAndRetry, perr
			}
			return retry.Fatal, perr
		}
		_, perr = protocol.DecodeConacc(buf, s.sessionID)
		if perr == nil {
			return retry.Success, nil
		}
		perr = s.classifyReject(buf, perr)
		switch perr.Kind {
		case protocol.ErrSession, protocol.ErrOld:
			return retry.IgnoreAndRetry, nil
		default:
			return retry.Fatal, perr
		}
	}
	return retry.Loop(s.maxRetransmits(), send, attempt)
}

func (s *Session) sendData(packetNo uint64, chunk []byte) *protocol.ProtoError {
	frame := protocol.Data{
		SessionID:   s.sessionID,
		PacketNo:    packetNo,
		PacketCount: uint32(len(chunk)),
		Payload:     chunk,
	}
	if s.mode != config.ModeUDPR {
		return s.conn.SendFrame(protocol.EncodeData(frame))
	}
	return s.waitAcc(frame)
}

func (s *Session) waitAcc(frame protocol.Data) *protocol.ProtoError {
	send := func() *protocol.ProtoError {
		return s.conn.SendFrame(protocol.EncodeData(frame))
	}
	attempt := func() (retry.Outcome, *protocol.ProtoError) {
		if err := s.conn.SetDeadline(config.MaxWait); err != nil {
			return retry.Fatal, protocol.NewIOErr(protocol.ErrIo, "%s", err)
		}
		buf, _, perr := s.conn.RecvFrame()
		if perr != nil {
			if perr.Kind == protocol.ErrTimeout {
				return retry.ConsumeAndRetry, perr
			}
			return retry.Fatal, perr
		}
		_, perr = protocol.DecodeAcc(buf, protocol.AccOpts{
			ExpectedSession:  s.sessionID,
			ExpectedPacketNo: frame.PacketNo,
			Stale:            true,
		})
		if perr == nil {
			return retry.Success, nil
		}
		perr = s.classifyReject(buf, perr)
		switch perr.Kind {
		case protocol.ErrSession, protocol.ErrOld:
			return retry.IgnoreAndRetry, nil
		default:
			return retry.Fatal, perr
		}
	}
	return retry.Loop(s.maxRetransmits(), send, attempt)
}

// waitRcvd receives until RCVD arrives, skipping stale frames (ErrOld), with
// no retransmit of the last DATA frame on timeout, resolving spec.md §9
// ambiguity 3 in favor of the simplest conforming choice (a
// retry-without-resend variant is legal too).
func (s *Session) waitRcvd() *protocol.ProtoError {
	for {
		if err := s.conn.SetDeadline(config.MaxWait); err != nil {
			return protocol.NewIOErr(protocol.ErrIo, "%s", err)
		}
		buf, _, perr := s.conn.RecvFrame()
		if perr != nil {
			return perr
		}
		_, perr = protocol.DecodeRcvd(buf, protocol.RcvdOpts{ExpectedSession: s.sessionID, Stale: s.mode == config.ModeUDPR})
		if perr != nil && perr.Kind == protocol.ErrOld {
			continue
		}
		return s.classifyReject(buf, perr)
	}
}
