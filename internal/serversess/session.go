// Package serversess drives the server-side session state machine from
// spec.md §4.4: accept one CONN at a time, answer CONACC or reject a
// second caller with CONRJT, receive an ordered DATA stream, and answer
// RCVD. It replaces the original's two process-wide globals (current
// session, captured foreign session id — original_source/src/ppcbs.c) with
// the explicit Serving struct spec.md §9 asks for.
package serversess

import (
	"bufio"
	"net"

	"github.com/rs/xid"

	"ppcb/internal/config"
	"ppcb/internal/logx"
	"ppcb/internal/metrics"
	"ppcb/internal/protocol"
	"ppcb/internal/retry"
	"ppcb/internal/transport"
)

// ServeTCP accepts connections from ln one at a time — spec.md's Non-goal
// "no multi-client concurrency" is read literally here: the next Accept
// only happens once the current session has fully ended, matching
// original_source's ppcbs.c TCP loop structure.
func ServeTCP(ln net.Listener, out *bufio.Writer, m *metrics.ServerMetrics) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		serveStreamSession(conn, out, m)
		conn.Close()
	}
}

func serveStreamSession(conn net.Conn, out *bufio.Writer, m *metrics.ServerMetrics) {
	log := logx.WithField("peer", conn.RemoteAddr())
	sc := transport.NewStreamConn(conn)

	if err := sc.SetDeadline(config.MaxWait); err != nil {
		log.Errorf("set deadline: %s", err)
		return
	}
	buf, _, perr := sc.RecvFrame()
	if perr != nil {
		log.Errorf("recv CONN: %s", perr)
		return
	}
	c, perr := protocol.DecodeConn(buf)
	if perr != nil {
		log.Errorf("decode CONN: %s", perr)
		return
	}
	if _, ok := protocol.MatchProtocols(c.ProtocolID, protocol.ProtoTCP); !ok {
		log.Errorf("ErrProtocol: protocol_id %d incompatible with tcp listener, tearing down", c.ProtocolID)
		if m != nil {
			m.SessionsRejected.Inc()
		}
		return
	}
	if perr := sc.SendFrame(protocol.EncodeConacc(protocol.Conacc{SessionID: c.SessionID})); perr != nil {
		log.Errorf("send CONACC: %s", perr)
		return
	}
	if m != nil {
		m.SessionsAccepted.Inc()
		m.ActiveSessions.Inc()
		defer m.ActiveSessions.Dec()
	}

	expected := protocol.StartNo
	var receivedBytes uint64
	for receivedBytes < c.TotalCount {
		if err := sc.SetDeadline(config.MaxWait); err != nil {
			log.Errorf("set deadline: %s", err)
			return
		}
		fb, _, perr := sc.RecvFrame()
		if perr != nil {
			log.Errorf("recv DATA %d: %s", expected, perr)
			return
		}
		d, perr := protocol.DecodeData(fb, protocol.DataOpts{ExpectedSession: c.SessionID, ExpectedPacketNo: expected})
		if perr != nil {
			rejectStream(sc, c.SessionID, expected, perr, log)
			return
		}
		remaining := c.TotalCount - receivedBytes
		if uint64(d.PacketCount) > remaining {
			rejectStream(sc, c.SessionID, expected, protocol.NewIOErr(protocol.ErrPacketCount, "packet_count %d exceeds remaining %d", d.PacketCount, remaining), log)
			return
		}
		out.Write(d.Payload)
		out.Flush()
		receivedBytes += uint64(d.PacketCount)
		expected++
		if m != nil {
			m.BytesReceived.Add(float64(d.PacketCount))
		}
	}
	if perr := sc.SendFrame(protocol.EncodeRcvd(protocol.Rcvd{SessionID: c.SessionID})); perr != nil {
		log.Errorf("send RCVD: %s", perr)
	}
}

func rejectStream(sc *transport.StreamConn, sessionID, expected uint64, perr *protocol.ProtoError, log logEntry) {
	switch perr.Kind {
	case protocol.ErrPacketNo, protocol.ErrPacketCount, protocol.ErrSize:
		sc.SendFrame(protocol.EncodeRjt(protocol.Rjt{SessionID: sessionID, PacketNo: expected}))
	}
	log.Errorf("DATA %d rejected: %s", expected, perr)
}

// logEntry is the subset of *logrus.Entry the two serve paths use, kept
// small so stream and datagram helpers can share rejectStream/logging calls
// without importing logrus directly outside logx.
type logEntry interface {
	Errorf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Serving is the server-side session entity from spec.md §3: adopted
// session_id, negotiated mode, the peer address CONN arrived from, and the
// receive-ordering state advanced as DATA frames come in.
type Serving struct {
	datagram      *transport.DatagramConn
	sessionID     uint64
	peerAddr      net.Addr
	expectedTotal uint64
	receivedBytes uint64
	udpr          bool
	pendingData   *protocol.Data
}

// ServeUDP implements the LISTEN/Serving state explicitly (spec.md §9),
// rather than a process-wide current-session variable: a single receive
// loop alternates between waiting for the next CONN (no deadline) and
// serving one session at a time (MAX_WAIT deadline, foreign-CONN rejection
// while serving).
func ServeUDP(pc net.PacketConn, out *bufio.Writer, m *metrics.ServerMetrics) error {
	datagram := transport.NewDatagramConn(pc, nil)
	for {
		if err := datagram.SetDeadline(0); err != nil {
			return err
		}
		buf, from, perr := datagram.RecvFrame()
		if perr != nil {
			logx.Error("listen recv failed: %s", perr)
			continue
		}
		c, perr := protocol.DecodeConn(buf)
		if perr != nil {
			logx.Debug("ignoring non-CONN packet while listening: %s", perr)
			continue
		}
		udpr, ok := protocol.MatchProtocols(c.ProtocolID, protocol.ProtoUDP)
		if !ok {
			logx.Error("ErrProtocol: rejecting CONN with incompatible protocol_id %d", c.ProtocolID)
			if m != nil {
				m.SessionsRejected.Inc()
			}
			continue
		}

		label := xid.New().String()
		log := logx.WithField("session", c.SessionID).WithField("sid", label)
		log.Infof("accepted from %s (udpr=%v, total=%d)", from, udpr, c.TotalCount)
		if perr := datagram.SendFrameTo(protocol.EncodeConacc(protocol.Conacc{SessionID: c.SessionID}), from); perr != nil {
			log.Errorf("send CONACC: %s", perr)
			continue
		}
		if m != nil {
			m.SessionsAccepted.Inc()
			m.ActiveSessions.Inc()
		}

		srv := &Serving{
			datagram:      datagram,
			sessionID:     c.SessionID,
			peerAddr:      from,
			expectedTotal: c.TotalCount,
			udpr:          udpr,
		}
		perr = srv.run(out, m)
		if m != nil {
			m.ActiveSessions.Dec()
		}
		if perr != nil {
			log.Errorf("session ended: %s", perr)
		} else {
			log.Infof("session complete")
		}
	}
}

type dataStepKind int

const (
	stepData dataStepKind = iota
	stepForeignHandled
	stepIgnored
	stepTimeout
	stepAbortPacket
	stepAbortType
	stepAbortSession
	stepAbortIO
)

type dataStepResult struct {
	kind dataStepKind
	data protocol.Data
	perr *protocol.ProtoError
}

// step performs exactly one receive+decode+classify against the active
// session, reacting inline to a foreign CONN (send CONRJT, keep serving)
// and a stale UDPR duplicate (ignore) the same way spec.md §4.4 describes.
func (s *Serving) step(expected uint64) dataStepResult {
	if err := s.datagram.SetDeadline(config.MaxWait); err != nil {
		return dataStepResult{kind: stepAbortIO, perr: protocol.NewIOErr(protocol.ErrIo, "%s", err)}
	}
	buf, from, perr := s.datagram.RecvFrame()
	if perr != nil {
		if perr.Kind == protocol.ErrTimeout {
			return dataStepResult{kind: stepTimeout}
		}
		return dataStepResult{kind: stepAbortIO, perr: perr}
	}
	d, perr := protocol.DecodeData(buf, protocol.DataOpts{
		ExpectedSession:  s.sessionID,
		ExpectedPacketNo: expected,
		CheckForeignConn: true,
		Stale:            s.udpr,
	})
	if perr == nil {
		remaining := s.expectedTotal - s.receivedBytes
		if uint64(d.PacketCount) > remaining {
			s.sendRJT(expected)
			return dataStepResult{kind: stepAbortPacket, perr: protocol.NewIOErr(protocol.ErrPacketCount, "packet_count %d exceeds remaining %d", d.PacketCount, remaining)}
		}
		return dataStepResult{kind: stepData, data: d}
	}
	switch perr.Kind {
	case protocol.ErrConn:
		s.datagram.SendFrameTo(protocol.EncodeConrjt(protocol.Conrjt{SessionID: perr.ForeignSessionID}), from)
		return dataStepResult{kind: stepForeignHandled}
	case protocol.ErrOld:
		return dataStepResult{kind: stepIgnored}
	case protocol.ErrSession:
		// spec.md §7: abandon the current session, echoing the intruder's
		// own session_id back to it — a deliberately lossy simplification.
		s.datagram.SendFrameTo(protocol.EncodeRjt(protocol.Rjt{SessionID: perr.ForeignSessionID, PacketNo: expected}), from)
		return dataStepResult{kind: stepAbortSession, perr: perr}
	case protocol.ErrType:
		return dataStepResult{kind: stepAbortType, perr: perr}
	case protocol.ErrPacketNo, protocol.ErrPacketCount, protocol.ErrSize:
		s.sendRJT(expected)
		return dataStepResult{kind: stepAbortPacket, perr: perr}
	default:
		return dataStepResult{kind: stepAbortIO, perr: perr}
	}
}

func (s *Serving) sendRJT(expected uint64) {
	s.datagram.SendFrameTo(protocol.EncodeRjt(protocol.Rjt{SessionID: s.sessionID, PacketNo: expected}), s.peerAddr)
}

// retransmit resends CONACC (expected == START_NO) or ACC(expected-1)
// (expected > START_NO) up to MaxRetransmits times, reusing step for each
// receive attempt — the same generalization from spec.md §9 clientsess
// uses, parameterized the other way around (server resends a reply, not a
// request).
func (s *Serving) retransmit(expected uint64, m *metrics.ServerMetrics) *protocol.ProtoError {
	send := func() *protocol.ProtoError {
		if m != nil {
			m.Retransmissions.Inc()
		}
		if expected == protocol.StartNo {
			return s.datagram.SendFrameTo(protocol.EncodeConacc(protocol.Conacc{SessionID: s.sessionID}), s.peerAddr)
		}
		return s.datagram.SendFrameTo(protocol.EncodeAcc(protocol.Acc{SessionID: s.sessionID, PacketNo: expected - 1}), s.peerAddr)
	}
	attempt := func() (retry.Outcome, *protocol.ProtoError) {
		result := s.step(expected)
		switch result.kind {
		case stepData:
			d := result.data
			s.pendingData = &d
			return retry.Success, nil
		case stepForeignHandled, stepIgnored:
			return retry.IgnoreAndRetry, nil
		case stepAbortSession:
			// spec.md §4.5: unlike the main RECV_DATA loop, the retransmit
			// submodules must not let a foreign session_id end the live
			// session — step already sent the RJT, so just keep waiting for
			// the reply we're actually retransmitting for, same as the
			// original's retransmit_ACC/retransmit_CONACC ("send_RJT(...);
			// i--;").
			return retry.IgnoreAndRetry, nil
		case stepTimeout:
			return retry.ConsumeAndRetry, protocol.NewIOErr(protocol.ErrTimeout, "retransmit exhausted waiting for packet %d", expected)
		default:
			return retry.Fatal, result.perr
		}
	}
	return retry.Loop(config.MaxRetransmits, send, attempt)
}

// run drives RECV_DATA to completion: success (RCVD sent), or the
// *protocol.ProtoError that ended the session early.
func (s *Serving) run(out *bufio.Writer, m *metrics.ServerMetrics) *protocol.ProtoError {
	expected := protocol.StartNo
	for {
		var result dataStepResult
		if s.pendingData != nil {
			result = dataStepResult{kind: stepData, data: *s.pendingData}
			s.pendingData = nil
		} else {
			result = s.step(expected)
		}

		switch result.kind {
		case stepData:
			out.Write(result.data.Payload)
			out.Flush()
			if s.udpr {
				if perr := s.datagram.SendFrameTo(protocol.EncodeAcc(protocol.Acc{SessionID: s.sessionID, PacketNo: result.data.PacketNo}), s.peerAddr); perr != nil {
					return perr
				}
			}
			s.receivedBytes += uint64(result.data.PacketCount)
			expected++
			if m != nil {
				m.BytesReceived.Add(float64(result.data.PacketCount))
			}
			if s.receivedBytes == s.expectedTotal {
				return s.datagram.SendFrameTo(protocol.EncodeRcvd(protocol.Rcvd{SessionID: s.sessionID}), s.peerAddr)
			}
		case stepForeignHandled, stepIgnored:
			// no state change; loop again
		case stepTimeout:
			if !s.udpr {
				return protocol.NewIOErr(protocol.ErrTimeout, "receive deadline exceeded")
			}
			if perr := s.retransmit(expected, m); perr != nil {
				return perr
			}
		default:
			return result.perr
		}
	}
}
