// Package retry implements the one generic "request-reply with retry"
// helper spec.md §9 asks for, replacing the four near-duplicate
// retransmission loops of the original (retransmit_CONN, retransmit_DATA,
// retransmit_CONACC, retransmit_ACC in original_source/src/protocol.c).
package retry

import "ppcb/internal/protocol"

// Outcome classifies what a single receive attempt inside the loop should
// do next, mirroring the inner-error policy spec.md §4.5/§9 describes.
type Outcome int

const (
	// Success ends the loop: the expected reply arrived.
	Success Outcome = iota
	// IgnoreAndRetry re-sends and receives again without consuming an
	// attempt — used for ErrSession and ErrOld, and for ErrConn once the
	// caller has already reacted to it (e.g. sent a CONRJT).
	IgnoreAndRetry
	// ConsumeAndRetry re-sends and receives again, consuming one of
	// MaxRetransmits attempts — used for ErrTimeout.
	ConsumeAndRetry
	// Fatal aborts the loop immediately with the given error — used for
	// ErrIo and any other unrecoverable classification.
	Fatal
)

// Attempt performs one receive and classifies its result. Any side effect
// the inner error policy calls for (sending a CONRJT on a foreign CONN,
// restoring the session's notion of its peer address) is the closure's own
// responsibility — this package only drives the attempt counter.
type Attempt func() (Outcome, *protocol.ProtoError)

// Loop resends the initiating frame (via send) and waits for the expected
// reply (via attempt) until attempt reports Success, Fatal, or
// maxRetransmits ConsumeAndRetry attempts have been spent — at which point
// it returns the last ErrTimeout. Timeouts alone therefore put at most
// maxRetransmits+1 copies of a frame on the wire; each IgnoreAndRetry
// outcome sends one more copy that is not counted against that bound.
func Loop(maxRetransmits int, send func() *protocol.ProtoError, attempt Attempt) *protocol.ProtoError {
	spent := 0
	for {
		if perr := send(); perr != nil {
			return perr
		}
		outcome, perr := attempt()
		switch outcome {
		case Success:
			return nil
		case IgnoreAndRetry:
			continue
		case Fatal:
			return perr
		case ConsumeAndRetry:
			spent++
			if spent > maxRetransmits {
				return perr
			}
			continue
		default:
			return perr
		}
	}
}
