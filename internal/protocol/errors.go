package protocol

import "fmt"

// Kind is the classification of a wire-level or session-level violation,
// per spec.md §7. State machines dispatch on Kind, never on the
// underlying cause.
type Kind int

const (
	// Success has no Kind: codec calls that succeed return a nil error, so
	// ErrConn is the first real failure kind, not a placeholder.
	ErrConn Kind = iota
	ErrSession
	ErrType
	ErrSize
	ErrPacketNo
	ErrPacketCount
	ErrProtocol
	ErrOld
	ErrTimeout
	ErrIo
)

func (k Kind) String() string {
	switch k {
	case ErrConn:
		return "ErrConn"
	case ErrSession:
		return "ErrSession"
	case ErrType:
		return "ErrType"
	case ErrSize:
		return "ErrSize"
	case ErrPacketNo:
		return "ErrPacketNo"
	case ErrPacketCount:
		return "ErrPacketCount"
	case ErrProtocol:
		return "ErrProtocol"
	case ErrOld:
		return "ErrOld"
	case ErrTimeout:
		return "ErrTimeout"
	case ErrIo:
		return "ErrIo"
	default:
		return "ErrUnknown"
	}
}

// ProtoError wraps a Kind with a human-readable cause. It is the
// generalization of the original's single mutable "current_error" slot:
// every codec/transport call that can fail returns one of these instead of
// setting shared state (spec.md §9).
type ProtoError struct {
	Kind    Kind
	Message string
	// ForeignSessionID is set when Kind == ErrConn or ErrSession: the
	// session_id of the intruding packet, captured so the caller's next
	// CONRJT/RJT can echo it back (spec.md §3, §4.4 rejection ordering).
	ForeignSessionID uint64
	HasForeign       bool
}

func (e *ProtoError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// newErr builds a plain ProtoError of the given kind.
func newErr(k Kind, format string, args ...interface{}) *ProtoError {
	return &ProtoError{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// newForeignErr builds a ProtoError carrying a captured foreign session id.
func newForeignErr(k Kind, foreign uint64, format string, args ...interface{}) *ProtoError {
	return &ProtoError{Kind: k, Message: fmt.Sprintf(format, args...), ForeignSessionID: foreign, HasForeign: true}
}

// NewIOErr builds a ProtoError for use outside this package — the transport
// adapter raises ErrTimeout/ErrIo this way when a read or write fails below
// the codec layer.
func NewIOErr(k Kind, format string, args ...interface{}) *ProtoError {
	return newErr(k, format, args...)
}

// KindOf extracts the Kind from err, or ErrIo if err is not a *ProtoError
// (an unclassified failure is treated as an I/O failure — fatal for the
// session, same as the original's default branch).
func KindOf(err error) Kind {
	if pe, ok := err.(*ProtoError); ok {
		return pe.Kind
	}
	return ErrIo
}
