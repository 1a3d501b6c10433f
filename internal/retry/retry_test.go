package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ppcb/internal/protocol"
)

func TestLoopSucceedsFirstTry(t *testing.T) {
	sends := 0
	perr := Loop(5, func() *protocol.ProtoError {
		sends++
		return nil
	}, func() (Outcome, *protocol.ProtoError) {
		return Success, nil
	})
	assert.Nil(t, perr)
	assert.Equal(t, 1, sends)
}

func TestLoopIgnoreDoesNotConsumeBudget(t *testing.T) {
	calls := 0
	perr := Loop(1, func() *protocol.ProtoError {
		return nil
	}, func() (Outcome, *protocol.ProtoError) {
		calls++
		if calls < 10 {
			return IgnoreAndRetry, nil
		}
		return Success, nil
	})
	assert.Nil(t, perr)
	assert.Equal(t, 10, calls)
}

func TestLoopExhaustsRetransmits(t *testing.T) {
	sends := 0
	perr := Loop(2, func() *protocol.ProtoError {
		sends++
		return nil
	}, func() (Outcome, *protocol.ProtoError) {
		return ConsumeAndRetry, protocol.NewIOErr(protocol.ErrTimeout, "no reply")
	})
	if assert.NotNil(t, perr) {
		assert.Equal(t, protocol.ErrTimeout, perr.Kind)
	}
	assert.Equal(t, 3, sends) // initial + 2 retransmits
}

func TestLoopFatalAbortsImmediately(t *testing.T) {
	sends := 0
	perr := Loop(5, func() *protocol.ProtoError {
		sends++
		return nil
	}, func() (Outcome, *protocol.ProtoError) {
		return Fatal, protocol.NewIOErr(protocol.ErrIo, "socket closed")
	})
	if assert.NotNil(t, perr) {
		assert.Equal(t, protocol.ErrIo, perr.Kind)
	}
	assert.Equal(t, 1, sends)
}
