package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	conn := Conn{SessionID: 12345, ProtocolID: ProtoUDPR, TotalCount: 9000}
	got, perr := DecodeConn(EncodeConn(conn))
	require.Nil(t, perr)
	assert.Equal(t, conn, got)

	data := Data{SessionID: 1, PacketNo: 3, PacketCount: 4, Payload: []byte("abcd")}
	buf := EncodeData(data)
	assert.Equal(t, SizeDataHeader+4, len(buf))
	gotData, perr := DecodeData(buf, DataOpts{ExpectedSession: 1, ExpectedPacketNo: 3})
	require.Nil(t, perr)
	assert.Equal(t, data.Payload, gotData.Payload)
	assert.Equal(t, data.PacketNo, gotData.PacketNo)
}

func TestMatchProtocols(t *testing.T) {
	cases := []struct {
		client, server uint8
		wantUDPR       bool
		wantOK         bool
	}{
		{ProtoTCP, ProtoTCP, false, true},
		{ProtoUDP, ProtoUDP, false, true},
		{ProtoUDPR, ProtoUDP, true, true},
		{ProtoTCP, ProtoUDP, false, false},
		{ProtoUDPR, ProtoTCP, false, false},
		{99, ProtoUDP, false, false},
	}
	for _, c := range cases {
		udpr, ok := MatchProtocols(c.client, c.server)
		assert.Equal(t, c.wantOK, ok)
		if ok {
			assert.Equal(t, c.wantUDPR, udpr)
		}
	}
}

func TestDecodeConacc_SessionBeforeType(t *testing.T) {
	// A CONRJT from a foreign session must classify as ErrSession, not
	// ErrType: session-id match is checked first (spec.md §4.1).
	buf := EncodeConrjt(Conrjt{SessionID: 999})
	_, perr := DecodeConacc(buf, 1)
	require.NotNil(t, perr)
	assert.Equal(t, ErrSession, perr.Kind)
	assert.True(t, perr.HasForeign)
	assert.Equal(t, uint64(999), perr.ForeignSessionID)
}

func TestDecodeConacc_TypeMismatchOwnSession(t *testing.T) {
	// A CONRJT carrying the caller's own session id (spec.md testable
	// scenario 4) passes the session check and fails on type.
	buf := EncodeConrjt(Conrjt{SessionID: 1})
	_, perr := DecodeConacc(buf, 1)
	require.NotNil(t, perr)
	assert.Equal(t, ErrType, perr.Kind)
}

func TestDecodeData_ForeignConnBeforeSession(t *testing.T) {
	buf := EncodeConn(Conn{SessionID: 42, ProtocolID: ProtoUDP, TotalCount: 1})
	_, perr := DecodeData(buf, DataOpts{ExpectedSession: 1, ExpectedPacketNo: 0, CheckForeignConn: true})
	require.NotNil(t, perr)
	assert.Equal(t, ErrConn, perr.Kind)
	assert.Equal(t, uint64(42), perr.ForeignSessionID)
}

func TestDecodeData_PacketCountZeroRejected(t *testing.T) {
	buf := make([]byte, SizeDataHeader)
	buf[0] = TypeDATA
	// session id field left zero, packet_no field left zero, packet_count left zero.
	_, perr := DecodeData(buf, DataOpts{ExpectedSession: 0, ExpectedPacketNo: 0})
	require.NotNil(t, perr)
	assert.Equal(t, ErrPacketCount, perr.Kind)
}

func TestDecodeData_StaleDuplicateIsErrOld(t *testing.T) {
	data := Data{SessionID: 7, PacketNo: 2, PacketCount: 3, Payload: []byte("xyz")}
	buf := EncodeData(data)
	_, perr := DecodeData(buf, DataOpts{ExpectedSession: 7, ExpectedPacketNo: 3, Stale: true})
	require.NotNil(t, perr)
	assert.Equal(t, ErrOld, perr.Kind)
}

func TestDecodeData_NonStaleDuplicateIsErrPacketNo(t *testing.T) {
	data := Data{SessionID: 7, PacketNo: 2, PacketCount: 3, Payload: []byte("xyz")}
	buf := EncodeData(data)
	_, perr := DecodeData(buf, DataOpts{ExpectedSession: 7, ExpectedPacketNo: 3, Stale: false})
	require.NotNil(t, perr)
	assert.Equal(t, ErrPacketNo, perr.Kind)
}

func TestDecodeRjtOrConrjt(t *testing.T) {
	buf := EncodeConrjt(Conrjt{SessionID: 55})
	sess, _, isRjt, ok := DecodeRjtOrConrjt(buf, 55)
	require.True(t, ok)
	assert.False(t, isRjt)
	assert.Equal(t, uint64(55), sess)

	buf2 := EncodeRjt(Rjt{SessionID: 55, PacketNo: 9})
	sess2, packetNo, isRjt2, ok2 := DecodeRjtOrConrjt(buf2, 55)
	require.True(t, ok2)
	assert.True(t, isRjt2)
	assert.Equal(t, uint64(55), sess2)
	assert.Equal(t, uint64(9), packetNo)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrIo, KindOf(assertError{}))
	pe := newErr(ErrTimeout, "boom")
	assert.Equal(t, ErrTimeout, KindOf(pe))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
