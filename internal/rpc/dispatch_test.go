package rpc

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigrew/vxi11d/internal/xdr"
)

func buildCall(xid, prog, vers, proc uint32, args []byte) []byte {
	buf := new(bytes.Buffer)
	_ = xdr.WriteUint32(buf, xid)
	_ = xdr.WriteUint32(buf, MsgTypeCall)
	_ = xdr.WriteUint32(buf, 2)
	_ = xdr.WriteUint32(buf, prog)
	_ = xdr.WriteUint32(buf, vers)
	_ = xdr.WriteUint32(buf, proc)
	_ = xdr.WriteUint32(buf, AuthFlavorNone)
	_ = xdr.WriteXDROpaque(buf, nil)
	_ = xdr.WriteUint32(buf, AuthFlavorNone)
	_ = xdr.WriteXDROpaque(buf, nil)
	buf.Write(args)
	return buf.Bytes()
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	table := NewTable()
	called := false
	table.Register(395183, 1, 10, func(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
		called = true
		return []byte{}, nil
	})

	msg := buildCall(42, 395183, 1, 10, nil)
	h, args, err := DecodeCallHeader(msg)
	require.NoError(t, err)

	reply := table.Dispatch(context.Background(), h, args)
	assert.True(t, called)

	rd := xdr.NewDecoder(reply)
	xid, _ := rd.Uint32()
	msgType, _ := rd.Uint32()
	stat, _ := rd.Uint32()
	assert.Equal(t, uint32(42), xid)
	assert.Equal(t, MsgTypeReply, msgType)
	assert.Equal(t, ReplyStatAccepted, stat)
}

func TestDispatchUnknownProgramIsProgUnavail(t *testing.T) {
	table := NewTable()
	msg := buildCall(1, 999999, 1, 10, nil)
	h, args, err := DecodeCallHeader(msg)
	require.NoError(t, err)

	reply := table.Dispatch(context.Background(), h, args)
	assert.Equal(t, AcceptProgUnavail, acceptStatOf(t, reply))
}

func TestDispatchUnknownProcIsProcUnavail(t *testing.T) {
	table := NewTable()
	table.Register(395183, 1, 10, func(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
		return nil, nil
	})
	msg := buildCall(1, 395183, 1, 999, nil)
	h, args, err := DecodeCallHeader(msg)
	require.NoError(t, err)

	reply := table.Dispatch(context.Background(), h, args)
	assert.Equal(t, AcceptProcUnavail, acceptStatOf(t, reply))
}

func TestDispatchGarbageArgsPropagates(t *testing.T) {
	table := NewTable()
	table.Register(395183, 1, 10, func(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
		return nil, ErrGarbageArgs
	})
	msg := buildCall(1, 395183, 1, 10, nil)
	h, args, err := DecodeCallHeader(msg)
	require.NoError(t, err)

	reply := table.Dispatch(context.Background(), h, args)
	assert.Equal(t, AcceptGarbageArgs, acceptStatOf(t, reply))
}

func TestDispatchEchoesXID(t *testing.T) {
	table := NewTable()
	table.Register(395183, 1, 10, func(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
		return nil, nil
	})
	msg := buildCall(0xCAFEBABE, 395183, 1, 10, nil)
	h, args, err := DecodeCallHeader(msg)
	require.NoError(t, err)

	reply := table.Dispatch(context.Background(), h, args)
	rd := xdr.NewDecoder(reply)
	xid, _ := rd.Uint32()
	assert.Equal(t, uint32(0xCAFEBABE), xid)
}

func acceptStatOf(t *testing.T, reply []byte) uint32 {
	t.Helper()
	rd := xdr.NewDecoder(reply)
	_, _ = rd.Uint32() // xid
	_, _ = rd.Uint32() // msg_type
	_, _ = rd.Uint32() // reply_stat
	_, _ = rd.Uint32() // verf flavor
	_, err := rd.Opaque(400)
	require.NoError(t, err)
	stat, err := rd.Uint32()
	require.NoError(t, err)
	return stat
}
