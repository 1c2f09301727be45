package async

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigrew/vxi11d/internal/rpc"
	"github.com/pigrew/vxi11d/internal/vxi11"
	"github.com/pigrew/vxi11d/internal/xdr"
)

type fakeTarget struct {
	lastLid vxi11.Link
	result  vxi11.ErrorCode
}

func (f *fakeTarget) Abort(lid vxi11.Link) vxi11.ErrorCode {
	f.lastLid = lid
	return f.result
}

func startAsyncServer(t *testing.T, target AbortTarget) string {
	t.Helper()
	srv := NewServer(target)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(ctx, nc)
		}
	}()
	return addr
}

func TestDeviceAbortDelegatesToTarget(t *testing.T) {
	ft := &fakeTarget{result: vxi11.ErrNoError}
	addr := startAsyncServer(t, ft)

	args := new(bytes.Buffer)
	require.NoError(t, xdr.WriteInt32(args, 7))

	reply, err := rpc.Call(context.Background(), addr, 1, vxi11.ProgAsync, vxi11.VersAsync, vxi11.ProcDeviceAbort, args.Bytes(), 2*time.Second)
	require.NoError(t, err)

	d := xdr.NewDecoder(reply)
	_, _ = d.Uint32() // xid
	_, _ = d.Uint32() // msg_type
	_, _ = d.Uint32() // reply_stat
	_, _ = d.Uint32() // verf flavor
	_, _ = d.Opaque(400)
	acceptStat, _ := d.Uint32()
	require.Equal(t, rpc.AcceptSuccess, acceptStat)
	errCode, _ := d.Int32()

	assert.Equal(t, vxi11.Link(7), ft.lastLid)
	assert.Equal(t, int32(vxi11.ErrNoError), errCode)
}

func TestDeviceAbortUnknownLink(t *testing.T) {
	ft := &fakeTarget{result: vxi11.ErrInvalidLinkIdentifier}
	addr := startAsyncServer(t, ft)

	args := new(bytes.Buffer)
	require.NoError(t, xdr.WriteInt32(args, 99))
	reply, err := rpc.Call(context.Background(), addr, 2, vxi11.ProgAsync, vxi11.VersAsync, vxi11.ProcDeviceAbort, args.Bytes(), 2*time.Second)
	require.NoError(t, err)

	d := xdr.NewDecoder(reply)
	for i := 0; i < 4; i++ {
		_, _ = d.Uint32()
	}
	_, _ = d.Opaque(400)
	_, _ = d.Uint32() // accept_stat
	errCode, _ := d.Int32()
	assert.Equal(t, int32(vxi11.ErrInvalidLinkIdentifier), errCode)
}
