// Package async implements the VXI-11 async channel server (C5): a
// second TCP listener, separate from the core channel, whose single
// procedure (device_abort) must stay reachable even while a core
// connection is blocked inside a long device_read.
package async

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/internal/rpc"
	"github.com/pigrew/vxi11d/internal/vxi11"
	"github.com/pigrew/vxi11d/internal/xdr"
)

// AbortTarget is the narrow view the async server needs of the core
// server's link bookkeeping. *core.Server satisfies this by structure;
// no import of internal/core is needed here, keeping the two channel
// servers decoupled even though they are separate RPC programs that
// merely happen to share link identity.
type AbortTarget interface {
	Abort(lid vxi11.Link) vxi11.ErrorCode
}

// Server serves DEVICE_ASYNC version 1 on its own listener.
type Server struct {
	target AbortTarget
	table  *rpc.Table
}

// NewServer returns a Server that resolves device_abort against target.
func NewServer(target AbortTarget) *Server {
	s := &Server{target: target}
	s.table = rpc.NewTable()
	s.table.Register(vxi11.ProgAsync, vxi11.VersAsync, vxi11.ProcDeviceAbort, s.handleAbort)
	return s
}

// ListenAndServe accepts connections on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("async: listen %s: %w", addr, err)
	}
	defer ln.Close()
	return s.Serve(ctx, ln)
}

// Listen binds addr and returns the listener without serving it, so
// the caller can learn the bound port before registering it with the
// portmapper.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("async: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on an already-bound listener until ctx is
// canceled or the listener errors.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("async: accept: %w", err)
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	for {
		record, err := rpc.ReadRecord(nc)
		if err != nil {
			logger.DebugCtx(ctx, "async: connection closed", logger.Err(err))
			return
		}
		hdr, args, err := rpc.DecodeCallHeader(record)
		if err != nil {
			logger.WarnCtx(ctx, "async: malformed call header", logger.Err(err))
			return
		}
		reply := s.table.Dispatch(ctx, hdr, args)
		if err := rpc.WriteRecord(nc, reply); err != nil {
			logger.WarnCtx(ctx, "async: write reply", logger.Err(err))
			return
		}
	}
}

func (s *Server) handleAbort(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceLinkParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	errCode := s.target.Abort(p.Lid)
	logger.InfoCtx(ctx, "async: device_abort", logger.LinkID(int32(p.Lid)), logger.ErrorCode(int(errCode)))

	buf := new(bytes.Buffer)
	resp := &vxi11.DeviceError{Error: errCode}
	if err := resp.Encode(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
