// Package core implements the VXI-11 core channel server (C4): the
// DEVICE_CORE RPC program, procedures 10 through 26, plus the
// per-server link bookkeeping (C8) that both it and the async channel
// server need to share.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pigrew/vxi11d/internal/adapter"
	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/internal/vxi11"
)

// Server accepts core-channel connections and dispatches VXI-11 core
// procedures against a configured adapter Router. It also owns the
// cross-connection link bookkeeping the async channel server needs:
// which link ids are currently live, and the cancellation func for
// whatever operation is presently in flight on each one.
type Server struct {
	router      *adapter.Router
	asyncPort   uint32
	maxRecvSize uint32

	nextLID int32 // atomic

	mu          sync.Mutex
	liveLinks   map[vxi11.Link]struct{}
	opCancels   map[vxi11.Link]context.CancelFunc
	onMetric    func(program, procedure string)
	onMetricErr func(code vxi11.ErrorCode)
	onLinkDelta func(delta int)
	onSRQResult func(result string)
}

// NewServer returns a Server that will route create_link device strings
// through router, advertise asyncPort as the abort channel port in every
// create_link reply, and advertise maxRecvSize (floored to
// vxi11.MinMaxRecvSize) in the same reply. maxRecvSize is not enforced
// on incoming device_write data or outgoing device_read data.
func NewServer(router *adapter.Router, asyncPort uint32, maxRecvSize uint32) *Server {
	if maxRecvSize < vxi11.MinMaxRecvSize {
		maxRecvSize = vxi11.MinMaxRecvSize
	}
	return &Server{
		router:      router,
		asyncPort:   asyncPort,
		maxRecvSize: maxRecvSize,
		liveLinks:   make(map[vxi11.Link]struct{}),
		opCancels:   make(map[vxi11.Link]context.CancelFunc),
	}
}

// OnMetric installs hooks the dispatch path invokes for every
// DEVICE_CORE call as it is dispatched (before its handler runs), for
// the VXI-11 results of create_link, device_write, device_read,
// device_readstb, the generic-parms procedures, device_lock,
// device_unlock and device_docmd (the hook receives NO_ERROR too and
// decides what to count), and for every link created or destroyed
// (delta +1/-1); any of the three may be nil. Results of
// device_enable_srq, destroy_link and the interrupt-channel procedures,
// and INVALID_LINK_IDENTIFIER from device_lock/device_unlock, are not
// reported to onError.
func (s *Server) OnMetric(onCall func(program, procedure string), onError func(code vxi11.ErrorCode), onLinkDelta func(delta int)) {
	s.onMetric = onCall
	s.onMetricErr = onError
	s.onLinkDelta = onLinkDelta
}

// OnSRQResult installs a hook invoked after every device_intr_srq
// delivery attempt made by any connection's interrupt executor, with
// "success" or "failure" as result.
func (s *Server) OnSRQResult(fn func(result string)) {
	s.onSRQResult = fn
}

// ListenAndServe accepts connections on addr until ctx is canceled or
// the listener errors.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("core: listen %s: %w", addr, err)
	}
	defer ln.Close()
	logger.Info("core: listening", slog.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Listen binds addr and returns the listener without serving it,
// letting the caller learn the bound port (e.g. when addr ends in
// ":0") before registering it with the portmapper.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("core: listen %s: %w", addr, err)
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
			return fmt.Errorf("core: accept: %w", err)
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) allocLinkID() vxi11.Link {
	return vxi11.Link(atomic.AddInt32(&s.nextLID, 1) - 1)
}

func (s *Server) registerLink(lid vxi11.Link) {
	s.mu.Lock()
	s.liveLinks[lid] = struct{}{}
	s.mu.Unlock()
	if s.onLinkDelta != nil {
		s.onLinkDelta(1)
	}
}

func (s *Server) forgetLink(lid vxi11.Link) {
	s.mu.Lock()
	_, existed := s.liveLinks[lid]
	delete(s.liveLinks, lid)
	delete(s.opCancels, lid)
	s.mu.Unlock()
	if existed && s.onLinkDelta != nil {
		s.onLinkDelta(-1)
	}
}

// withCancel registers a cancellation func for lid for the duration of
// fn, so the async channel's device_abort can reach it.
func (s *Server) withCancel(ctx context.Context, lid vxi11.Link, fn func(context.Context)) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.opCancels[lid] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.opCancels, lid)
		s.mu.Unlock()
	}()

	fn(opCtx)
}

// Abort implements the async channel's device_abort(lid): best-effort
// cancellation of whatever operation is currently in flight on lid, and
// NO_ERROR/INVALID_LINK_IDENTIFIER depending on whether lid is a link
// this server has ever seen created and not yet destroyed.
func (s *Server) Abort(lid vxi11.Link) vxi11.ErrorCode {
	s.mu.Lock()
	_, alive := s.liveLinks[lid]
	cancel := s.opCancels[lid]
	s.mu.Unlock()

	if !alive {
		return vxi11.ErrInvalidLinkIdentifier
	}
	if cancel != nil {
		cancel()
	}
	return vxi11.ErrNoError
}

func (s *Server) recordCall(procedure string) {
	if s.onMetric != nil {
		s.onMetric("core", procedure)
	}
}

func (s *Server) recordError(code vxi11.ErrorCode) {
	if code != vxi11.ErrNoError && s.onMetricErr != nil {
		s.onMetricErr(code)
	}
}
