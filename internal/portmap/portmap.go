// Package portmap implements the portmapper glue (C9): a minimal RFC
// 1833 PMAP_PROG server for environments with no rpcbind, and a client
// used to register (or look up) the VXI-11 programs against whatever
// portmapper is actually available.
package portmap

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/internal/rpc"
	"github.com/pigrew/vxi11d/internal/xdr"
)

// Program and procedure numbers (RFC 1833 §3, the original portmap
// protocol rather than rpcbind's v3/v4 successors — VXI-11 stacks in
// the wild still speak v2).
const (
	Prog uint32 = 100000
	Vers uint32 = 2

	ProcNull    uint32 = 0
	ProcSet     uint32 = 1
	ProcUnset   uint32 = 2
	ProcGetPort uint32 = 3
)

// IPProtoTCP is the only transport this server ever registers under;
// portmapper itself is spoken over TCP only (§6), but the mapping value
// still names the transport of the *mapped* service.
const IPProtoTCP uint32 = 6

// Mapping is one (prog,vers,proto) -> port entry, the PMAP protocol's
// wire tuple.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

func (m *Mapping) Decode(d *xdr.Decoder) error {
	var err error
	if m.Prog, err = d.Uint32(); err != nil {
		return err
	}
	if m.Vers, err = d.Uint32(); err != nil {
		return err
	}
	if m.Prot, err = d.Uint32(); err != nil {
		return err
	}
	if m.Port, err = d.Uint32(); err != nil {
		return err
	}
	return nil
}

func (m *Mapping) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, m.Prog); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, m.Vers); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, m.Prot); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, m.Port)
}

type key struct {
	prog, vers, prot uint32
}

// Registry is the in-memory (prog,vers,proto) -> port table the
// built-in server answers from. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]uint32
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]uint32)}
}

// Set records a mapping, overwriting any existing entry for the same
// (prog,vers,proto).
func (r *Registry) Set(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{m.Prog, m.Vers, m.Prot}] = m.Port
}

// Unset removes a mapping, if present.
func (r *Registry) Unset(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key{m.Prog, m.Vers, m.Prot})
}

// GetPort returns the registered port, or 0 if unregistered — the RFC
// 1833 convention for "not registered", never an RPC-level error.
func (r *Registry) GetPort(m Mapping) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[key{m.Prog, m.Vers, m.Prot}]
}

// Server answers PMAP_PROG v2 GETPORT/SET/UNSET against a Registry.
type Server struct {
	reg   *Registry
	table *rpc.Table
}

// NewServer returns a Server backed by reg.
func NewServer(reg *Registry) *Server {
	s := &Server{reg: reg}
	s.table = rpc.NewTable()
	s.table.Register(Prog, Vers, ProcNull, s.handleNull)
	s.table.Register(Prog, Vers, ProcGetPort, s.handleGetPort)
	s.table.Register(Prog, Vers, ProcSet, s.handleSet)
	s.table.Register(Prog, Vers, ProcUnset, s.handleUnset)
	return s
}

// ListenAndServe accepts connections on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("portmap: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("portmap: built-in server listening", logger.StatusMsg(addr))
	return s.ListenAndServeOn(ctx, ln)
}

// ListenAndServeOn serves on an already-bound listener until ctx is
// canceled, for callers (vxi11server) that bind the port themselves so
// they can log or reuse it before the accept loop starts.
func (s *Server) ListenAndServeOn(ctx context.Context, ln net.Listener) error {
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
			return fmt.Errorf("portmap: accept: %w", err)
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	for {
		record, err := rpc.ReadRecord(nc)
		if err != nil {
			return
		}
		hdr, args, err := rpc.DecodeCallHeader(record)
		if err != nil {
			return
		}
		reply := s.table.Dispatch(ctx, hdr, args)
		if err := rpc.WriteRecord(nc, reply); err != nil {
			return
		}
	}
}

func (s *Server) handleNull(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	return nil, nil
}

func (s *Server) handleGetPort(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var m Mapping
	if err := m.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}
	port := s.reg.GetPort(m)
	buf := new(bytes.Buffer)
	if err := xdr.WriteUint32(buf, port); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleSet(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var m Mapping
	if err := m.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}
	s.reg.Set(m)
	return encodeBool(true), nil
}

func (s *Server) handleUnset(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var m Mapping
	if err := m.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}
	s.reg.Unset(m)
	return encodeBool(true), nil
}

func encodeBool(v bool) []byte {
	buf := new(bytes.Buffer)
	_ = xdr.WriteBool(buf, v)
	return buf.Bytes()
}

// RegisterAll registers both the core and async VXI-11 programs against
// whatever portmapper responds first, per the preference order in the
// design notes: a UNIX socket at unixSockPath, then TCP to
// tcpAddr, then fall back to setting the mapping in reg directly.
func RegisterAll(ctx context.Context, unixSockPath, tcpAddr string, mappings []Mapping, reg *Registry) {
	for _, m := range mappings {
		if registerViaUnixSocket(ctx, unixSockPath, m) {
			continue
		}
		if registerViaTCP(ctx, tcpAddr, m) {
			continue
		}
		reg.Set(m)
		logger.Info("portmap: registered via built-in fallback",
			logger.Program(m.Prog), logger.Version(m.Vers))
	}
}

// RegisterExternal attempts to register m with a real, separately
// running portmapper (unix socket first, then loopback TCP) and
// reports whether either attempt succeeded. It never falls back to an
// in-process registry, unlike RegisterAll; callers that must fail hard
// when no external portmapper is reachable (Portmap.Mode=rpcbind) use
// this instead.
func RegisterExternal(ctx context.Context, unixSockPath, tcpAddr string, m Mapping) bool {
	if registerViaUnixSocket(ctx, unixSockPath, m) {
		return true
	}
	return registerViaTCP(ctx, tcpAddr, m)
}

func registerViaUnixSocket(ctx context.Context, path string, m Mapping) bool {
	if path == "" {
		return false
	}
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	defer conn.Close()
	return setMapping(conn, m)
}

func registerViaTCP(ctx context.Context, addr string, m Mapping) bool {
	dialer := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	defer conn.Close()
	return setMapping(conn, m)
}

func setMapping(conn net.Conn, m Mapping) bool {
	buf := new(bytes.Buffer)
	if err := m.Encode(buf); err != nil {
		return false
	}
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	msg := rpc.EncodeCallMessage(1, Prog, Vers, ProcSet, buf.Bytes())
	if err := rpc.WriteRecord(conn, msg); err != nil {
		return false
	}
	reply, err := rpc.ReadRecord(conn)
	if err != nil {
		return false
	}
	d := xdr.NewDecoder(reply)
	for i := 0; i < 4; i++ {
		if _, err := d.Uint32(); err != nil {
			return false
		}
	}
	if _, err := d.Opaque(400); err != nil {
		return false
	}
	acceptStat, err := d.Uint32()
	if err != nil || acceptStat != rpc.AcceptSuccess {
		return false
	}
	ok, err := d.Bool()
	return err == nil && ok
}
