// Package vxi11server wires the protocol engine's pieces (core channel,
// async channel, interrupt executors, portmapper glue, and configured
// instrument adapters) into one runnable server.
package vxi11server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/pigrew/vxi11d/internal/adapter"
	"github.com/pigrew/vxi11d/internal/async"
	"github.com/pigrew/vxi11d/internal/core"
	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/internal/metrics"
	"github.com/pigrew/vxi11d/internal/portmap"
	"github.com/pigrew/vxi11d/internal/vxi11"
	"github.com/pigrew/vxi11d/pkg/adapters/timeofday"
	"github.com/pigrew/vxi11d/pkg/adapters/usbtmc"
	"github.com/pigrew/vxi11d/pkg/config"
)

// ErrListen and ErrPortmap let callers (the CLI's exit-code mapping)
// classify a Run failure with errors.Is without this package knowing
// about process exit codes.
var (
	ErrListen  = fmt.Errorf("listener bind failed")
	ErrPortmap = fmt.Errorf("portmapper registration failed")
)

// unixRPCBindSocket is the conventional path a system rpcbind listens
// on; checked before falling back to loopback TCP 111.
const unixRPCBindSocket = "/var/run/rpcbind.sock"

const rpcbindTCPAddr = "127.0.0.1:111"

// Server owns every listener this process opens.
type Server struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	core  *core.Server
	async *async.Server

	pmapReg *portmap.Registry
	pmapSrv *portmap.Server

	metricsHTTP *http.Server

	closers []closer
}

// closer is implemented by adapters that own OS resources (USB handles,
// file descriptors) needing an explicit teardown on shutdown.
type closer interface {
	Close()
}

// New builds a Server from cfg, constructing one adapter instance per
// cfg.Adapters entry and routing create_link device strings against
// them.
func New(cfg *config.Config) (*Server, error) {
	entries := make([]adapter.Entry, 0, len(cfg.Adapters))
	var closers []closer
	for _, ac := range cfg.Adapters {
		a, err := buildAdapter(ac)
		if err != nil {
			return nil, fmt.Errorf("vxi11server: adapter %q: %w", ac.Name, err)
		}
		entries = append(entries, adapter.Entry{Device: ac.Device, Adapter: a})
		if c, ok := a.(closer); ok {
			closers = append(closers, c)
		}
	}
	router := adapter.NewRouter(entries)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	coreSrv := core.NewServer(router, 0, uint32(cfg.Server.MaxRecordSize))
	asyncSrv := async.NewServer(coreSrv)

	if m != nil {
		coreSrv.OnMetric(
			func(program, procedure string) { m.RPCCalls.WithLabelValues(program, procedure).Inc() },
			func(code vxi11.ErrorCode) { m.RPCErrors.WithLabelValues(code.String()).Inc() },
			func(delta int) { m.ActiveLinks.Add(float64(delta)) },
		)
		coreSrv.OnSRQResult(func(result string) { m.SRQDelivered.WithLabelValues(result).Inc() })
	}

	return &Server{
		cfg:     cfg,
		metrics: m,
		core:    coreSrv,
		async:   asyncSrv,
		pmapReg: portmap.NewRegistry(),
		closers: closers,
	}, nil
}

// buildAdapter constructs one configured adapter by type. usbtmc
// instruments are wired in pkg/adapters/usbtmc; the time-of-day
// reference adapter needs no Params.
func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Type {
	case "timeofday":
		return timeofday.NewAdapter(ac.Name), nil
	case "usbtmc":
		return usbtmc.NewAdapter(ac)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

// Run starts every listener and blocks until ctx is canceled, then
// shuts everything down. Returns the first fatal startup error, if any.
func (s *Server) Run(ctx context.Context) error {
	coreLn, err := s.core.Listen(s.cfg.Server.CoreAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	asyncLn, err := s.async.Listen(s.cfg.Server.AsyncAddr)
	if err != nil {
		coreLn.Close()
		return fmt.Errorf("%w: %v", ErrListen, err)
	}

	corePort := listenerPort(coreLn)
	asyncPort := listenerPort(asyncLn)

	if err := s.setupPortmap(ctx, corePort, asyncPort); err != nil {
		coreLn.Close()
		asyncLn.Close()
		return fmt.Errorf("%w: %v", ErrPortmap, err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("vxi11server: core channel listening", logger.StatusMsg(coreLn.Addr().String()))
		if err := s.core.Serve(ctx, coreLn); err != nil {
			errCh <- fmt.Errorf("core: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("vxi11server: async channel listening", logger.StatusMsg(asyncLn.Addr().String()))
		if err := s.async.Serve(ctx, asyncLn); err != nil {
			errCh <- fmt.Errorf("async: %w", err)
		}
	}()

	if s.pmapSrv != nil {
		pmapLn, err := net.Listen("tcp", s.cfg.Portmap.BuiltinAddr)
		if err != nil {
			return fmt.Errorf("vxi11server: built-in portmapper: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.pmapSrv.ListenAndServeOn(ctx, pmapLn); err != nil {
				errCh <- fmt.Errorf("portmap: %w", err)
			}
		}()
	}

	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.metricsHTTP = &http.Server{Addr: s.cfg.Metrics.Addr, Handler: s.metrics.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("vxi11server: metrics listening", logger.StatusMsg(s.cfg.Metrics.Addr))
			if err := s.metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = s.metricsHTTP.Close()
		}()
	}

	wg.Wait()
	for _, c := range s.closers {
		c.Close()
	}
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func listenerPort(ln net.Listener) uint32 {
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		return uint32(tcpAddr.Port)
	}
	return 0
}

// setupPortmap registers the core and async programs per
// cfg.Portmap.Mode, starting the in-process responder when needed.
func (s *Server) setupPortmap(ctx context.Context, corePort, asyncPort uint32) error {
	mappings := []portmap.Mapping{
		{Prog: vxi11.ProgCore, Vers: vxi11.VersCore, Prot: portmap.IPProtoTCP, Port: corePort},
		{Prog: vxi11.ProgAsync, Vers: vxi11.VersAsync, Prot: portmap.IPProtoTCP, Port: asyncPort},
	}

	switch s.cfg.Portmap.Mode {
	case config.PortmapDisabled:
		logger.Info("vxi11server: portmap registration disabled")
		return nil

	case config.PortmapBuiltin:
		s.pmapSrv = portmap.NewServer(s.pmapReg)
		for _, m := range mappings {
			s.pmapReg.Set(m)
		}
		return nil

	case config.PortmapRPCBind:
		for _, m := range mappings {
			if !portmap.RegisterExternal(ctx, unixRPCBindSocket, rpcbindTCPAddr, m) {
				return fmt.Errorf("vxi11server: rpcbind registration failed for program %d", m.Prog)
			}
		}
		return nil

	default: // auto
		externalOK := true
		for _, m := range mappings {
			if !portmap.RegisterExternal(ctx, unixRPCBindSocket, rpcbindTCPAddr, m) {
				externalOK = false
				break
			}
		}
		if externalOK {
			logger.Info("vxi11server: registered with system portmapper")
			return nil
		}
		logger.Info("vxi11server: no system portmapper found, starting built-in responder")
		s.pmapSrv = portmap.NewServer(s.pmapReg)
		for _, m := range mappings {
			s.pmapReg.Set(m)
		}
		return nil
	}
}
