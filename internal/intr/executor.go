// Package intr implements the interrupt back-channel executor (C6): an
// RPC client, not a server, that delivers device_intr_srq notifications
// to whatever endpoint a VXI-11 client advertised via create_intr_chan.
//
// A bounded queue absorbs SRQ bursts without blocking the adapter
// thread that raised them, and a single worker goroutine drains it,
// dialing a fresh outbound connection for each delivery; no connection
// is opened by New and none is held between deliveries.
package intr

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/internal/rpc"
	"github.com/pigrew/vxi11d/internal/vxi11"
)

// queueDepth bounds how many pending SRQs an executor absorbs before it
// starts dropping new ones; a slow or wedged client should not be able to
// back-pressure the instrument side indefinitely.
const queueDepth = 32

// callTimeout bounds how long a single device_intr_srq delivery attempt
// may take before it is considered failed.
const callTimeout = 5 * time.Second

// Executor delivers device_intr_srq calls to one client-supplied
// endpoint. At most one exists per Conn at a time.
type Executor struct {
	addr string

	queue    chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	xidMu   sync.Mutex
	nextXID uint32

	// onResult, if set, is invoked after every delivery attempt with
	// "success" or "failure" — the interrupt executor's hook into the
	// metrics bundle. Read-only after New returns.
	onResult func(result string)
}

// New starts an Executor that delivers to addr (host:port), dialing a
// new connection for each queued SRQ.
func New(addr string) *Executor {
	e := &Executor{
		addr:  addr,
		queue: make(chan []byte, queueDepth),
		done:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// OnResult installs a callback invoked after every SRQ delivery attempt
// with "success" or "failure". Intended for wiring internal/metrics'
// vxi11_srq_deliveries_total counter without giving this package a
// direct prometheus dependency.
func (e *Executor) OnResult(fn func(result string)) {
	e.onResult = fn
}

// Send enqueues an SRQ delivery for handle, dropping it silently if the
// queue is full — a burst of SRQs from a fast instrument must never block
// the link that raised them.
func (e *Executor) Send(handle []byte) {
	select {
	case e.queue <- handle:
	default:
		logger.Warn("intr: SRQ queue full, dropping notification", logger.HexBytes("handle", handle))
	}
}

// Stop closes the executor and waits for its worker to exit. Any SRQs
// still queued at that point are dropped. Safe to call more than once.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case handle := <-e.queue:
			e.deliver(handle)
		case <-e.done:
			return
		}
	}
}

func (e *Executor) deliver(handle []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	args := vxi11.DeviceSrqParms{Handle: handle}
	buf := new(bytes.Buffer)
	if err := args.Encode(buf); err != nil {
		logger.Error("intr: encode device_intr_srq args", logger.Err(err))
		return
	}

	xid := e.allocXID()
	err := rpc.CallFireAndForget(ctx, e.addr, xid, vxi11.ProgIntr, vxi11.VersIntr, vxi11.ProcDeviceIntrSrq, buf.Bytes(), callTimeout)
	if e.onResult != nil {
		if err != nil {
			e.onResult("failure")
		} else {
			e.onResult("success")
		}
	}
	if err != nil {
		logger.Warn("intr: SRQ delivery failed, tearing down executor", logger.Err(err))
		// A failed delivery means the client's RPC listener is gone;
		// stop trying rather than spin on reconnect attempts. Run
		// asynchronously: Stop waits on this worker goroutine to exit,
		// so it cannot be called from inside the worker itself.
		go e.Stop()
	}
}

func (e *Executor) allocXID() uint32 {
	e.xidMu.Lock()
	defer e.xidMu.Unlock()
	e.nextXID++
	return e.nextXID
}
