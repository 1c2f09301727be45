package core

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/pigrew/vxi11d/internal/adapter"
	"github.com/pigrew/vxi11d/internal/intr"
	"github.com/pigrew/vxi11d/internal/logger"
	"github.com/pigrew/vxi11d/internal/rpc"
	"github.com/pigrew/vxi11d/internal/vxi11"
	"github.com/pigrew/vxi11d/internal/xdr"
)

// Conn is one core-channel TCP connection: its own link table (C8,
// scoped per-connection) plus at most one interrupt back-channel
// executor.
type Conn struct {
	server *Server
	nc     net.Conn

	mu    sync.Mutex
	links map[vxi11.Link]adapter.Link

	intrMu sync.Mutex
	intr   *intr.Executor
}

// SendSRQ implements adapter.SRQSender, forwarding to this connection's
// interrupt executor if create_intr_chan has established one.
func (c *Conn) SendSRQ(handle []byte) {
	c.intrMu.Lock()
	e := c.intr
	c.intrMu.Unlock()
	if e != nil {
		e.Send(handle)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	c := &Conn{server: s, nc: nc, links: make(map[vxi11.Link]adapter.Link)}
	lc := logger.NewLogContext(nc.RemoteAddr().String())
	lc = lc.WithTrace(uuid.NewString(), "")
	ctx = logger.WithContext(ctx, lc)
	logger.InfoCtx(ctx, "core: connection accepted")

	table := c.buildTable()

	defer c.teardown(ctx)

	for {
		record, err := rpc.ReadRecord(nc)
		if err != nil {
			logger.DebugCtx(ctx, "core: connection closed", logger.Err(err))
			return
		}

		hdr, args, err := rpc.DecodeCallHeader(record)
		if err != nil {
			logger.WarnCtx(ctx, "core: malformed call header", logger.Err(err))
			return
		}

		reply := table.Dispatch(ctx, hdr, args)
		if err := rpc.WriteRecord(nc, reply); err != nil {
			logger.WarnCtx(ctx, "core: write reply", logger.Err(err))
			return
		}
	}
}

// teardown destroys every link this connection still owns (covers both
// explicit disconnect and a client that never called destroy_link) and
// stops any interrupt executor it opened.
func (c *Conn) teardown(ctx context.Context) {
	c.mu.Lock()
	links := c.links
	c.links = nil
	c.mu.Unlock()

	for lid, link := range links {
		link.Destroy()
		c.server.forgetLink(lid)
	}

	c.intrMu.Lock()
	e := c.intr
	c.intr = nil
	c.intrMu.Unlock()
	if e != nil {
		e.Stop()
	}
	logger.InfoCtx(ctx, "core: connection closed")
}

func (c *Conn) getLink(lid vxi11.Link) (adapter.Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[lid]
	return l, ok
}

// withRecover runs fn and converts any panic it raises into IO_ERROR,
// so a misbehaving adapter cannot take down the connection or the
// process. fn reports the VXI-11 error it would otherwise have
// returned via errOut.
func withRecover(ctx context.Context, procedure string, errOut *vxi11.ErrorCode, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "core: adapter panic recovered",
				logger.Procedure(procedure), logger.StatusMsg(fmt.Sprint(r)))
			*errOut = vxi11.ErrIOError
		}
	}()
	fn()
}

func (c *Conn) buildTable() *rpc.Table {
	t := rpc.NewTable()

	reg := func(proc uint32, name string, h rpc.Handler) {
		t.Register(vxi11.ProgCore, vxi11.VersCore, proc, func(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
			c.server.recordCall(name)
			return h(ctx, args)
		})
	}

	reg(vxi11.ProcCreateLink, "create_link", c.handleCreateLink)
	reg(vxi11.ProcDeviceWrite, "device_write", c.handleDeviceWrite)
	reg(vxi11.ProcDeviceRead, "device_read", c.handleDeviceRead)
	reg(vxi11.ProcDeviceReadStb, "device_readstb", c.handleDeviceReadStb)
	reg(vxi11.ProcDeviceTrigger, "device_trigger", c.genericHandler(func(l adapter.Link, ctx context.Context, flags vxi11.DeviceFlags, lt, iot uint32) vxi11.ErrorCode {
		return l.Trigger(ctx, flags, lt, iot)
	}))
	reg(vxi11.ProcDeviceClear, "device_clear", c.genericHandler(func(l adapter.Link, ctx context.Context, flags vxi11.DeviceFlags, lt, iot uint32) vxi11.ErrorCode {
		return l.Clear(ctx, flags, lt, iot)
	}))
	reg(vxi11.ProcDeviceRemote, "device_remote", c.genericHandler(func(l adapter.Link, ctx context.Context, flags vxi11.DeviceFlags, lt, iot uint32) vxi11.ErrorCode {
		return l.Remote(ctx, flags, lt, iot)
	}))
	reg(vxi11.ProcDeviceLocal, "device_local", c.genericHandler(func(l adapter.Link, ctx context.Context, flags vxi11.DeviceFlags, lt, iot uint32) vxi11.ErrorCode {
		return l.Local(ctx, flags, lt, iot)
	}))
	reg(vxi11.ProcDeviceLock, "device_lock", c.handleDeviceLock)
	reg(vxi11.ProcDeviceUnlock, "device_unlock", c.handleDeviceUnlock)
	reg(vxi11.ProcDeviceEnableSrq, "device_enable_srq", c.handleEnableSrq)
	reg(vxi11.ProcDeviceDocmd, "device_docmd", c.handleDocmd)
	reg(vxi11.ProcDestroyLink, "destroy_link", c.handleDestroyLink)
	reg(vxi11.ProcCreateIntrChan, "create_intr_chan", c.handleCreateIntrChan)
	reg(vxi11.ProcDestroyIntrChan, "destroy_intr_chan", c.handleDestroyIntrChan)

	return t
}

func (c *Conn) handleCreateLink(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.CreateLinkParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	resp := &vxi11.CreateLinkResp{MaxRecvSize: c.server.maxRecvSize, AbortPort: c.server.asyncPort}

	a, ok := c.server.router.Resolve(p.Device)
	if !ok {
		resp.Error = vxi11.ErrInvalidAddress
		c.server.recordError(resp.Error)
		return encode(resp)
	}

	lid := c.server.allocLinkID()
	var errCode vxi11.ErrorCode
	var link adapter.Link
	withRecover(ctx, "create_link", &errCode, func() {
		errCode, link = a.CreateLink(ctx, p.ClientID, p.LockDevice, p.LockTimeout, p.Device, lid, c)
	})

	if errCode != vxi11.ErrNoError {
		// A link is never stored when the adapter rejects it.
		resp.Error = errCode
		c.server.recordError(errCode)
		return encode(resp)
	}

	c.mu.Lock()
	c.links[lid] = link
	c.mu.Unlock()
	c.server.registerLink(lid)

	resp.Error = vxi11.ErrNoError
	resp.Lid = lid
	logger.InfoCtx(ctx, "core: link created", logger.LinkID(int32(lid)), logger.Device(p.Device), logger.Adapter(a.Name()))
	return encode(resp)
}

func (c *Conn) handleDeviceWrite(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceWriteParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		c.server.recordError(vxi11.ErrInvalidLinkIdentifier)
		return encode(&vxi11.DeviceWriteResp{Error: vxi11.ErrInvalidLinkIdentifier})
	}

	var errCode vxi11.ErrorCode
	var size uint32
	c.server.withCancel(ctx, p.Lid, func(opCtx context.Context) {
		withRecover(opCtx, "device_write", &errCode, func() {
			errCode, size = link.Write(opCtx, p.IOTimeout, p.LockTimeout, p.Flags, p.Data)
		})
	})
	c.server.recordError(errCode)
	return encode(&vxi11.DeviceWriteResp{Error: errCode, Size: size})
}

func (c *Conn) handleDeviceRead(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceReadParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		c.server.recordError(vxi11.ErrInvalidLinkIdentifier)
		return encode(&vxi11.DeviceReadResp{Error: vxi11.ErrInvalidLinkIdentifier})
	}

	var errCode vxi11.ErrorCode
	var reason vxi11.ReadReason
	var data []byte
	c.server.withCancel(ctx, p.Lid, func(opCtx context.Context) {
		withRecover(opCtx, "device_read", &errCode, func() {
			errCode, reason, data = link.Read(opCtx, p.RequestSize, p.IOTimeout, p.LockTimeout, p.Flags, p.TermChar)
		})
		if errCode == vxi11.ErrNoError && opCtx.Err() == context.Canceled {
			errCode, reason, data = vxi11.ErrAbort, 0, nil
		}
	})
	c.server.recordError(errCode)
	return encode(&vxi11.DeviceReadResp{Error: errCode, Reason: reason, Data: data})
}

func (c *Conn) handleDeviceReadStb(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceGenericParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		c.server.recordError(vxi11.ErrInvalidLinkIdentifier)
		return encode(&vxi11.DeviceReadStbResp{Error: vxi11.ErrInvalidLinkIdentifier})
	}

	var errCode vxi11.ErrorCode
	var stb byte
	withRecover(ctx, "device_readstb", &errCode, func() {
		errCode, stb = link.ReadStb(ctx, p.Flags, p.LockTimeout, p.IOTimeout)
	})
	c.server.recordError(errCode)
	return encode(&vxi11.DeviceReadStbResp{Error: errCode, Stb: stb})
}

// genericHandler builds a proc handler for the four link-control
// procedures (trigger, clear, remote, local) that share
// DeviceGenericParms and a bare DeviceError result.
func (c *Conn) genericHandler(call func(l adapter.Link, ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode) rpc.Handler {
	return func(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
		var p vxi11.DeviceGenericParms
		if err := p.Decode(args); err != nil {
			return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
		}

		link, ok := c.getLink(p.Lid)
		if !ok {
			c.server.recordError(vxi11.ErrInvalidLinkIdentifier)
			return encode(&vxi11.DeviceError{Error: vxi11.ErrInvalidLinkIdentifier})
		}

		var errCode vxi11.ErrorCode
		withRecover(ctx, "device_control", &errCode, func() {
			errCode = call(link, ctx, p.Flags, p.LockTimeout, p.IOTimeout)
		})
		c.server.recordError(errCode)
		return encode(&vxi11.DeviceError{Error: errCode})
	}
}

func (c *Conn) handleDeviceLock(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceLockParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrInvalidLinkIdentifier})
	}
	errCode := link.DeviceLock(p.Flags, p.LockTimeout)
	c.server.recordError(errCode)
	return encode(&vxi11.DeviceError{Error: errCode})
}

func (c *Conn) handleDeviceUnlock(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceLinkParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrInvalidLinkIdentifier})
	}
	errCode := link.DeviceUnlock()
	c.server.recordError(errCode)
	return encode(&vxi11.DeviceError{Error: errCode})
}

func (c *Conn) handleEnableSrq(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceEnableSrqParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrInvalidLinkIdentifier})
	}
	if p.Enable {
		link.SetSRQHandle(p.Handle)
	} else {
		link.SetSRQHandle(nil)
	}
	return encode(&vxi11.DeviceError{Error: vxi11.ErrNoError})
}

func (c *Conn) handleDocmd(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceDocmdParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	link, ok := c.getLink(p.Lid)
	if !ok {
		c.server.recordError(vxi11.ErrInvalidLinkIdentifier)
		return encode(&vxi11.DeviceDocmdResp{Error: vxi11.ErrInvalidLinkIdentifier})
	}

	var errCode vxi11.ErrorCode
	var dataOut []byte
	withRecover(ctx, "device_docmd", &errCode, func() {
		errCode, dataOut = link.Docmd(ctx, p.Flags, p.IOTimeout, p.LockTimeout, p.Cmd, p.NetworkOrder, p.DataSize, p.DataIn)
	})
	c.server.recordError(errCode)
	return encode(&vxi11.DeviceDocmdResp{Error: errCode, DataOut: dataOut})
}

func (c *Conn) handleDestroyLink(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceLinkParms
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	c.mu.Lock()
	link, ok := c.links[p.Lid]
	if ok {
		delete(c.links, p.Lid)
	}
	c.mu.Unlock()

	if !ok {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrInvalidLinkIdentifier})
	}

	// Removed from the table before destroying it: a concurrent call
	// racing in sees INVALID_LINK_IDENTIFIER rather than the link's
	// normal behavior mid-teardown.
	c.server.forgetLink(p.Lid)
	errCode := link.Destroy()
	logger.InfoCtx(ctx, "core: link destroyed", logger.LinkID(int32(p.Lid)))
	return encode(&vxi11.DeviceError{Error: errCode})
}

func (c *Conn) handleCreateIntrChan(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	var p vxi11.DeviceRemoteFunc
	if err := p.Decode(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
	}

	if p.ProgNum != vxi11.ProgIntr || p.ProgVers != vxi11.VersIntr || p.ProgFam != vxi11.DeviceTCP {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrParameterError})
	}

	c.intrMu.Lock()
	defer c.intrMu.Unlock()
	if c.intr != nil {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrChannelAlreadyEstablished})
	}

	addr := fmt.Sprintf("%s:%d", vxi11.HostAddrToDottedQuad(p.HostAddr), p.HostPort)
	c.intr = intr.New(addr)
	if c.server.onSRQResult != nil {
		c.intr.OnResult(c.server.onSRQResult)
	}
	logger.InfoCtx(ctx, "core: interrupt channel established", logger.StatusMsg(addr))
	return encode(&vxi11.DeviceError{Error: vxi11.ErrNoError})
}

func (c *Conn) handleDestroyIntrChan(ctx context.Context, args *xdr.Decoder) ([]byte, error) {
	c.intrMu.Lock()
	e := c.intr
	c.intr = nil
	c.intrMu.Unlock()

	if e == nil {
		return encode(&vxi11.DeviceError{Error: vxi11.ErrChannelNotEstablished})
	}
	e.Stop()
	return encode(&vxi11.DeviceError{Error: vxi11.ErrNoError})
}

type encoder interface {
	Encode(buf *bytes.Buffer) error
}

func encode(v encoder) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := v.Encode(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
