// Package usbtmc bridges a real USBTMC-class instrument to the VXI-11
// protocol engine over raw USB bulk and control transfers. Every
// blocking USB transfer for a given device runs on one dedicated
// worker goroutine: USBTMC bulk transfers are not meant to be issued
// concurrently against one endpoint pair.
package usbtmc

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/pigrew/vxi11d/internal/adapter"
	"github.com/pigrew/vxi11d/internal/vxi11"
	"github.com/pigrew/vxi11d/pkg/config"
)

// USBTMC bulk message IDs (USBTMC USB488 spec, table 1).
const (
	msgDevDepMsgOut        = 1
	msgRequestDevDepMsgIn  = 2
	msgDevDepMsgIn         = 2
	bulkOutHeaderSize      = 12
	bulkInRequestHeaderLen = 12

	reqInitiateClear    = 5
	reqCheckClearStatus = 6
	reqReadStatusByte   = 128

	usbtmcStatusSuccess = 0x01
)

// controlIn is the bRequestType for USBTMC class-specific,
// device-to-host, interface-targeted control transfers.
const controlIn = 0xA1

// Adapter fronts one USBTMC device opened by VID:PID, serializing all
// transfers through a single worker goroutine.
type Adapter struct {
	name string
	base *adapter.BaseAdapter

	ctx    *gousb.Context
	device *gousb.Device
	usbCfg *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	jobs chan func()

	tagMu sync.Mutex
	tag   byte
}

// NewAdapter opens the USB device named by ac.Params["vid"] and
// ["pid"] (hex strings like "0x1ab1") and starts its worker goroutine.
func NewAdapter(ac config.AdapterConfig) (*Adapter, error) {
	vid, err := paramUint16(ac.Params, "vid")
	if err != nil {
		return nil, err
	}
	pid, err := paramUint16(ac.Params, "pid")
	if err != nil {
		return nil, err
	}

	ctx := gousb.NewContext()
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtmc: open %04x:%04x: %w", vid, pid, err)
	}
	if device == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtmc: device %04x:%04x not found", vid, pid)
	}
	_ = device.SetAutoDetach(true)

	usbCfg, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtmc: set config: %w", err)
	}
	intf, err := usbCfg.Interface(0, 0)
	if err != nil {
		usbCfg.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtmc: claim interface: %w", err)
	}
	epOut, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		usbCfg.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtmc: out endpoint: %w", err)
	}
	epIn, err := intf.InEndpoint(1 | 0x80)
	if err != nil {
		intf.Close()
		usbCfg.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtmc: in endpoint: %w", err)
	}

	a := &Adapter{
		name:   ac.Name,
		base:   adapter.NewBaseAdapter(),
		ctx:    ctx,
		device: device,
		usbCfg: usbCfg,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
		jobs:   make(chan func(), 8),
		tag:    1,
	}
	go a.run()
	return a, nil
}

func paramUint16(params map[string]interface{}, key string) (uint16, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("usbtmc: missing param %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("usbtmc: param %q must be a string", key)
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("usbtmc: param %q: %w", key, err)
	}
	return uint16(n), nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) run() {
	for job := range a.jobs {
		job()
	}
}

// do submits fn to the single USB worker and waits for it to finish,
// the Go equivalent of awaiting a future on a one-worker executor.
func (a *Adapter) do(fn func() error) error {
	done := make(chan error, 1)
	a.jobs <- func() { done <- fn() }
	return <-done
}

func (a *Adapter) nextTag() byte {
	a.tagMu.Lock()
	defer a.tagMu.Unlock()
	a.tag++
	if a.tag == 0 {
		a.tag = 1
	}
	return a.tag
}

// Close releases the USB device. Not part of the adapter.Adapter
// contract; called by whatever owns adapter construction at shutdown.
func (a *Adapter) Close() {
	close(a.jobs)
	a.intf.Close()
	a.usbCfg.Close()
	a.device.Close()
	a.ctx.Close()
}

// CreateLink succeeds unless lockDevice is set and the exclusive lock
// cannot be taken within lockTimeout: the USB device is already open by
// the time an adapter exists.
func (a *Adapter) CreateLink(ctx context.Context, clientID int32, lockDevice bool, lockTimeout uint32, device string, id vxi11.Link, conn adapter.SRQSender) (vxi11.ErrorCode, adapter.Link) {
	l := &Link{BaseLink: adapter.NewBaseLink(a.base, id, conn), a: a}
	if lockDevice {
		if errCode := l.DeviceLock(vxi11.FlagWaitLock, lockTimeout); errCode != vxi11.ErrNoError {
			return errCode, nil
		}
	}
	return vxi11.ErrNoError, l
}

// Link is a USBTMC device link driving a's endpoints.
type Link struct {
	*adapter.BaseLink
	a *Adapter
}

// Write frames data as a USBTMC DEV_DEP_MSG_OUT bulk-out transfer.
func (l *Link) Write(ctx context.Context, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, data []byte) (vxi11.ErrorCode, uint32) {
	if !l.AcquireIOLock(ctx, flags, lockTimeout, ioTimeout) {
		return vxi11.ErrIOTimeout, 0
	}
	defer l.ReleaseIOLock()

	tag := l.a.nextTag()
	frame := encodeBulkOut(tag, data)

	var n int
	err := l.a.do(func() error {
		written, werr := l.a.epOut.Write(frame)
		n = written
		return werr
	})
	if err != nil {
		return vxi11.ErrIOError, 0
	}
	if n < bulkOutHeaderSize {
		return vxi11.ErrIOError, 0
	}
	return vxi11.ErrNoError, uint32(len(data))
}

// Read issues a REQUEST_DEV_DEP_MSG_IN followed by a bulk-in read of
// up to requestSize bytes of instrument response plus header overhead.
func (l *Link) Read(ctx context.Context, requestSize, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, termChar byte) (vxi11.ErrorCode, vxi11.ReadReason, []byte) {
	if !l.AcquireIOLock(ctx, flags, lockTimeout, ioTimeout) {
		return vxi11.ErrIOTimeout, 0, nil
	}
	defer l.ReleaseIOLock()

	tag := l.a.nextTag()
	useTerm := flags.Has(vxi11.FlagTermCharSet)
	req := encodeBulkInRequest(tag, requestSize, termChar, useTerm)

	var payload []byte
	var eom bool
	err := l.a.do(func() error {
		if _, werr := l.a.epOut.Write(req); werr != nil {
			return werr
		}
		buf := make([]byte, bulkInRequestHeaderLen+int(requestSize))
		n, rerr := l.a.epIn.Read(buf)
		if rerr != nil {
			return rerr
		}
		p, e, perr := parseBulkIn(buf[:n])
		payload, eom = p, e
		return perr
	})
	if err != nil {
		return vxi11.ErrIOError, 0, nil
	}

	reason := vxi11.ReadReason(0)
	if eom {
		reason = vxi11.ReasonEnd
	}
	return vxi11.ErrNoError, reason, payload
}

// ReadStb issues the USBTMC READ_STATUS_BYTE class-specific control
// request (USBTMC spec table 14).
func (l *Link) ReadStb(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) (vxi11.ErrorCode, byte) {
	if !l.AcquireIOLock(ctx, flags, lockTimeout, ioTimeout) {
		return vxi11.ErrIOTimeout, 0
	}
	defer l.ReleaseIOLock()

	tag := l.a.nextTag()
	resp := make([]byte, 3)
	err := l.a.do(func() error {
		_, cerr := l.a.device.Control(controlIn, reqReadStatusByte, uint16(tag), uint16(l.a.intf.Setting.Number), resp)
		return cerr
	})
	if err != nil {
		return vxi11.ErrIOError, 0
	}
	if resp[0] != usbtmcStatusSuccess {
		return vxi11.ErrIOError, 0
	}
	return vxi11.ErrNoError, resp[2]
}

// Clear issues INITIATE_CLEAR and polls CHECK_CLEAR_STATUS until the
// device reports it is no longer clearing, bounded to a handful of
// attempts (USBTMC spec table 15/16).
func (l *Link) Clear(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode {
	if !l.AcquireIOLock(ctx, flags, lockTimeout, ioTimeout) {
		return vxi11.ErrIOTimeout
	}
	defer l.ReleaseIOLock()

	var outErr vxi11.ErrorCode
	err := l.a.do(func() error {
		resp := make([]byte, 1)
		if _, cerr := l.a.device.Control(controlIn, reqInitiateClear, 0, uint16(l.a.intf.Setting.Number), resp); cerr != nil {
			return cerr
		}
		if resp[0] != usbtmcStatusSuccess {
			outErr = vxi11.ErrIOError
			return nil
		}
		for attempt := 0; attempt < 10; attempt++ {
			status := make([]byte, 2)
			if _, cerr := l.a.device.Control(controlIn, reqCheckClearStatus, 0, uint16(l.a.intf.Setting.Number), status); cerr != nil {
				return cerr
			}
			const pending = 0x02
			if status[1]&pending == 0 {
				outErr = vxi11.ErrNoError
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		}
		outErr = vxi11.ErrIOTimeout
		return nil
	})
	if err != nil {
		return vxi11.ErrIOError
	}
	return outErr
}

func encodeBulkOut(tag byte, data []byte) []byte {
	padded := len(data)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	frame := make([]byte, bulkOutHeaderSize+padded)
	frame[0] = msgDevDepMsgOut
	frame[1] = tag
	frame[2] = ^tag
	frame[3] = 0
	putUint32LE(frame[4:8], uint32(len(data)))
	frame[8] = 0x01 // EOM
	copy(frame[bulkOutHeaderSize:], data)
	return frame
}

func encodeBulkInRequest(tag byte, requestSize uint32, termChar byte, useTerm bool) []byte {
	req := make([]byte, bulkInRequestHeaderLen)
	req[0] = msgRequestDevDepMsgIn
	req[1] = tag
	req[2] = ^tag
	req[3] = 0
	putUint32LE(req[4:8], requestSize)
	if useTerm {
		req[8] = 0x02
		req[9] = termChar
	}
	return req
}

func parseBulkIn(resp []byte) ([]byte, bool, error) {
	if len(resp) < bulkInRequestHeaderLen {
		return nil, false, fmt.Errorf("usbtmc: short bulk-in header (%d bytes)", len(resp))
	}
	if resp[0] != msgDevDepMsgIn {
		return nil, false, fmt.Errorf("usbtmc: unexpected MsgID %d", resp[0])
	}
	size := uint32LE(resp[4:8])
	eom := resp[8]&0x01 != 0
	end := bulkInRequestHeaderLen + int(size)
	if end > len(resp) {
		end = len(resp)
	}
	data := make([]byte, end-bulkInRequestHeaderLen)
	copy(data, resp[bulkInRequestHeaderLen:end])
	return data, eom, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func uint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
