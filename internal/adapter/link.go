package adapter

import (
	"context"
	"sync"

	"github.com/pigrew/vxi11d/internal/vxi11"
)

// BaseLink is the default Link implementation. Every optional operation
// returns OPERATION_NOT_SUPPORTED; a concrete adapter embeds *BaseLink
// and shadows whichever methods it actually implements (Write and Read
// at minimum — a Link that can do neither is not very useful).
//
// BaseLink also implements the lock-management trio (DeviceLock,
// DeviceUnlock, Destroy) against the owning Adapter's two-lock state;
// these are not meant to be shadowed, since the locking policy is fixed
// by the protocol, not by the instrument.
type BaseLink struct {
	adapter *BaseAdapter
	id      vxi11.Link
	conn    SRQSender

	mu        sync.Mutex
	srqHandle []byte
}

// NewBaseLink wires a BaseLink to the adapter whose locks it shares, the
// link id the core server assigned it, and the connection it can raise
// SRQs through.
func NewBaseLink(adapter *BaseAdapter, id vxi11.Link, conn SRQSender) *BaseLink {
	return &BaseLink{adapter: adapter, id: id, conn: conn}
}

func (l *BaseLink) ID() vxi11.Link { return l.id }

// AcquireIOLock runs the §5 io_lock acquisition algorithm for this link.
// Concrete adapters call this at the top of Write/Read/ReadStb/Clear and
// must call ReleaseIOLock before returning.
func (l *BaseLink) AcquireIOLock(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) bool {
	return l.adapter.acquireIOLock(ctx, l.id, flags, lockTimeout, ioTimeout)
}

// ReleaseIOLock releases the io_lock acquired by a prior successful
// AcquireIOLock call.
func (l *BaseLink) ReleaseIOLock() {
	l.adapter.releaseIOLock()
}

// SendSRQ forwards handle to the owning connection's interrupt executor,
// if one is connected. A concrete adapter calls this from whatever timer
// or event triggers a service request.
func (l *BaseLink) SendSRQ() {
	handle := l.SRQHandle()
	if handle == nil || l.conn == nil {
		return
	}
	l.conn.SendSRQ(handle)
}

func (l *BaseLink) SetSRQHandle(handle []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.srqHandle = handle
}

func (l *BaseLink) SRQHandle() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.srqHandle
}

func (l *BaseLink) DeviceLock(flags vxi11.DeviceFlags, lockTimeout uint32) vxi11.ErrorCode {
	return l.adapter.deviceLock(context.Background(), l.id, flags, lockTimeout)
}

func (l *BaseLink) DeviceUnlock() vxi11.ErrorCode {
	return l.adapter.deviceUnlock(l.id)
}

func (l *BaseLink) Destroy() vxi11.ErrorCode {
	return l.adapter.destroy(l.id)
}

// The following defaults make BaseLink satisfy the Link interface on its
// own; every concrete adapter overrides the subset it actually supports.

func (l *BaseLink) Write(ctx context.Context, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, data []byte) (vxi11.ErrorCode, uint32) {
	return vxi11.ErrOperationNotSupported, 0
}

func (l *BaseLink) Read(ctx context.Context, requestSize, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, termChar byte) (vxi11.ErrorCode, vxi11.ReadReason, []byte) {
	return vxi11.ErrOperationNotSupported, 0, nil
}

func (l *BaseLink) ReadStb(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) (vxi11.ErrorCode, byte) {
	return vxi11.ErrOperationNotSupported, 0
}

func (l *BaseLink) Trigger(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode {
	return vxi11.ErrOperationNotSupported
}

func (l *BaseLink) Clear(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode {
	return vxi11.ErrOperationNotSupported
}

func (l *BaseLink) Local(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode {
	return vxi11.ErrOperationNotSupported
}

func (l *BaseLink) Remote(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode {
	return vxi11.ErrOperationNotSupported
}

func (l *BaseLink) Docmd(ctx context.Context, flags vxi11.DeviceFlags, ioTimeout, lockTimeout uint32, cmd int32, networkOrder bool, dataSize int32, dataIn []byte) (vxi11.ErrorCode, []byte) {
	return vxi11.ErrOperationNotSupported, nil
}
