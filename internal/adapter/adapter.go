// Package adapter defines the contract a VXI-11 instrument back-end must
// satisfy, and a base implementation of the two-lock concurrency policy
// shared by every adapter regardless of what hardware or emulation it
// fronts.
//
// Each Adapter owns exactly one excl_lock (the VXI-11 device lock,
// attributed to a single Link at a time) and one io_lock (a short-term
// serializer for a single write/read/read_stb/clear call). Both locks
// live on the Adapter, not the Link, because VXI-11 scopes locking to
// the device, not to any one client's view of it.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pigrew/vxi11d/internal/vxi11"
)

// SRQSender is the narrow view a Link needs of its owning connection: the
// ability to forward a service request to whatever interrupt executor
// that connection has established. Implemented by internal/core.Conn.
type SRQSender interface {
	SendSRQ(handle []byte)
}

// Adapter materializes Links for a named device and owns the exclusive
// and I/O locks all of that device's Links contend over.
type Adapter interface {
	// Name identifies the adapter for logging. Device-string routing
	// matches the Router's Entry.Device, not Name.
	Name() string

	// CreateLink materializes a Link for device, or returns an error
	// code explaining why it could not (SYNTAX_ERROR,
	// DEVICE_NOT_ACCESSIBLE, OUT_OF_RESOURCES,
	// DEVICE_LOCKED_BY_ANOTHER_LINK, INVALID_ADDRESS). If lockDevice is
	// true, the adapter acquires its exclusive lock on behalf of the new
	// link before returning, subject to lockTimeout.
	CreateLink(ctx context.Context, clientID int32, lockDevice bool, lockTimeout uint32, device string, id vxi11.Link, conn SRQSender) (vxi11.ErrorCode, Link)
}

// Link is the uniform per-connection handle to a device that the core
// channel server drives. Every operation may return
// OPERATION_NOT_SUPPORTED; BaseLink's defaults do so for every op except
// the lock-management trio, which it implements against the owning
// Adapter's two locks.
type Link interface {
	ID() vxi11.Link

	Write(ctx context.Context, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, data []byte) (vxi11.ErrorCode, uint32)
	Read(ctx context.Context, requestSize, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, termChar byte) (vxi11.ErrorCode, vxi11.ReadReason, []byte)
	ReadStb(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) (vxi11.ErrorCode, byte)
	Trigger(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode
	Clear(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode
	Local(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode
	Remote(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) vxi11.ErrorCode
	Docmd(ctx context.Context, flags vxi11.DeviceFlags, ioTimeout, lockTimeout uint32, cmd int32, networkOrder bool, dataSize int32, dataIn []byte) (vxi11.ErrorCode, []byte)

	DeviceLock(flags vxi11.DeviceFlags, lockTimeout uint32) vxi11.ErrorCode
	DeviceUnlock() vxi11.ErrorCode
	Destroy() vxi11.ErrorCode

	SetSRQHandle(handle []byte)
	SRQHandle() []byte
}

// BaseAdapter implements the two-lock policy. Concrete adapters embed a
// *BaseAdapter inside their own type (or construct BaseLinks backed by
// one shared instance) and call NewBaseAdapter once per adapter.
type BaseAdapter struct {
	exclLock *timedMutex
	ioLock   *timedMutex

	mu        sync.Mutex
	hasOwner  bool
	exclOwner vxi11.Link
}

// NewBaseAdapter returns a BaseAdapter with both locks free.
func NewBaseAdapter() *BaseAdapter {
	return &BaseAdapter{
		exclLock: newTimedMutex(),
		ioLock:   newTimedMutex(),
	}
}

func (a *BaseAdapter) ownedBy(id vxi11.Link) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasOwner && a.exclOwner == id
}

func (a *BaseAdapter) ownedByOther(id vxi11.Link) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasOwner && a.exclOwner != id
}

func (a *BaseAdapter) setOwner(id vxi11.Link) {
	a.mu.Lock()
	a.hasOwner = true
	a.exclOwner = id
	a.mu.Unlock()
}

func (a *BaseAdapter) clearOwner() {
	a.mu.Lock()
	a.hasOwner = false
	a.mu.Unlock()
}

// deviceLock implements procedure 18, device_lock, for the link
// identified by id.
//
// Re-locking by the current owner is treated as an error rather than a
// no-op success; this asymmetry is deliberate, not an oversight.
func (a *BaseAdapter) deviceLock(ctx context.Context, id vxi11.Link, flags vxi11.DeviceFlags, lockTimeout uint32) vxi11.ErrorCode {
	if a.ownedBy(id) {
		return vxi11.ErrDeviceLockedByAnotherLink
	}

	if flags.Has(vxi11.FlagWaitLock) {
		if !a.exclLock.LockTimeout(ctx, msDuration(lockTimeout)) {
			return vxi11.ErrDeviceLockedByAnotherLink
		}
	} else {
		if a.ownedByOther(id) {
			return vxi11.ErrDeviceLockedByAnotherLink
		}
		if !a.exclLock.TryLock() {
			return vxi11.ErrDeviceLockedByAnotherLink
		}
	}
	a.setOwner(id)
	return vxi11.ErrNoError
}

// deviceUnlock implements procedure 19, device_unlock.
func (a *BaseAdapter) deviceUnlock(id vxi11.Link) vxi11.ErrorCode {
	if !a.ownedBy(id) {
		return vxi11.ErrNoLockHeldByThisLink
	}
	a.clearOwner()
	a.exclLock.Unlock()
	return vxi11.ErrNoError
}

// destroy releases id's exclusive lock ownership, if any, and always
// succeeds: "if it got here, the link must exist" per the reference
// source's contract.
func (a *BaseAdapter) destroy(id vxi11.Link) vxi11.ErrorCode {
	if a.ownedBy(id) {
		a.clearOwner()
		a.exclLock.Unlock()
	}
	return vxi11.ErrNoError
}

// acquireIOLock implements the acquire_io_lock algorithm: first wait (or
// not) on the exclusive lock depending on WAITLOCK, then acquire the
// short-term I/O lock bounded by ioTimeout. Returns false, which the
// caller maps to IO_TIMEOUT, on either timeout.
func (a *BaseAdapter) acquireIOLock(ctx context.Context, id vxi11.Link, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) bool {
	if a.ownedByOther(id) {
		if flags.Has(vxi11.FlagWaitLock) {
			// Poll technique: briefly take and release the exclusive
			// lock as a way to wait for its current owner to release it,
			// without actually taking ownership ourselves.
			if !a.exclLock.LockTimeout(ctx, msDuration(lockTimeout)) {
				return false
			}
			a.exclLock.Unlock()
		} else {
			return false
		}
	}
	return a.ioLock.LockTimeout(ctx, msDuration(ioTimeout))
}

func (a *BaseAdapter) releaseIOLock() {
	a.ioLock.Unlock()
}

func msDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
