// Package timeofday implements a reference VXI-11 adapter with no real
// hardware behind it: create_link succeeds unless a requested device
// lock cannot be taken, *IDN?/TIME? queries
// are answered out of an in-memory buffer, and a periodic timer raises
// a service request every six seconds.
//
package timeofday

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pigrew/vxi11d/internal/adapter"
	"github.com/pigrew/vxi11d/internal/vxi11"
)

// srqInterval is the re-arming period of the periodic SRQ timer.
const srqInterval = 6 * time.Second

// Adapter is the time-of-day reference adapter. One instance backs one
// configured device name; every link created against it shares the
// instance's exclusive and I/O locks, per the VXI-11 locking model.
type Adapter struct {
	name string
	base *adapter.BaseAdapter
}

// NewAdapter returns an Adapter named name (reported by Name, used for
// logging). The *IDN? reply text carries the device string given to
// create_link, not this name.
func NewAdapter(name string) *Adapter {
	return &Adapter{name: name, base: adapter.NewBaseAdapter()}
}

func (a *Adapter) Name() string { return a.name }

// CreateLink succeeds unless lockDevice is set and the exclusive lock
// cannot be taken within lockTimeout: the time-of-day adapter has no
// notion of an inaccessible device.
func (a *Adapter) CreateLink(ctx context.Context, clientID int32, lockDevice bool, lockTimeout uint32, device string, id vxi11.Link, conn adapter.SRQSender) (vxi11.ErrorCode, adapter.Link) {
	l := newLink(a, id, conn, device)
	if lockDevice {
		if errCode := l.DeviceLock(vxi11.FlagWaitLock, lockTimeout); errCode != vxi11.ErrNoError {
			l.stopTimer()
			return errCode, nil
		}
	}
	return vxi11.ErrNoError, l
}

// Link is a time-of-day device link.
type Link struct {
	*adapter.BaseLink
	device string

	mu     sync.Mutex
	outBuf []byte

	timer *time.Timer
	done  chan struct{}
}

func newLink(a *Adapter, id vxi11.Link, conn adapter.SRQSender, device string) *Link {
	l := &Link{BaseLink: adapter.NewBaseLink(a.base, id, conn), device: device, done: make(chan struct{})}
	l.armTimer()
	return l
}

func (l *Link) armTimer() {
	l.timer = time.AfterFunc(srqInterval, l.onTimer)
}

func (l *Link) onTimer() {
	select {
	case <-l.done:
		return
	default:
	}
	l.SendSRQ()
	l.armTimer()
}

func (l *Link) stopTimer() {
	close(l.done)
	if l.timer != nil {
		l.timer.Stop()
	}
}

// Destroy stops the SRQ timer before releasing the lock state inherited
// from BaseLink.
func (l *Link) Destroy() vxi11.ErrorCode {
	l.stopTimer()
	return l.BaseLink.Destroy()
}

// Write recognizes *IDN? and TIME? (case-insensitive prefix match);
// any other input queues INVALID_QUERY. Every write succeeds
// regardless of what it queued.
func (l *Link) Write(ctx context.Context, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, data []byte) (vxi11.ErrorCode, uint32) {
	if !l.AcquireIOLock(ctx, flags, lockTimeout, ioTimeout) {
		return vxi11.ErrIOTimeout, 0
	}
	defer l.ReleaseIOLock()

	lower := strings.ToLower(string(data))
	var out []byte
	switch {
	case strings.HasPrefix(lower, "*idn?"):
		out = []byte("TIME_SERVER,0," + l.device + "\n")
	case strings.HasPrefix(lower, "time?"):
		out = []byte(time.Now().UTC().Format("15:04:05 -0700"))
	default:
		out = []byte("INVALID_QUERY\n")
	}

	l.mu.Lock()
	l.outBuf = out
	l.mu.Unlock()

	return vxi11.ErrNoError, uint32(len(data))
}

// Read drains whatever Write last queued. With nothing queued it
// returns IO_TIMEOUT: there is no pending reply to give back.
func (l *Link) Read(ctx context.Context, requestSize, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, termChar byte) (vxi11.ErrorCode, vxi11.ReadReason, []byte) {
	l.mu.Lock()
	data := l.outBuf
	l.outBuf = nil
	l.mu.Unlock()

	if data == nil {
		return vxi11.ErrIOTimeout, 0, nil
	}
	return vxi11.ErrNoError, vxi11.ReasonEnd, data
}

// ReadStb always reports a fixed status byte of 0x23.
func (l *Link) ReadStb(ctx context.Context, flags vxi11.DeviceFlags, lockTimeout, ioTimeout uint32) (vxi11.ErrorCode, byte) {
	return vxi11.ErrNoError, 0x23
}
