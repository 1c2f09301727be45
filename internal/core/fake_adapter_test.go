package core

import (
	"context"

	"github.com/pigrew/vxi11d/internal/adapter"
	"github.com/pigrew/vxi11d/internal/vxi11"
)

// fakeAdapter is a minimal in-memory adapter for exercising the core
// channel server without any real instrument back-end. write echoes
// into a per-link buffer that read drains, matching just enough
// behavior to walk create_link/write/read/destroy_link end to end.
type fakeAdapter struct {
	*adapter.BaseAdapter
	name        string
	rejectError vxi11.ErrorCode // if nonzero, CreateLink always fails with this
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{BaseAdapter: adapter.NewBaseAdapter(), name: name}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) CreateLink(ctx context.Context, clientID int32, lockDevice bool, lockTimeout uint32, device string, id vxi11.Link, conn adapter.SRQSender) (vxi11.ErrorCode, adapter.Link) {
	if a.rejectError != vxi11.ErrNoError {
		return a.rejectError, nil
	}
	return vxi11.ErrNoError, newFakeLink(a, id, conn)
}

type fakeLink struct {
	*adapter.BaseLink
	pending []byte
}

func newFakeLink(a *fakeAdapter, id vxi11.Link, conn adapter.SRQSender) *fakeLink {
	return &fakeLink{BaseLink: adapter.NewBaseLink(a.BaseAdapter, id, conn)}
}

func (l *fakeLink) Write(ctx context.Context, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, data []byte) (vxi11.ErrorCode, uint32) {
	l.pending = append(l.pending, data...)
	return vxi11.ErrNoError, uint32(len(data))
}

func (l *fakeLink) Read(ctx context.Context, requestSize, ioTimeout, lockTimeout uint32, flags vxi11.DeviceFlags, termChar byte) (vxi11.ErrorCode, vxi11.ReadReason, []byte) {
	data := l.pending
	l.pending = nil
	return vxi11.ErrNoError, vxi11.ReasonEnd, data
}
