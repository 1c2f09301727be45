package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pigrew/vxi11d/internal/vxi11"
)

func TestDeviceLockExclusiveAcrossLinks(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()

	linkA := vxi11.Link(1)
	linkB := vxi11.Link(2)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkA, vxi11.FlagWaitLock, 1000))
	assert.Equal(t, vxi11.ErrDeviceLockedByAnotherLink, a.deviceLock(ctx, linkB, 0, 0))
}

func TestDeviceLockWaitTimeoutBound(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()
	linkA := vxi11.Link(1)
	linkB := vxi11.Link(2)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkA, vxi11.FlagWaitLock, 1000))

	start := time.Now()
	result := a.deviceLock(ctx, linkB, vxi11.FlagWaitLock, 200)
	elapsed := time.Since(start)

	assert.Equal(t, vxi11.ErrDeviceLockedByAnotherLink, result)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestDeviceLockByCurrentOwnerFails(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()
	link := vxi11.Link(1)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, link, 0, 0))
	// Re-locking by the same owner is an error, matching the reference
	// source's asymmetric behavior.
	assert.Equal(t, vxi11.ErrDeviceLockedByAnotherLink, a.deviceLock(ctx, link, 0, 0))
}

func TestDeviceUnlockByNonOwnerFails(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()
	linkA := vxi11.Link(1)
	linkB := vxi11.Link(2)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkA, 0, 0))
	assert.Equal(t, vxi11.ErrNoLockHeldByThisLink, a.deviceUnlock(linkB))
	// State unchanged: the true owner can still unlock.
	assert.Equal(t, vxi11.ErrNoError, a.deviceUnlock(linkA))
}

func TestLockContentionScenario(t *testing.T) {
	// Scenario 4 from the testable properties: two connections contend
	// for one adapter's exclusive lock.
	a := NewBaseAdapter()
	ctx := context.Background()
	connA := vxi11.Link(0)
	connB := vxi11.Link(1)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, connA, vxi11.FlagWaitLock, 1000))
	assert.Equal(t, vxi11.ErrDeviceLockedByAnotherLink, a.deviceLock(ctx, connB, 0, 0))

	start := time.Now()
	assert.Equal(t, vxi11.ErrDeviceLockedByAnotherLink, a.deviceLock(ctx, connB, vxi11.FlagWaitLock, 200))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	assert.Equal(t, vxi11.ErrNoError, a.deviceUnlock(connA))
	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, connB, vxi11.FlagWaitLock, 1000))
}

func TestDestroyReleasesOwnedLock(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()
	linkA := vxi11.Link(1)
	linkB := vxi11.Link(2)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkA, 0, 0))
	assert.Equal(t, vxi11.ErrNoError, a.destroy(linkA))
	// Lock released: linkB can now take it.
	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkB, 0, 0))
}

func TestAcquireIOLockBlockedByExclOwnerWithoutWaitlock(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()
	linkA := vxi11.Link(1)
	linkB := vxi11.Link(2)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkA, 0, 0))
	assert.False(t, a.acquireIOLock(ctx, linkB, 0, 0, 1000))
}

func TestAcquireIOLockSucceedsForOwner(t *testing.T) {
	a := NewBaseAdapter()
	ctx := context.Background()
	linkA := vxi11.Link(1)

	assert.Equal(t, vxi11.ErrNoError, a.deviceLock(ctx, linkA, 0, 0))
	assert.True(t, a.acquireIOLock(ctx, linkA, 0, 1000, 1000))
	a.releaseIOLock()
}

func TestBaseLinkDefaultsReturnOperationNotSupported(t *testing.T) {
	a := NewBaseAdapter()
	l := NewBaseLink(a, vxi11.Link(0), nil)
	ctx := context.Background()

	errCode, _ := l.ReadStb(ctx, 0, 0, 0)
	assert.Equal(t, vxi11.ErrOperationNotSupported, errCode)
	assert.Equal(t, vxi11.ErrOperationNotSupported, l.Trigger(ctx, 0, 0, 0))
	assert.Equal(t, vxi11.ErrOperationNotSupported, l.Clear(ctx, 0, 0, 0))
	assert.Equal(t, vxi11.ErrOperationNotSupported, l.Local(ctx, 0, 0, 0))
	assert.Equal(t, vxi11.ErrOperationNotSupported, l.Remote(ctx, 0, 0, 0))
	docmdErr, _ := l.Docmd(ctx, 0, 0, 0, 0, false, 0, nil)
	assert.Equal(t, vxi11.ErrOperationNotSupported, docmdErr)
}

func TestBaseLinkSRQHandle(t *testing.T) {
	a := NewBaseAdapter()
	l := NewBaseLink(a, vxi11.Link(0), nil)
	assert.Nil(t, l.SRQHandle())

	l.SetSRQHandle([]byte("COOKIE"))
	assert.Equal(t, []byte("COOKIE"), l.SRQHandle())
}
