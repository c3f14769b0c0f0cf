package workgroup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionDoesNotExceedPerOrgCapacity(t *testing.T) {
	a := New(10, 0)

	var mu sync.Mutex
	currExecuting := int32(0)
	maxExecuting := uint(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := a.CheckWorkGroup(context.Background(), "t", "org-a", time.Second, CategoryShort)
			require.NoError(t, err)
			defer lock.Release()

			atomic.AddInt32(&currExecuting, 1)
			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			if curr := uint(atomic.LoadInt32(&currExecuting)); curr > maxExecuting {
				maxExecuting = curr
			}
			mu.Unlock()

			atomic.AddInt32(&currExecuting, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint(10), maxExecuting)
}

func TestAdmissionIsolatesOrgsFromEachOther(t *testing.T) {
	a := New(1, 0)

	lockA, err := a.CheckWorkGroup(context.Background(), "t1", "org-a", time.Second, CategoryShort)
	require.NoError(t, err)
	defer lockA.Release()

	// A different org must not be blocked by org-a holding its only slot.
	lockB, err := a.CheckWorkGroup(context.Background(), "t2", "org-b", time.Second, CategoryShort)
	require.NoError(t, err)
	lockB.Release()
}

func TestAdmissionTimesOutWhenSlotUnavailable(t *testing.T) {
	a := New(1, 0)

	held, err := a.CheckWorkGroup(context.Background(), "t1", "org-a", time.Second, CategoryShort)
	require.NoError(t, err)
	defer held.Release()

	_, err = a.CheckWorkGroup(context.Background(), "t2", "org-a", 20*time.Millisecond, CategoryShort)
	require.Error(t, err)
}

func TestAdmissionReportsWaitTime(t *testing.T) {
	a := New(1, 0)

	held, err := a.CheckWorkGroup(context.Background(), "t1", "org-a", time.Second, CategoryShort)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		held.Release()
	}()

	lock, err := a.CheckWorkGroup(context.Background(), "t2", "org-a", time.Second, CategoryShort)
	require.NoError(t, err)
	defer lock.Release()

	assert.GreaterOrEqual(t, lock.Wait, 25*time.Millisecond)
}

func TestAdmissionReleaseIsIdempotent(t *testing.T) {
	a := New(1, 0)
	lock, err := a.CheckWorkGroup(context.Background(), "t1", "org-a", time.Second, CategoryShort)
	require.NoError(t, err)

	lock.Release()
	assert.NotPanics(t, lock.Release)

	// The slot must be free again after release.
	second, err := a.CheckWorkGroup(context.Background(), "t2", "org-a", 50*time.Millisecond, CategoryShort)
	require.NoError(t, err)
	second.Release()
}

func TestAdmissionGlobalCeilingBoundsAcrossOrgs(t *testing.T) {
	a := New(100, 2)

	lock1, err := a.CheckWorkGroup(context.Background(), "t1", "org-a", time.Second, CategoryShort)
	require.NoError(t, err)
	defer lock1.Release()

	lock2, err := a.CheckWorkGroup(context.Background(), "t2", "org-b", time.Second, CategoryShort)
	require.NoError(t, err)
	defer lock2.Release()

	_, err = a.CheckWorkGroup(context.Background(), "t3", "org-c", 20*time.Millisecond, CategoryShort)
	assert.Error(t, err)
}
