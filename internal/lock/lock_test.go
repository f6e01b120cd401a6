package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "wu1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	exerciseMutualExclusion(t, km)
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second release is a no-op
	assert.Equal(t, 0, km.Len())
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()
	l, err := NewRedisLocker(context.Background(), RedisOptions{URL: "redis://" + s.Addr(), Poll: time.Millisecond}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, s
}

func TestRedisLockerSerializesSameKey(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
}

func TestRedisLockerReleaseOnlyOwnLease(t *testing.T) {
	l, s := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "wu1")
	require.NoError(t, err)
	assert.True(t, s.Exists("workgraph:lock:wu1"))

	// Simulate the lease expiring and another holder taking it.
	s.Del("workgraph:lock:wu1")
	require.NoError(t, s.Set("workgraph:lock:wu1", "someone-else"))

	unlock()
	got, err := s.Get("workgraph:lock:wu1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerHonoursContext(t *testing.T) {
	l, _ := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "wu1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "wu1")
	assert.Error(t, err)
}

func TestRedisLockerBadURL(t *testing.T) {
	_, err := NewRedisLocker(context.Background(), RedisOptions{URL: "not-a-url"}, nil)
	assert.Error(t, err)
}
