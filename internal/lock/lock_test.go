/*
Copyright 2024 Earmark Commerce Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key test-key is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	// Simulate a successful unlock
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, "test-value").SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	// Simulate a failed unlock (either lock expired or not the lock holder)
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, "test-value").SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.EqualError(t, err, "unlock failed, either lock expired or you're not the lock holder for key test-key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	// Simulate successful lock extension
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, "test-value", "5000").SetVal(int64(1))

	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	// Simulate failed lock extension (either lock expired or not the holder)
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	mock.ExpectEval(script, []string{"test-key"}, "test-value", "5000").SetVal(int64(0))

	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock extension failed for key test-key, either lock expired or you're not the holder")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WaitLock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(true)

	err := locker.WaitLock(context.Background(), 5*time.Second, 2*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WaitLock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	// Simulate failure to acquire the lock within the wait timeout
	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(false)

	err := locker.WaitLock(context.Background(), 5*time.Second, 500*time.Millisecond)
	assert.EqualError(t, err, "failed to acquire lock for key test-key within the wait timeout")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func quickRetry() RetryPolicy {
	return RetryPolicy{Attempts: 2, BackoffBase: 5 * time.Millisecond, Jitter: 0.2}
}

func TestLockSet_AcquireSortsKeys(t *testing.T) {
	client := newTestRedis(t)
	ls := NewLockSet(client, []string{"lock:p3", "lock:p1", "lock:p2"}, 200*time.Millisecond, 5*time.Second, quickRetry())

	assert.Equal(t, []string{"lock:p1", "lock:p2", "lock:p3"}, ls.Keys())

	err := ls.Acquire(context.Background())
	assert.NoError(t, err)

	ctx := context.Background()
	for _, key := range ls.Keys() {
		exists, err := client.Exists(ctx, key).Result()
		assert.NoError(t, err)
		assert.Equal(t, int64(1), exists, "expected %s to be held", key)
	}

	ls.Release(ctx)
	for _, key := range ls.Keys() {
		exists, err := client.Exists(ctx, key).Result()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), exists, "expected %s to be released", key)
	}
}

func TestLockSet_PartialFailureReleasesHeld(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	// Another holder already owns the middle key, so acquisition of the
	// set must fail and leave nothing behind.
	blocker := NewLocker(client, "lock:p2", "someone-else")
	require.NoError(t, blocker.Lock(ctx, time.Minute))

	ls := NewLockSet(client, []string{"lock:p1", "lock:p2", "lock:p3"}, 20*time.Millisecond, 5*time.Second, quickRetry())
	err := ls.Acquire(ctx)
	assert.Error(t, err)

	exists, err := client.Exists(ctx, "lock:p1", "lock:p3").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), exists, "no partial locks should survive a failed acquire")

	val, err := client.Get(ctx, "lock:p2").Result()
	assert.NoError(t, err)
	assert.Equal(t, "someone-else", val, "the foreign lock must be untouched")
}

func TestLockSet_ReleaseIdempotent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	ls := NewLockSet(client, []string{"lock:p1"}, 200*time.Millisecond, 5*time.Second, quickRetry())
	require.NoError(t, ls.Acquire(ctx))

	ls.Release(ctx)
	ls.Release(ctx)

	exists, err := client.Exists(ctx, "lock:p1").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestLockSet_ContextCancelledDuringAcquire(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ls := NewLockSet(client, []string{"lock:p1", "lock:p2"}, 200*time.Millisecond, 5*time.Second, quickRetry())
	err := ls.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := client.Exists(context.Background(), "lock:p1", "lock:p2").Result()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

// Two workers contend over overlapping key sets requested in opposite
// orders. Sorted acquisition means they cannot deadlock; both must finish.
func TestLockSet_NoDeadlockOnOverlappingSets(t *testing.T) {
	client := newTestRedis(t)

	retry := RetryPolicy{Attempts: 10, BackoffBase: 5 * time.Millisecond, Jitter: 0.2}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	keySets := [][]string{
		{"lock:a", "lock:b", "lock:c"},
		{"lock:c", "lock:a"},
	}

	for i, keys := range keySets {
		wg.Add(1)
		go func(i int, keys []string) {
			defer wg.Done()
			for iter := 0; iter < 5; iter++ {
				ls := NewLockSet(client, keys, 500*time.Millisecond, 5*time.Second, retry)
				if err := ls.Acquire(context.Background()); err != nil {
					errs[i] = err
					return
				}
				time.Sleep(time.Millisecond)
				ls.Release(context.Background())
			}
		}(i, keys)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("workers did not finish, possible deadlock")
	}
	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}
}
