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
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Locker struct {
	client redis.UniversalClient
	key    string
	value  string // Used for ensuring that only the lock holder can unlock or renew the lock
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Key() string {
	return l.key
}

// Lock takes the lock with a lease. The lease bounds the blast radius of a
// crashed holder: the key expires on its own and no process stays locked out
// forever.
func (l *Locker) Lock(ctx context.Context, leaseTimeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, leaseTimeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("lock for key %s is already held", l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

// WaitLock blocks until the lock is acquired or waitTimeout elapses, polling
// with a short random sleep between attempts.
func (l *Locker) WaitLock(ctx context.Context, leaseTimeout, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.Lock(ctx, leaseTimeout)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}
	return fmt.Errorf("failed to acquire lock for key %s within the wait timeout", l.key)
}

// RetryPolicy is the bounded retry loop around a single lock acquisition:
// at most Attempts tries, with delays starting at BackoffBase and doubling,
// each randomized by Jitter.
type RetryPolicy struct {
	Attempts    int
	BackoffBase time.Duration
	Jitter      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    3,
		BackoffBase: 100 * time.Millisecond,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 100 * time.Millisecond
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// LockSet acquires leased locks over a set of keys in one global total order
// (lexicographic) and releases them in exact reverse order. Any two
// operations over overlapping key sets therefore request locks in a
// consistent order and cannot form a cycle.
type LockSet struct {
	client redis.UniversalClient
	keys   []string
	held   []*Locker
	wait   time.Duration
	lease  time.Duration
	retry  RetryPolicy
}

// NewLockSet builds a lock set over keys. The key slice is copied and sorted;
// callers may pass keys in any order.
func NewLockSet(client redis.UniversalClient, keys []string, waitTimeout, leaseTimeout time.Duration, retry RetryPolicy) *LockSet {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return &LockSet{
		client: client,
		keys:   sorted,
		wait:   waitTimeout,
		lease:  leaseTimeout,
		retry:  retry.normalized(),
	}
}

// Keys returns the keys in acquisition order.
func (s *LockSet) Keys() []string {
	return s.keys
}

// Acquire takes every lock in order. If any acquisition fails, or the
// context is cancelled mid-acquisition, every lock already held is released
// in reverse order before the error propagates. A lock set is never left
// partially held.
func (s *LockSet) Acquire(ctx context.Context) error {
	for _, key := range s.keys {
		if err := ctx.Err(); err != nil {
			s.Release(ctx)
			return err
		}
		locker, err := s.acquireWithRetry(ctx, key)
		if err != nil {
			s.Release(ctx)
			return err
		}
		s.held = append(s.held, locker)
	}
	return nil
}

// acquireWithRetry runs the bounded retry loop for one key. The delay before
// attempt n (n > 1) is BackoffBase doubled per attempt with Jitter applied,
// computed by the backoff package so the parameters stay first-class.
func (s *LockSet) acquireWithRetry(ctx context.Context, key string) (*Locker, error) {
	locker := NewLocker(s.client, key, uuid.New().String())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.BackoffBase
	bo.RandomizationFactor = s.retry.Jitter
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		lastErr = locker.WaitLock(ctx, s.lease, s.wait)
		if lastErr == nil {
			return locker, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.Warnf("lock attempt %d/%d failed for key %s: %v", attempt+1, s.retry.Attempts, key, lastErr)
	}
	return nil, fmt.Errorf("failed to acquire lock for key %s after %d attempts: %w", key, s.retry.Attempts, lastErr)
}

// Release unlocks every held lock in reverse acquisition order. Individual
// unlock failures (an expired lease, typically) are logged and do not stop
// the remaining releases. Safe to call more than once.
func (s *LockSet) Release(ctx context.Context) {
	for i := len(s.held) - 1; i >= 0; i-- {
		if err := s.held[i].Unlock(ctx); err != nil {
			logrus.Warnf("failed to release lock %s: %v", s.held[i].Key(), err)
		}
	}
	s.held = nil
}
