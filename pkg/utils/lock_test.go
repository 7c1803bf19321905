package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "session-1")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, m.locks)
}

func TestKeyMutex_ContextCancelled(t *testing.T) {
	m := NewKeyMutex()
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyMutex()
	u1, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer u1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	u2, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	u2()
}

func TestRedisLocker_GivesUpWhenHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, "lock:", time.Second)
	l.retry = 200 * time.Millisecond

	mock.Regexp().ExpectSetNX("lock:session-1", `.+`, time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "session-1")
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, "lock:", time.Second)

	mock.Regexp().ExpectSetNX("lock:session-1", `.+`, time.Second).SetVal(true)
	mock.Regexp().ExpectEvalSha(lockReleaseScript.Hash(), []string{"lock:session-1"}, `.+`).SetVal(int64(1))

	unlock, err := l.Lock(context.Background(), "session-1")
	require.NoError(t, err)
	unlock()
	unlock()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RenewsLeaseWhileHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, "lock:", 300*time.Millisecond)
	l.renewEvery = 10 * time.Millisecond

	mock.Regexp().ExpectSetNX("lock:bot:15550001", `.+`, 300*time.Millisecond).SetVal(true)
	mock.Regexp().ExpectEvalSha(lockRenewScript.Hash(), []string{"lock:bot:15550001"}, `.+`, `300`).SetVal(int64(1))
	mock.Regexp().ExpectEvalSha(lockRenewScript.Hash(), []string{"lock:bot:15550001"}, `.+`, `300`).SetVal(int64(1))
	mock.Regexp().ExpectEvalSha(lockReleaseScript.Hash(), []string{"lock:bot:15550001"}, `.+`).SetVal(int64(1))

	unlock, err := l.Lock(context.Background(), "bot:15550001")
	require.NoError(t, err)
	// Held across several renew periods; the third renew finds no expectation
	// and stops the renewer.
	time.Sleep(100 * time.Millisecond)
	unlock()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_StopsRenewingLostLease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, "lock:", time.Second)
	l.renewEvery = 10 * time.Millisecond

	mock.Regexp().ExpectSetNX("lock:k", `.+`, time.Second).SetVal(true)
	mock.Regexp().ExpectEvalSha(lockRenewScript.Hash(), []string{"lock:k"}, `.+`, `1000`).SetVal(int64(0))
	mock.Regexp().ExpectEvalSha(lockReleaseScript.Hash(), []string{"lock:k"}, `.+`).SetVal(int64(0))

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	unlock()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RejectsEmptyKey(t *testing.T) {
	db, _ := redismock.NewClientMock()
	l := NewRedisLocker(db, "lock:", time.Second)
	_, err := l.Lock(context.Background(), "")
	assert.Error(t, err)
}
