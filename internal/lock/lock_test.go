package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	held      map[string]string
	setErr    error
	evalCalls int
	lastTTL   time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{held: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	f.lastTTL = expiration
	if _, ok := f.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.evalCalls++
	if f.held[keys[0]] == args[0].(string) {
		delete(f.held, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	fr := newFakeRedis()
	l := NewRedisLocker(fr, 30*time.Second, nil)

	release, err := l.Acquire(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, fr.lastTTL)
	assert.Contains(t, fr.held, defaultKeyPrefix+"evt_1")

	_, err = l.Acquire(context.Background(), "evt_1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	assert.Equal(t, 1, fr.evalCalls)
	assert.NotContains(t, fr.held, defaultKeyPrefix+"evt_1")

	release2, err := l.Acquire(context.Background(), "evt_1")
	require.NoError(t, err)
	release2()
}

func TestRedisLocker_ReleaseLeavesForeignToken(t *testing.T) {
	fr := newFakeRedis()
	l := NewRedisLocker(fr, time.Second, nil)

	release, err := l.Acquire(context.Background(), "evt_2")
	require.NoError(t, err)

	// Simulate expiry followed by another owner taking the key.
	fr.held[defaultKeyPrefix+"evt_2"] = "someone-else"
	release()

	assert.Equal(t, "someone-else", fr.held[defaultKeyPrefix+"evt_2"])
}

func TestRedisLocker_BackendError(t *testing.T) {
	fr := newFakeRedis()
	fr.setErr = errors.New("dial tcp: connection refused")
	l := NewRedisLocker(fr, time.Second, nil)

	_, err := l.Acquire(context.Background(), "evt_3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
}

func TestNoop(t *testing.T) {
	release, err := Noop{}.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}
