package data

import (
	"context"
	"testing"
	"time"

	"caseprint-service/internal/biz"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickLocker_SingleHolder(t *testing.T) {
	d, _ := setupTestRedis(t)
	rc := &biz.ReconcilerConfig{TickTimeout: 30 * time.Second}
	a := NewTickLocker(d, rc, testLogger)
	b := NewTickLocker(d, rc, testLogger)
	ctx := context.Background()

	unlock, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second replica must skip the tick")

	unlock()

	unlockB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	unlockB()
}

func TestTickLocker_ExpiresWithTickTimeout(t *testing.T) {
	d, mr := setupTestRedis(t)
	rc := &biz.ReconcilerConfig{TickTimeout: 30 * time.Second}
	ctx := context.Background()

	_, ok, err := NewTickLocker(d, rc, testLogger).TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// 持有者崩溃后锁随 tick 超时释放
	mr.FastForward(31 * time.Second)
	unlock, ok, err := NewTickLocker(d, rc, testLogger).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock()
}
