package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	unlock, err := km.Lock(context.Background(), key)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := km.Lock(context.Background(), key)
		if err != nil {
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after unlock")
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA, err := km.Lock(context.Background(), uuid.New())
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, uuid.New())
	require.NoError(t, err, "different key must not block")
	unlockB()
}

func TestKeyedMutexRespectsContext(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	unlock, err := km.Lock(context.Background(), key)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutexDropsIdleEntries(t *testing.T) {
	km := newKeyedMutex()
	key := uuid.New()

	unlock, err := km.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}
