package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSlotKey(t *testing.T) {
	id := uuid.MustParse("8f14e45f-ceea-467f-a8f6-1b2c3d4e5f60")
	date := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "lock:slot:8f14e45f-ceea-467f-a8f6-1b2c3d4e5f60:2024-07-01:09:30", SlotKey(id, date, "09:30"))
}

func TestNoopLocker_PassesThrough(t *testing.T) {
	boom := errors.New("boom")
	called := false

	err := NoopLocker{}.WithLock(context.Background(), ReconcileKey, func(ctx context.Context) error {
		called = true
		return boom
	})

	assert.True(t, called)
	assert.ErrorIs(t, err, boom)
}
