// Package apply executes approved plans against devices with
// snapshot-before, health-check and rollback-on-failure semantics.
package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/netwarden/netwarden/pkg/util"
)

// DeviceLock is an advisory per-device lock held for the duration of a
// per-device apply. It warns about concurrent applies; it does not
// serialize them. A nil DeviceLock disables locking.
type DeviceLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeviceLock creates an advisory lock manager. ttl bounds how long a
// crashed apply can leave a device marked busy.
func NewDeviceLock(client *redis.Client, ttl time.Duration) *DeviceLock {
	return &DeviceLock{client: client, ttl: ttl}
}

func lockKey(deviceID string) string {
	return "netwarden:applylock:" + deviceID
}

// Acquire marks the device as busy by holder. Returns ErrLockBusy with
// the current holder when another apply owns the device.
func (l *DeviceLock) Acquire(ctx context.Context, deviceID, holder string) error {
	if l == nil || l.client == nil {
		return nil
	}
	ok, err := l.client.SetNX(ctx, lockKey(deviceID), holder, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquiring device lock: %w", err)
	}
	if !ok {
		current, _ := l.client.Get(ctx, lockKey(deviceID)).Result()
		return fmt.Errorf("device %s busy (held by %s): %w", deviceID, current, util.ErrLockBusy)
	}
	return nil
}

// Release frees the device if held by holder.
func (l *DeviceLock) Release(ctx context.Context, deviceID, holder string) {
	if l == nil || l.client == nil {
		return
	}
	current, err := l.client.Get(ctx, lockKey(deviceID)).Result()
	if err != nil || current != holder {
		return
	}
	if err := l.client.Del(ctx, lockKey(deviceID)).Err(); err != nil {
		util.WithDevice(deviceID).Warnf("releasing device lock: %v", err)
	}
}
