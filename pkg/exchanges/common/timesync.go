package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeSync keeps the local clock offset to the exchange server.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds offset (server - local)
	lastSync      time.Time
	log           *zap.Logger
	mu            sync.RWMutex
}

// NewTimeSync creates a new time synchronization manager.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), log *zap.Logger) *TimeSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeSync{
		getServerTime: getServerTime,
		log:           log,
	}
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	// Assume network latency is symmetric
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.log.Info("time sync", zap.Int64("offset_ms", serverTime-localTime), zap.Int64("server", serverTime))
	return nil
}

// Now returns current time in milliseconds adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// LastSync returns when the offset was last refreshed.
func (ts *TimeSync) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync
}
