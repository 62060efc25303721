package storage

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestamp returns the current UTC time at millisecond precision,
// strictly later than any value it returned before. Backends stamp
// createdAt/updatedAt with it so updatedAt always moves forward, even for
// writes landing in the same millisecond.
func nextTimestamp() time.Time {
	for {
		now := time.Now().UnixMilli()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return time.UnixMilli(now).UTC()
		}
	}
}
