// Package ratelimit provides fixed-window request counters.
package ratelimit

import (
	"fmt"
	"time"
)

// windowStart returns the beginning of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func windowKey(key string, start time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, start.Unix())
}
