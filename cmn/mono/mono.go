// Package mono provides a monotonic clock source; nlog uses it to track the
// time of its last write.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonic reading in nanoseconds. Only deltas between
// two NanoTime() calls are meaningful; the absolute value carries no wall-clock meaning.
func NanoTime() int64 {
	return int64(time.Since(start))
}
