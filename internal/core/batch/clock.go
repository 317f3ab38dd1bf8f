// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package batch

import "time"

// Clock abstracts time for the memory-yield pauses and heartbeat
// scheduling, so tests run without real sleeps and can drive beats.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
