// Copyright (c) 2026 Tramo. All rights reserved.
// Author: equipo@tramo.ar

package batch

import "runtime"

// MemoryProbe reports heap pressure as a fraction of the available budget.
// The adaptive batch sizing reads only this; tests substitute fixed values.
type MemoryProbe interface {
	// UsedFraction returns used/total heap in [0, 1].
	UsedFraction() float64
}

// RuntimeProbe reads the Go runtime's heap counters.
type RuntimeProbe struct{}

func (RuntimeProbe) UsedFraction() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapSys == 0 {
		return 0
	}
	return float64(stats.HeapAlloc) / float64(stats.HeapSys)
}
