// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

package gcodefile

import "sort"

// paceSmoothing is the exponential smoothing weight applied to the observed
// actual-vs-estimated pace ratio on each estimate.
const paceSmoothing = 0.1

// Estimator maps (elapsed seconds, current byte position) onto a smoothed
// time-remaining and progress estimate using the checkpoints extracted
// during preprocessing.
//
// The slicer's static estimate is linearly interpolated between the
// checkpoints bracketing the current position, then scaled by an
// exponentially smoothed correction factor derived from how the print's
// actual pace compares to the slicer's, so the reported time remaining
// converges toward reality as the print runs.
type Estimator struct {
	totalTime float64
	steps     []ProgressStep

	factor      float64
	initialized bool
}

// NewEstimator builds an estimator from a preprocessed file. A file with no
// checkpoints degrades to a constant zero estimate.
func NewEstimator(f *File) *Estimator {
	total := f.TotalTime
	if total == 0 && len(f.Steps) > 0 {
		total = f.Steps[0].TimeRemaining
	}
	return &Estimator{totalTime: total, steps: f.Steps, factor: 1}
}

// Estimate returns the pace-adjusted time remaining in seconds and the
// progress fraction in [0,1] for the given elapsed wall-clock seconds and
// byte position.
func (e *Estimator) Estimate(elapsed float64, position int64) (timeRemaining float64, progress float64) {
	if len(e.steps) == 0 {
		return 0, 0
	}

	if position < e.steps[0].BytePosition {
		return e.steps[0].TimeRemaining, 0
	}
	last := e.steps[len(e.steps)-1]
	if position >= last.BytePosition {
		return 0, 1
	}

	// Locate the bracketing checkpoints and interpolate the slicer's
	// remaining-time estimate by byte-position fraction.
	i := sort.Search(len(e.steps), func(i int) bool {
		return e.steps[i].BytePosition > position
	})
	a, b := e.steps[i-1], e.steps[i]

	frac := float64(position-a.BytePosition) / float64(b.BytePosition-a.BytePosition)
	interpolated := a.TimeRemaining + (b.TimeRemaining-a.TimeRemaining)*frac

	progress = 0
	if e.totalTime > 0 {
		progress = clamp01(1 - interpolated/e.totalTime)
	}

	estimatedElapsed := e.totalTime - interpolated
	if estimatedElapsed > 0 && elapsed > 0 {
		ratio := elapsed / estimatedElapsed
		if !e.initialized {
			e.factor = ratio
			e.initialized = true
		} else {
			e.factor = e.factor*(1-paceSmoothing) + ratio*paceSmoothing
		}
	}

	return interpolated * e.factor, progress
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
