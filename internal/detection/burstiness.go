// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package detection

import (
	"math"
	"sort"
	"time"
)

// BurstThreshold is the burstiness score above which activity is considered
// scripted or batch-driven rather than organic.
const BurstThreshold = 6.0

// BurstinessScore measures how bursty a sequence of activity timestamps is,
// on a 0-10 scale. Human recon is spread out; a script enumerating files
// produces tight clusters of near-identical inter-arrival times.
//
// The score combines the coefficient of variation of inter-arrival seconds
// with the action density (events per minute of observed span).
func BurstinessScore(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 0.0
	}

	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	allZero := true
	for i := 1; i < len(sorted); i++ {
		iv := sorted[i].Sub(sorted[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv != 0 {
			allZero = false
		}
	}

	mean := meanOf(intervals)
	if allZero || mean == 0 {
		// Identical timestamps: maximally bursty
		return 10.0
	}

	cv := 0.0
	if len(intervals) >= 2 {
		cv = sampleStdev(intervals, mean) / mean
	}

	span := sorted[len(sorted)-1].Sub(sorted[0]).Seconds()
	density := float64(len(sorted))
	if span > 0 {
		density = float64(len(sorted)) / (span / 60.0)
	}

	score := math.Min(10.0, cv*2.0+density*0.5)
	return math.Round(score*100) / 100
}

// IsBursty reports whether the timestamps score above the burst threshold.
func IsBursty(timestamps []time.Time) bool {
	return BurstinessScore(timestamps) >= BurstThreshold
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdev is the n-1 standard deviation.
func sampleStdev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
