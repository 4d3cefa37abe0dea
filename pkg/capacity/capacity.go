// Package capacity implements the adaptive per-priority capacity allocator
// and trend detector. It is a stateless function over a total limit,
// recent activity metrics, and configured thresholds; the rate governor
// owns the per-resource recalculation cache around it.
package capacity

import (
	"fmt"
	"math"
)

// Trend classifies how user request activity is moving within the
// monitoring window.
type Trend string

const (
	TrendNone       Trend = "none"
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Metrics holds the bounded timestamp sequences tracked per resource.
type Metrics struct {
	UserTimestamps       []int64 // epoch ms, ascending
	BackgroundTimestamps []int64 // epoch ms, ascending
}

// Config is the allocator configuration. Validate checks the threshold
// ordering and bounds; Calculate does not call it.
type Config struct {
	MonitoringWindowMs               int64
	RecalculationIntervalMs          int64
	HighActivityThreshold            int
	ModerateActivityThreshold        int
	SustainedInactivityThresholdMs   int64
	BackgroundPauseOnIncreasingTrend bool
	MaxUserScaling                   float64
	MinUserReserved                  int
}

// Validate enforces highActivityThreshold > moderateActivityThreshold >= 0.
func (c Config) Validate() error {
	if c.HighActivityThreshold <= c.ModerateActivityThreshold {
		return fmt.Errorf("capacity: highActivityThreshold (%d) must be > moderateActivityThreshold (%d)", c.HighActivityThreshold, c.ModerateActivityThreshold)
	}
	if c.ModerateActivityThreshold < 0 {
		return fmt.Errorf("capacity: moderateActivityThreshold must be >= 0")
	}
	if c.MaxUserScaling < 1.0 {
		return fmt.Errorf("capacity: maxUserScaling must be >= 1.0")
	}
	if c.MinUserReserved < 0 {
		return fmt.Errorf("capacity: minUserReserved must be >= 0")
	}
	return nil
}

// Allocation is the per-priority capacity split returned by Calculate.
type Allocation struct {
	UserReserved    int
	BackgroundMax   int
	BackgroundPaused bool
	Reason          string
}

// DetectTrend splits the in-window user timestamps into two contiguous
// halves at the midpoint of their time span and compares the request count
// of each half.
func DetectTrend(userTimestamps []int64, nowMs int64, windowMs int64) Trend {
	inWindow := inWindowCount(userTimestamps, nowMs, windowMs)
	if len(inWindow) == 0 {
		return TrendNone
	}
	start, end := inWindow[0], inWindow[len(inWindow)-1]
	if end <= start {
		// a single request, or all at one instant: no spread to compare
		return TrendStable
	}
	mid := start + (end-start)/2
	first := 0
	for _, ts := range inWindow {
		if ts <= mid {
			first++
		}
	}
	second := len(inWindow) - first
	if float64(second) > float64(first)*1.25 {
		return TrendIncreasing
	}
	if float64(second) < float64(first)*0.75 {
		return TrendDecreasing
	}
	return TrendStable
}

func inWindowCount(timestamps []int64, nowMs, windowMs int64) []int64 {
	cutoff := nowMs - windowMs
	var in []int64
	for _, ts := range timestamps {
		if ts >= cutoff && ts <= nowMs {
			in = append(in, ts)
		}
	}
	return in
}

// Calculate computes the capacity allocation for a resource given its total
// limit, current activity metrics, and configuration, evaluated at nowMs.
func Calculate(totalLimit int, m Metrics, cfg Config, nowMs int64) Allocation {
	recentUser := inWindowCount(m.UserTimestamps, nowMs, cfg.MonitoringWindowMs)
	recentBackground := inWindowCount(m.BackgroundTimestamps, nowMs, cfg.MonitoringWindowMs)
	trend := DetectTrend(m.UserTimestamps, nowMs, cfg.MonitoringWindowMs)

	var sustainedInactivity int64
	if len(recentUser) == 0 && len(m.UserTimestamps) > 0 {
		lastUser := m.UserTimestamps[len(m.UserTimestamps)-1]
		sustainedInactivity = nowMs - lastUser
	}

	switch {
	case sustainedInactivity >= cfg.SustainedInactivityThresholdMs && cfg.SustainedInactivityThresholdMs > 0:
		return Allocation{
			UserReserved:  0,
			BackgroundMax: totalLimit,
			Reason:        "sustained-inactivity",
		}

	case len(recentUser) == 0 && len(m.UserTimestamps) > 0:
		return Allocation{
			UserReserved:  cfg.MinUserReserved,
			BackgroundMax: totalLimit - cfg.MinUserReserved,
			Reason:        "recent-zero-not-sustained",
		}

	case len(m.UserTimestamps) == 0 && len(recentBackground) > 0:
		return Allocation{
			UserReserved:  cfg.MinUserReserved,
			BackgroundMax: totalLimit - cfg.MinUserReserved,
			Reason:        "no-user-activity-yet",
		}

	case len(recentUser) >= cfg.HighActivityThreshold:
		userReserved := minInt(totalLimit, int(math.Floor(float64(totalLimit)*cfg.MaxUserScaling*0.7)))
		alloc := Allocation{
			UserReserved:  userReserved,
			BackgroundMax: totalLimit - userReserved,
			Reason:        "high-activity",
		}
		alloc.BackgroundPaused = cfg.BackgroundPauseOnIncreasingTrend && trend == TrendIncreasing
		return alloc

	case len(recentUser) >= cfg.ModerateActivityThreshold && cfg.ModerateActivityThreshold > 0:
		return moderateActivityAllocation(totalLimit, len(recentUser), trend, cfg)

	case len(recentUser) > 0:
		return Allocation{
			UserReserved:  cfg.MinUserReserved,
			BackgroundMax: totalLimit - cfg.MinUserReserved,
			Reason:        "low-activity",
		}

	default:
		userReserved := int(math.Floor(float64(totalLimit) * 0.3))
		return Allocation{
			UserReserved:  userReserved,
			BackgroundMax: totalLimit - userReserved,
			Reason:        "default-initial",
		}
	}
}

// moderateActivityAllocation scales the user reservation between ~40% and
// ~70% of totalLimit based on how far recentUser sits between the moderate
// and high thresholds, reduced further on a decreasing trend.
func moderateActivityAllocation(totalLimit, recentUser int, trend Trend, cfg Config) Allocation {
	const lowFrac, highFrac = 0.4, 0.7

	span := cfg.HighActivityThreshold - cfg.ModerateActivityThreshold
	progress := 1.0
	if span > 0 {
		progress = float64(recentUser-cfg.ModerateActivityThreshold) / float64(span)
		progress = clamp01(progress)
	}
	frac := lowFrac + (highFrac-lowFrac)*progress

	if trend == TrendDecreasing {
		frac *= 0.85
	}

	userReserved := int(math.Floor(float64(totalLimit) * frac))
	if userReserved < cfg.MinUserReserved {
		userReserved = cfg.MinUserReserved
	}
	if userReserved > totalLimit {
		userReserved = totalLimit
	}

	return Allocation{
		UserReserved:  userReserved,
		BackgroundMax: totalLimit - userReserved,
		Reason:        "moderate-activity",
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
