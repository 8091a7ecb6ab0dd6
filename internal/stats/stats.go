// Package stats holds per-instance fuzzer statistics and their
// campaign-wide aggregation. Engines load instance stats from their own
// on-disk formats; the orchestrator only sees the merged view.
package stats

import (
	"fmt"
	"time"
)

// InstanceStats is one fuzzer instance's view of its own progress, as read
// from the sync directory on a polling tick.
type InstanceStats struct {
	Name         string    // instance (sync subdirectory) name
	Execs        int64     // total executions
	Paths        int64     // discovered paths / corpus entries
	Crashes      int64     // unique crashes recorded by the fuzzer
	Hangs        int64     // unique hangs recorded by the fuzzer
	LastPathTime time.Time // when the most recent new path was found
}

// Aggregate is the campaign-wide merge of all instance stats.
type Aggregate struct {
	Instances int
	Execs     int64
	Paths     int64
	Crashes   int64
	Hangs     int64

	// NewestFind is the most recent new-path time across instances,
	// OldestFind the stalest. Zero when no instance reported a find yet.
	NewestFind time.Time
	OldestFind time.Time
}

// Merge folds instance stats into a single campaign aggregate.
func Merge(instances []InstanceStats) Aggregate {
	var agg Aggregate
	for _, in := range instances {
		agg.Instances++
		agg.Execs += in.Execs
		agg.Paths += in.Paths
		agg.Crashes += in.Crashes
		agg.Hangs += in.Hangs
		if in.LastPathTime.IsZero() {
			continue
		}
		if agg.NewestFind.IsZero() || in.LastPathTime.After(agg.NewestFind) {
			agg.NewestFind = in.LastPathTime
		}
		if agg.OldestFind.IsZero() || in.LastPathTime.Before(agg.OldestFind) {
			agg.OldestFind = in.LastPathTime
		}
	}
	return agg
}

// TimeSinceLastFind is how long ago any instance last found a new path.
func (a Aggregate) TimeSinceLastFind(now time.Time) time.Duration {
	if a.NewestFind.IsZero() {
		return 0
	}
	return now.Sub(a.NewestFind)
}

// MaxTimeWithoutFinds is the largest per-instance no-new-path age: how long
// the stalest instance has gone without progress. The plateau stop
// condition triggers on this value.
func (a Aggregate) MaxTimeWithoutFinds(now time.Time) time.Duration {
	if a.OldestFind.IsZero() {
		return 0
	}
	return now.Sub(a.OldestFind)
}

// String renders a one-line progress summary for the campaign log.
func (a Aggregate) String() string {
	return fmt.Sprintf("instances: %d, execs: %d, paths: %d, crashes: %d, hangs: %d",
		a.Instances, a.Execs, a.Paths, a.Crashes, a.Hangs)
}

// FormatHMS renders a duration as H:MM:SS for progress lines.
func FormatHMS(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
}
