// Package stopcond decides when a fuzzing campaign should end, based on
// environment-style signals with a fixed selection priority: an explicit
// no-new-path duration outranks a coarse assurance level, which outranks a
// raw wall-clock duration.
package stopcond

import (
	"fmt"
	"strconv"
	"time"

	"bugbane/internal/stats"
)

// Environment signals, highest priority first.
const (
	EnvCertFuzzDuration = "CERT_FUZZ_DURATION" // seconds without new paths
	EnvCertFuzzLevel    = "CERT_FUZZ_LEVEL"    // assurance level 2..4
	EnvFuzzDuration     = "FUZZ_DURATION"      // wall-clock seconds
)

// DefaultRunTime applies when no signal is present.
const DefaultRunTime = 600 * time.Second

// Kind tags the stop-condition variant.
type Kind int

const (
	// RealRunTime ends the campaign after a wall-clock duration.
	RealRunTime Kind = iota
	// TimeWithoutFinds ends the campaign once the largest per-instance
	// no-new-path age reaches the configured duration.
	TimeWithoutFinds
)

func (k Kind) String() string {
	if k == TimeWithoutFinds {
		return "time_without_finds"
	}
	return "real_run_time"
}

// Condition is the active stop condition of a campaign.
type Condition struct {
	Kind     Kind
	Duration time.Duration
}

func (c Condition) String() string {
	return fmt.Sprintf("%s = %d seconds", c.Kind, int(c.Duration.Seconds()))
}

// Assurance levels map to preset no-new-path durations: a stricter level
// demands a longer plateau before stopping.
var levelDurations = map[int]time.Duration{
	4: 2 * time.Hour,
	3: 4 * time.Hour,
	2: 8 * time.Hour,
}

// Detect selects the stop condition from environment signals. getenv
// abstracts os.Getenv for testability. An unparsable signal is an error,
// never a silent fallback.
func Detect(getenv func(string) string) (Condition, error) {
	if v := getenv(EnvCertFuzzDuration); v != "" {
		secs, err := parseSeconds(EnvCertFuzzDuration, v)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: TimeWithoutFinds, Duration: secs}, nil
	}

	if v := getenv(EnvCertFuzzLevel); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return Condition{}, fmt.Errorf("%s: not an integer: %q", EnvCertFuzzLevel, v)
		}
		d, ok := levelDurations[level]
		if !ok {
			return Condition{}, fmt.Errorf("%s: level must be 2, 3 or 4, got %d", EnvCertFuzzLevel, level)
		}
		return Condition{Kind: TimeWithoutFinds, Duration: d}, nil
	}

	if v := getenv(EnvFuzzDuration); v != "" {
		secs, err := parseSeconds(EnvFuzzDuration, v)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Kind: RealRunTime, Duration: secs}, nil
	}

	return Condition{Kind: RealRunTime, Duration: DefaultRunTime}, nil
}

// Met evaluates the condition against the aggregate stats of one polling
// tick. elapsed is the monitoring time since launch.
func (c Condition) Met(agg stats.Aggregate, elapsed time.Duration, now time.Time) bool {
	switch c.Kind {
	case TimeWithoutFinds:
		return agg.MaxTimeWithoutFinds(now) >= c.Duration
	default:
		return elapsed >= c.Duration
	}
}

func parseSeconds(name, v string) (time.Duration, error) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%s: must be a positive number of seconds, got %q", name, v)
	}
	return time.Duration(secs) * time.Second, nil
}
