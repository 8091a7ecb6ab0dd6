package stopcond

import (
	"testing"
	"time"

	"bugbane/internal/stats"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestDetectDefault(t *testing.T) {
	cond, err := Detect(fakeEnv(nil))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if cond.Kind != RealRunTime || cond.Duration != DefaultRunTime {
		t.Fatalf("got %v, want real_run_time %v", cond, DefaultRunTime)
	}
}

func TestDetectPriority(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		kind     Kind
		duration time.Duration
	}{
		{
			"duration signal outranks everything",
			map[string]string{
				EnvCertFuzzDuration: "1200",
				EnvCertFuzzLevel:    "4",
				EnvFuzzDuration:     "60",
			},
			TimeWithoutFinds, 1200 * time.Second,
		},
		{
			"level outranks wall clock",
			map[string]string{
				EnvCertFuzzLevel: "4",
				EnvFuzzDuration:  "60",
			},
			TimeWithoutFinds, 2 * time.Hour,
		},
		{
			"level 2 is the longest plateau",
			map[string]string{EnvCertFuzzLevel: "2"},
			TimeWithoutFinds, 8 * time.Hour,
		},
		{
			"wall clock alone",
			map[string]string{EnvFuzzDuration: "60"},
			RealRunTime, 60 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := Detect(fakeEnv(tt.env))
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if cond.Kind != tt.kind || cond.Duration != tt.duration {
				t.Fatalf("got %v, want kind=%v duration=%v", cond, tt.kind, tt.duration)
			}
		})
	}
}

func TestDetectRejectsBadSignals(t *testing.T) {
	bad := []map[string]string{
		{EnvCertFuzzDuration: "soon"},
		{EnvCertFuzzDuration: "-5"},
		{EnvCertFuzzLevel: "9"},
		{EnvCertFuzzLevel: "high"},
		{EnvFuzzDuration: "0"},
	}
	for _, env := range bad {
		if _, err := Detect(fakeEnv(env)); err == nil {
			t.Errorf("Detect(%v) succeeded, want error", env)
		}
	}
}

func TestRealRunTimeMet(t *testing.T) {
	cond := Condition{Kind: RealRunTime, Duration: 10 * time.Minute}
	var agg stats.Aggregate
	now := time.Now()
	if cond.Met(agg, 9*time.Minute, now) {
		t.Error("triggered before the threshold")
	}
	if !cond.Met(agg, 10*time.Minute, now) {
		t.Error("did not trigger at the threshold")
	}
}

func TestTimeWithoutFindsUsesOldestInstance(t *testing.T) {
	now := time.Now()
	agg := stats.Merge([]stats.InstanceStats{
		{Name: "fresh", LastPathTime: now.Add(-1 * time.Minute)},
		{Name: "stale", LastPathTime: now.Add(-20 * time.Minute)},
	})

	cond := Condition{Kind: TimeWithoutFinds, Duration: 15 * time.Minute}
	if !cond.Met(agg, time.Hour, now) {
		t.Error("the stalest instance is past the plateau, must trigger")
	}

	cond.Duration = 30 * time.Minute
	if cond.Met(agg, time.Hour, now) {
		t.Error("no instance is past the plateau, must not trigger")
	}
}
