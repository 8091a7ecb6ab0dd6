package campaign

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"bugbane/config"
	"bugbane/internal/fuzz"
	"bugbane/internal/stopcond"
	"bugbane/internal/types"
)

func testOrchestrator(t *testing.T, plan *fuzz.Plan) *Orchestrator {
	t.Helper()
	suite := t.TempDir()
	if err := os.WriteFile(filepath.Join(suite, config.SuiteVarsFileName),
		[]byte("fuzzer_type: AFL++\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return &Orchestrator{
		logger: zap.NewNop(),
		cfg:    &config.AppConfig{SuiteDir: suite},
		plan:   plan,
	}
}

func TestWriteCmdsFile(t *testing.T) {
	plan := &fuzz.Plan{
		Commands: []fuzz.Command{
			{Name: "basic1", Line: "afl-fuzz -i in -o out -M basic1 -- ./app"},
			{Name: "asan1", Line: "afl-fuzz -i in -o out -S asan1 -- ./asan_app"},
		},
		StatsCommand: "watch -t -n 5 afl-whatsup -s out",
	}
	o := testOrchestrator(t, plan)

	if err := o.writeCmdsFile(plan); err != nil {
		t.Fatalf("writeCmdsFile: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(o.cfg.SuiteDir, CmdsFileName))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("cmds lines = %d, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "-M basic1") {
		t.Errorf("first line = %q", lines[0])
	}
}

func TestWriteBackRecordsCampaignOutcome(t *testing.T) {
	plan := &fuzz.Plan{
		ReproduceSpec: types.ReproduceSpec{"/suite/basic/app": {"basic1"}},
	}
	o := testOrchestrator(t, plan)

	cond := stopcond.Condition{Kind: stopcond.RealRunTime, Duration: 600 * time.Second}
	if err := o.writeBack(cond, 613*time.Second); err != nil {
		t.Fatalf("writeBack: %v", err)
	}

	vars, err := config.LoadSuiteVars(o.cfg.SuiteDir)
	if err != nil {
		t.Fatal(err)
	}
	if vars.StopConditions["real_run_time"] != 600 {
		t.Errorf("StopConditions = %v", vars.StopConditions)
	}
	if vars.FuzzTimeRealSeconds != 613 {
		t.Errorf("FuzzTimeRealSeconds = %d", vars.FuzzTimeRealSeconds)
	}
	if got := vars.ReproduceSpecs["/suite/basic/app"]; len(got) != 1 || got[0] != "basic1" {
		t.Errorf("ReproduceSpecs = %v", vars.ReproduceSpecs)
	}
	// fields the campaign does not own survive the write-back
	if vars.FuzzerType != "AFL++" {
		t.Errorf("FuzzerType = %q", vars.FuzzerType)
	}
}

func TestStateString(t *testing.T) {
	order := []State{Idle, Launching, Running, Stopping, Captured, Terminated}
	want := []string{"idle", "launching", "running", "stopping", "captured", "terminated"}
	for i, s := range order {
		if s.String() != want[i] {
			t.Errorf("State(%d).String() = %q, want %q", i, s, want[i])
		}
	}
}
