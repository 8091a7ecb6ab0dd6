package fuzz

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"bugbane/internal/cores"
	"bugbane/internal/types"
)

func goTestEngine() *GoFuzzEngine {
	return &GoFuzzEngine{logger: zap.NewNop()}
}

func TestGoFuzzGenerateSingleCoordinator(t *testing.T) {
	manifest := aflTestManifest(types.BuildBasic, types.BuildGoFuzz)
	plan, err := goTestEngine().Generate(GenParams{
		Manifest:   manifest,
		Allocation: cores.Allocation{types.BuildBasic: {0, 1, 2, 3}},
		TotalCores: 4,
		SyncDir:    "/suite/out",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(plan.Commands) != 1 {
		t.Fatalf("commands = %d, want a single coordinator", len(plan.Commands))
	}
	cmd := plan.Commands[0]
	if !cmd.Primary {
		t.Error("the coordinator is the primary instance")
	}
	for _, want := range []string{"-bin=/suite/gofuzz/app", "-procs=4", "-workdir=/suite/out"} {
		if !strings.Contains(cmd.Line, want) {
			t.Errorf("command lacks %q: %s", want, cmd.Line)
		}
	}

	// crashers replay against the sanitizer-free binary when one exists
	if got := plan.ReproduceSpec["/suite/basic/app"]; len(got) != 1 || got[0] != "crashers" {
		t.Errorf("ReproduceSpec = %v", plan.ReproduceSpec)
	}
}

func TestGoFuzzLoadStats(t *testing.T) {
	syncDir := t.TempDir()
	log := `2023/01/02 15:04:01 workers: 8, corpus: 50 (10s ago), crashers: 0, restarts: 1/9132, execs: 10000 (2280/sec), cover: 1000, uptime: 10s
2023/01/02 15:04:05 workers: 8, corpus: 102 (3s ago), crashers: 2, restarts: 1/9132, execs: 45661 (2280/sec), cover: 1234, uptime: 20s
`
	os.WriteFile(filepath.Join(syncDir, GoFuzzLogName), []byte(log), 0644)

	out, err := goTestEngine().LoadStats(syncDir)
	if err != nil {
		t.Fatalf("LoadStats: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("instances = %d, want 1", len(out))
	}
	in := out[0]
	if in.Paths != 102 || in.Crashes != 2 || in.Execs != 45661 {
		t.Errorf("stats = %+v, want the last log line", in)
	}
	if age := time.Since(in.LastPathTime); age < 2*time.Second || age > time.Minute {
		t.Errorf("LastPathTime age = %v, want about 3s", age)
	}
}
