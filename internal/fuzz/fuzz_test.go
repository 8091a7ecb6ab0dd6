package fuzz

import (
	"testing"

	"go.uber.org/zap"

	"bugbane/internal/types"
)

func TestEnginesConstructWithoutFuzzerTools(t *testing.T) {
	// reproduction and corpus hosts carry only gdb and the targets; the
	// fuzzer binary is probed at campaign launch, not at construction
	set := NewEngineSet(EngineSetParams{
		Logger: zap.NewNop(),
		Engines: []Engine{
			NewAFLEngine(zap.NewNop()),
			NewLibFuzzerEngine(zap.NewNop()),
			NewGoFuzzEngine(zap.NewNop()),
		},
	})
	for _, kind := range []types.FuzzerKind{
		types.FuzzerAFL, types.FuzzerLibFuzzer, types.FuzzerGoFuzz,
	} {
		if _, err := set.ForKind(kind); err != nil {
			t.Errorf("ForKind(%v): %v", kind, err)
		}
	}
}

func TestEngineSetSkipsNilEngines(t *testing.T) {
	var missing *AFLEngine
	set := NewEngineSet(EngineSetParams{
		Logger:  zap.NewNop(),
		Engines: []Engine{missing, libTestEngine()},
	})

	if _, err := set.ForKind(types.FuzzerAFL); err == nil {
		t.Error("nil engine must not be registered")
	}
	engine, err := set.ForKind(types.FuzzerLibFuzzer)
	if err != nil {
		t.Fatalf("ForKind: %v", err)
	}
	if engine.Kind() != types.FuzzerLibFuzzer {
		t.Errorf("Kind = %v", engine.Kind())
	}
}

func TestEngineSetUnknownKind(t *testing.T) {
	set := NewEngineSet(EngineSetParams{Logger: zap.NewNop()})
	if _, err := set.ForKind(types.FuzzerGoFuzz); err == nil {
		t.Error("empty set must report unavailable engines")
	}
}
