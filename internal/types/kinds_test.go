package types

import "testing"

func TestParseFuzzerKind(t *testing.T) {
	good := map[string]FuzzerKind{
		"AFL++":     FuzzerAFL,
		"libFuzzer": FuzzerLibFuzzer,
		"go-fuzz":   FuzzerGoFuzz,
	}
	for in, want := range good {
		got, err := ParseFuzzerKind(in)
		if err != nil || got != want {
			t.Errorf("ParseFuzzerKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFuzzerKind("honggfuzz"); err == nil {
		t.Error("unknown fuzzer kind must fail")
	}
}

func TestParseCoverageKind(t *testing.T) {
	for _, in := range []string{"lcov", "lcov-llvm", "go-tool-cover"} {
		if _, err := ParseCoverageKind(in); err != nil {
			t.Errorf("ParseCoverageKind(%q): %v", in, err)
		}
	}
	if _, err := ParseCoverageKind("gcov"); err == nil {
		t.Error("unknown coverage kind must fail")
	}
}

func TestBuildKindPredicates(t *testing.T) {
	for _, k := range SanitizerBuildKinds {
		if !k.IsSanitizer() {
			t.Errorf("%s must be a sanitizer", k)
		}
	}
	if BuildBasic.IsSanitizer() || BuildLAF.IsSanitizer() {
		t.Error("basic and laf are not sanitizers")
	}
	if BuildCoverage.IsFuzzable() || BuildGoFuzz.IsFuzzable() {
		t.Error("coverage and go-fuzz archive builds are not fuzzable")
	}
	if !BuildBasic.IsFuzzable() || !BuildASAN.IsFuzzable() {
		t.Error("basic and sanitizer builds are fuzzable")
	}
}
