package types

import (
	"fmt"
	"strings"
)

// FuzzerKind selects the fuzzing engine driving a campaign. The set is
// closed: dispatch over it is exhaustive, not pluggable.
type FuzzerKind string

const (
	FuzzerAFL       FuzzerKind = "AFL++"
	FuzzerLibFuzzer FuzzerKind = "libFuzzer"
	FuzzerGoFuzz    FuzzerKind = "go-fuzz"
)

// ParseFuzzerKind accepts the config spellings of the supported engines,
// case-insensitively.
func ParseFuzzerKind(s string) (FuzzerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "afl", "afl++", "aflplusplus", "aflpp":
		return FuzzerAFL, nil
	case "libfuzzer":
		return FuzzerLibFuzzer, nil
	case "go-fuzz", "gofuzz":
		return FuzzerGoFuzz, nil
	}
	return "", fmt.Errorf("unknown fuzzer_type %q", s)
}

// CoverageKind names the external coverage tool family used by the suite.
type CoverageKind string

const (
	CoverageLCOV        CoverageKind = "lcov"
	CoverageLCOVLLVM    CoverageKind = "lcov-llvm"
	CoverageGoToolCover CoverageKind = "go-tool-cover"
)

func ParseCoverageKind(s string) (CoverageKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lcov":
		return CoverageLCOV, nil
	case "lcov-llvm":
		return CoverageLCOVLLVM, nil
	case "go-tool-cover":
		return CoverageGoToolCover, nil
	}
	return "", fmt.Errorf("unknown coverage_type %q", s)
}

// BuildKind classifies one build-variant subdirectory of a fuzzing suite.
// The directory name is the kind name; only build discovery parses it.
type BuildKind string

const (
	BuildBasic    BuildKind = "basic"
	BuildASAN     BuildKind = "asan"
	BuildUBSAN    BuildKind = "ubsan"
	BuildCFISAN   BuildKind = "cfisan"
	BuildTSAN     BuildKind = "tsan"
	BuildLSAN     BuildKind = "lsan"
	BuildMSAN     BuildKind = "msan"
	BuildLAF      BuildKind = "laf"
	BuildCmplog   BuildKind = "cmplog"
	BuildCoverage BuildKind = "coverage"
	BuildGoFuzz   BuildKind = "gofuzz"
)

// SanitizerBuildKinds is the fixed core-allocation priority order for
// sanitizer builds.
var SanitizerBuildKinds = []BuildKind{
	BuildASAN, BuildUBSAN, BuildCFISAN, BuildTSAN, BuildLSAN, BuildMSAN,
}

// AuxiliaryBuildKinds are instrumentation helpers that share cores with the
// basic build instead of claiming one outright.
var AuxiliaryBuildKinds = []BuildKind{BuildLAF, BuildCmplog}

// AllBuildKinds lists every recognized build-variant directory name.
var AllBuildKinds = []BuildKind{
	BuildBasic, BuildASAN, BuildUBSAN, BuildCFISAN, BuildTSAN, BuildLSAN,
	BuildMSAN, BuildLAF, BuildCmplog, BuildCoverage, BuildGoFuzz,
}

// IsSanitizer reports whether the build carries sanitizer instrumentation.
func (k BuildKind) IsSanitizer() bool {
	for _, s := range SanitizerBuildKinds {
		if k == s {
			return true
		}
	}
	return false
}

// IsFuzzable reports whether instances of this build may be launched by the
// campaign orchestrator. Coverage builds only serve report generation and
// go-fuzz archives are driven by the go-fuzz engine itself.
func (k BuildKind) IsFuzzable() bool {
	return k != BuildCoverage && k != BuildGoFuzz
}
