// Package cores assigns the campaign's CPU core budget to discovered build
// variants under a fixed priority policy: sanitizer builds first, one core
// each, then a configured share for the instrumentation helpers, then
// everything that remains for the basic build.
package cores

import (
	"errors"
	"fmt"
	"runtime"

	"bugbane/internal/build"
	"bugbane/internal/types"
)

// ErrNoCoreForBasicBuild means sanitizer builds consumed the whole budget
// and the sanitizer-free build cannot run. The campaign must not start.
var ErrNoCoreForBasicBuild = errors.New("no cpu core left for the basic build")

// Allocation maps each build kind to the core indices assigned to it.
// Core indices are affinity hints, not an enforced partition.
type Allocation map[types.BuildKind][]int

// Total returns the number of cores the allocation consumes.
func (a Allocation) Total() int {
	n := 0
	for _, cores := range a {
		n += len(cores)
	}
	return n
}

// UsableCores limits the core budget by, in order: the developer-provided
// fuzz_cores value, the operator --max-cpus cap, and the hardware.
func UsableCores(fuzzCores, maxCPUs int) int {
	usable := fuzzCores
	if maxCPUs < usable {
		usable = maxCPUs
	}
	if n := runtime.NumCPU(); n < usable {
		usable = n
	}
	if usable < 1 {
		usable = 1
	}
	return usable
}

// Allocate distributes total cores over the discovered builds.
//
//  1. Each present sanitizer build, in fixed priority order, takes one core
//     while cores remain.
//  2. laf and cmplog each take auxShare percent of the remaining cores,
//     rounded down.
//  3. The basic build takes all remaining cores and must get at least one.
//
// Coverage and go-fuzz archive builds are never allocated. The sum of
// assigned cores never exceeds total.
func Allocate(total int, manifest *build.Manifest, auxShare int) (Allocation, error) {
	if total < 1 {
		return nil, fmt.Errorf("cores: total must be positive, got %d", total)
	}
	if auxShare < 0 || auxShare > 100 {
		return nil, fmt.Errorf("cores: aux share must be a percentage, got %d", auxShare)
	}
	if _, ok := manifest.Get(types.BuildBasic); !ok {
		return nil, fmt.Errorf("cores: %w: %s", build.ErrBuildNotFound, types.BuildBasic)
	}

	alloc := make(Allocation)
	next := 0 // next unassigned core index
	remaining := total

	take := func(kind types.BuildKind, n int) {
		for i := 0; i < n; i++ {
			alloc[kind] = append(alloc[kind], next)
			next++
			remaining--
		}
	}

	for _, kind := range types.SanitizerBuildKinds {
		if remaining == 0 {
			break
		}
		if _, ok := manifest.Get(kind); ok {
			take(kind, 1)
		}
	}

	if remaining == 0 {
		return nil, fmt.Errorf("%w: %d cores all claimed by sanitizer builds", ErrNoCoreForBasicBuild, total)
	}

	for _, kind := range types.AuxiliaryBuildKinds {
		if _, ok := manifest.Get(kind); !ok {
			continue
		}
		n := remaining * auxShare / 100
		if n > 0 {
			take(kind, n)
		}
	}

	if remaining < 1 {
		return nil, fmt.Errorf("%w: nothing left after auxiliary builds", ErrNoCoreForBasicBuild)
	}
	take(types.BuildBasic, remaining)

	return alloc, nil
}
