package build

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"bugbane/internal/types"
)

func makeBuild(t *testing.T, suiteDir, kind string, executable bool) {
	t.Helper()
	dir := filepath.Join(suiteDir, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	if err := os.WriteFile(filepath.Join(dir, "app"), []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverClassifiesVariants(t *testing.T) {
	suite := t.TempDir()
	makeBuild(t, suite, "basic", true)
	makeBuild(t, suite, "asan", true)
	makeBuild(t, suite, "coverage", true)

	m, err := Discover(suite, zap.NewNop())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, kind := range []types.BuildKind{types.BuildBasic, types.BuildASAN, types.BuildCoverage} {
		v, ok := m.Get(kind)
		if !ok {
			t.Errorf("%s not discovered", kind)
			continue
		}
		if filepath.Base(v.BinaryPath) != "app" {
			t.Errorf("%s binary = %q", kind, v.BinaryPath)
		}
	}
	if _, ok := m.Get(types.BuildUBSAN); ok {
		t.Error("ubsan discovered without a directory")
	}
}

func TestDiscoverSkipsNonExecutable(t *testing.T) {
	suite := t.TempDir()
	makeBuild(t, suite, "basic", false)

	m, err := Discover(suite, zap.NewNop())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, ok := m.Get(types.BuildBasic); ok {
		t.Error("variant without an executable binary must be skipped")
	}
}

func TestDiscoverIgnoresUnknownDirectories(t *testing.T) {
	suite := t.TempDir()
	makeBuild(t, suite, "basic", true)
	makeBuild(t, suite, "screenshots", true)

	m, err := Discover(suite, zap.NewNop())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(m.Builds) != 1 {
		t.Fatalf("builds = %v, want only basic", m.Kinds())
	}
}

func TestDiscoverFindsDictionaries(t *testing.T) {
	suite := t.TempDir()
	makeBuild(t, suite, "basic", true)
	dictDir := filepath.Join(suite, DictionariesSubdir)
	if err := os.MkdirAll(dictDir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dictDir, "http.dict"), []byte("\"GET\"\n"), 0644)
	os.WriteFile(filepath.Join(dictDir, "notes.txt"), []byte("not a dict"), 0644)

	m, err := Discover(suite, zap.NewNop())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(m.Dictionaries) != 1 {
		t.Fatalf("dictionaries = %v, want the single .dict file", m.Dictionaries)
	}
}

func TestRequire(t *testing.T) {
	suite := t.TempDir()
	makeBuild(t, suite, "asan", true)

	m, err := Discover(suite, zap.NewNop())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := m.Require(types.BuildASAN); err != nil {
		t.Errorf("Require(asan): %v", err)
	}
	if _, err := m.Require(types.BuildBasic); !errors.Is(err, ErrBuildNotFound) {
		t.Errorf("Require(basic) = %v, want ErrBuildNotFound", err)
	}
}
