package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeSample(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func testSyncer(t *testing.T) *Syncer {
	t.Helper()
	return &Syncer{logger: zap.NewNop()}
}

func TestTransferNamesFilesByContentHash(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	writeSample(t, src, "sample1", "abc")

	s := testSyncer(t)
	transferred, skipped := s.transferDedup(src, staging, staging, false)
	if transferred != 1 || skipped != 0 {
		t.Fatalf("transferred=%d skipped=%d", transferred, skipped)
	}

	// md5("abc")
	want := filepath.Join(staging, "900150983cd24fb0d6963f7d28e17f72")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected %s: %v", want, err)
	}
}

func TestTransferSkipsDuplicateContent(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	writeSample(t, src, "a", "same bytes")
	writeSample(t, src, "b", "same bytes")
	writeSample(t, src, "c", "other bytes")

	s := testSyncer(t)
	transferred, skipped := s.transferDedup(src, staging, staging, false)
	if transferred != 2 || skipped != 1 {
		t.Fatalf("transferred=%d skipped=%d, want 2/1", transferred, skipped)
	}
	if got := countFiles(t, staging); got != 2 {
		t.Fatalf("staging holds %d files, want 2", got)
	}
}

func TestTransferIsIdempotent(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	writeSample(t, src, "a", "payload one")
	writeSample(t, src, "b", "payload two")

	s := testSyncer(t)
	s.transferDedup(src, staging, staging, false)
	transferred, skipped := s.transferDedup(src, staging, staging, false)
	if transferred != 0 || skipped != 2 {
		t.Fatalf("second pass transferred=%d skipped=%d, want 0/2", transferred, skipped)
	}
	if got := countFiles(t, staging); got != 2 {
		t.Fatalf("staging holds %d files, want 2", got)
	}
}

func TestTransferMoveRemovesSources(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	writeSample(t, src, "a", "moved")
	writeSample(t, src, "b", "moved") // duplicate content, also consumed

	s := testSyncer(t)
	s.transferDedup(src, staging, staging, true)
	if got := countFiles(t, src); got != 0 {
		t.Fatalf("source holds %d files after move, want 0", got)
	}
	if got := countFiles(t, staging); got != 1 {
		t.Fatalf("staging holds %d files, want 1", got)
	}
}

func TestTransferSkipsBookkeepingFiles(t *testing.T) {
	src := t.TempDir()
	staging := t.TempDir()
	writeSample(t, src, "README.txt", "afl readme")
	writeSample(t, src, ".state", "internal")
	writeSample(t, src, "real", "a real sample")

	s := testSyncer(t)
	transferred, _ := s.transferDedup(src, staging, staging, false)
	if transferred != 1 {
		t.Fatalf("transferred=%d, want 1", transferred)
	}
}

func TestTransferUnreadableSourceIsNotFatal(t *testing.T) {
	s := testSyncer(t)
	transferred, skipped := s.transferDedup(filepath.Join(t.TempDir(), "missing"), t.TempDir(), t.TempDir(), false)
	if transferred != 0 || skipped != 0 {
		t.Fatalf("transferred=%d skipped=%d, want 0/0", transferred, skipped)
	}
}

func TestEnsureInitialCorpus(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "in")
	if err := EnsureInitialCorpus(dir); err != nil {
		t.Fatalf("EnsureInitialCorpus: %v", err)
	}
	if got := countFiles(t, dir); got != 1 {
		t.Fatalf("input dir holds %d files, want 1 seed", got)
	}

	// an existing corpus is left alone
	if err := EnsureInitialCorpus(dir); err != nil {
		t.Fatal(err)
	}
	if got := countFiles(t, dir); got != 1 {
		t.Fatalf("input dir holds %d files after second call, want 1", got)
	}
}
