package dict

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestMergeToFileDeduplicates(t *testing.T) {
	dir := t.TempDir()
	d1 := filepath.Join(dir, "a.dict")
	d2 := filepath.Join(dir, "b.dict")
	os.WriteFile(d1, []byte("# http tokens\n\"GET\"\n\"POST\"\n\n"), 0644)
	os.WriteFile(d2, []byte("\"POST\"\n\"PUT\"\n"), 0644)

	out := filepath.Join(dir, "merged.dict")
	path, err := NewMerger(zap.NewNop()).MergeToFile([]string{d1, d2}, out)
	if err != nil {
		t.Fatalf("MergeToFile: %v", err)
	}
	if path != out {
		t.Fatalf("path = %q, want %q", path, out)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("merged entries = %v, want 3", lines)
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "#") || l == "" {
			t.Errorf("comment or blank survived the merge: %q", l)
		}
	}
}

func TestMergeToFileNoDictionaries(t *testing.T) {
	path, err := NewMerger(zap.NewNop()).MergeToFile(nil, filepath.Join(t.TempDir(), "merged.dict"))
	if err != nil {
		t.Fatalf("MergeToFile: %v", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty for no dictionaries", path)
	}
}
