package reproduce

import "testing"

const asanReport = `==12345==ERROR: AddressSanitizer: heap-buffer-overflow on address 0x602000000054
READ of size 4 at 0x602000000054 thread T0
    #0 0x4f1b2d in __asan_memcpy /llvm/compiler-rt/lib/asan/asan_interceptors_memintrinsics.cpp:22
    #1 0x52aa10 in parse_header /src/lib/header.c:42:9
    #2 0x52ab33 in LLVMFuzzerTestOneInput /src/fuzz/harness.c:17:5
SUMMARY: AddressSanitizer: heap-buffer-overflow /src/lib/header.c:42:9 in parse_header
`

const gdbReport = `Program received signal SIGSEGV, Segmentation fault.
0x000055555555a2f1 in parse_header (buf=0x7fffffffd0 "AB") at /src/lib/header.c:42
#0  0x000055555555a2f1 in parse_header (buf=0x7fffffffd0 "AB") at /src/lib/header.c:42
#1  0x000055555555b100 in main (argc=2) at /src/fuzz/main.c:30
`

func TestExtractSiteSkipsSanitizerFrames(t *testing.T) {
	site := extractSite(asanReport)
	if site.Function != "parse_header" || site.File != "/src/lib/header.c" || site.Line != 42 {
		t.Fatalf("site = %+v", site)
	}
}

func TestExtractSiteFromGdbBacktrace(t *testing.T) {
	site := extractSite(gdbReport)
	if site.Function != "parse_header" || site.Line != 42 {
		t.Fatalf("site = %+v", site)
	}
}

func TestExtractSiteNoFrames(t *testing.T) {
	if site := extractSite("Segmentation fault (core dumped)\n"); site.Resolved() {
		t.Fatalf("site = %+v, want unresolved", site)
	}
}

func TestLooksLikeCrash(t *testing.T) {
	if !looksLikeCrash(asanReport) {
		t.Error("sanitizer report must classify as crash")
	}
	if !looksLikeCrash("panic: runtime error: index out of range [3]\n\ngoroutine 1 [running]:\n") {
		t.Error("go panic must classify as crash")
	}
	if looksLikeCrash("all tests passed\n") {
		t.Error("clean output must not classify as crash")
	}
}

func TestExtractTitle(t *testing.T) {
	if got := extractTitle(asanReport, false); got != "AddressSanitizer: heap-buffer-overflow" {
		t.Errorf("title = %q", got)
	}
	if got := extractTitle("", true); got != "Hang: timeout exceeded" {
		t.Errorf("hang title = %q", got)
	}
	if got := extractTitle("panic: close of closed channel\n", false); got != "panic: close of closed channel" {
		t.Errorf("panic title = %q", got)
	}
}

func TestDedupKey(t *testing.T) {
	a := dedupKey(Site{"parse_header", "/src/lib/header.c", 42}, "title ignored")
	b := dedupKey(Site{"parse_header", "/src/lib/header.c", 42}, "another title")
	if a != b {
		t.Error("same site must produce the same key")
	}
	c := dedupKey(Site{"parse_header", "/src/lib/header.c", 43}, "")
	if a == c {
		t.Error("different line must produce a different key")
	}

	d := dedupKey(Site{}, "AddressSanitizer: SEGV on unknown address")
	e := dedupKey(Site{}, "addresssanitizer segv on unknown address")
	if d != e {
		t.Error("normalized titles must collide for unresolved sites")
	}
}
