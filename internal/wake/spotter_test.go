package wake

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/voiced/internal/apperr"
)

func writeKeyword(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("ppn"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestResolveKeyword(t *testing.T) {
	dir := t.TempDir()
	writeKeyword(t, dir, "notes.txt")
	writeKeyword(t, dir, "zeta.ppn")
	want := writeKeyword(t, dir, "hey-vim_en.PPN")

	got, err := ResolveKeyword(KeywordConfig{Dir: dir})
	if err != nil {
		t.Fatalf("ResolveKeyword() error = %v", err)
	}
	if got != want {
		t.Fatalf("ResolveKeyword() = %q, want %q", got, want)
	}

	explicit := writeKeyword(t, t.TempDir(), "custom.ppn")
	if got, _ := ResolveKeyword(KeywordConfig{Path: explicit, Dir: dir}); got != explicit {
		t.Fatalf("ResolveKeyword() = %q, want explicit path %q", got, explicit)
	}
	if _, err := ResolveKeyword(KeywordConfig{Dir: t.TempDir()}); err == nil {
		t.Fatalf("ResolveKeyword(empty dir) error = nil, want error")
	}
	if _, err := ResolveKeyword(KeywordConfig{}); err == nil {
		t.Fatalf("ResolveKeyword(unset) error = nil, want error")
	}
}

func TestOpenExecEngineProbes(t *testing.T) {
	kw := KeywordConfig{Path: writeKeyword(t, t.TempDir(), "hey.ppn")}
	cases := map[string]struct {
		command string
		kw      KeywordConfig
		key     string
	}{
		"no command":     {"", kw, "key"},
		"no access key":  {"sh", kw, ""},
		"no keyword":     {"sh", KeywordConfig{Dir: t.TempDir()}, "key"},
		"missing binary": {"definitely-not-a-spotter-binary", kw, "key"},
	}
	for name, tc := range cases {
		_, err := OpenExecEngine(tc.command, tc.kw, tc.key, 0.5)
		if !apperr.IsKind(err, apperr.KindDependencyMissing) {
			t.Fatalf("%s: OpenExecEngine() error = %v, want dependency_missing", name, err)
		}
	}
	if _, err := OpenExecEngine("sh", kw, "key", 1.5); !apperr.IsKind(err, apperr.KindInvalidInput) {
		t.Fatalf("OpenExecEngine(sensitivity 1.5) error = %v, want invalid_input", err)
	}
}

func TestExecEngineReportsSpotterLines(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	kw := KeywordConfig{Path: writeKeyword(t, t.TempDir(), "hey-vim.ppn")}
	// Reads one frame, then prints a hit only when the key arrived through the environment.
	script := `sh -c 'head -c 1024 >/dev/null; test "$PICOVOICE_ACCESS_KEY" = k1 && echo detected; cat >/dev/null'`
	e, err := OpenExecEngine(script, kw, "k1", 0.5)
	if err != nil {
		t.Fatalf("OpenExecEngine() error = %v", err)
	}
	defer e.Close()
	if e.FrameLength() != 512 || e.Keyword() != "hey-vim" {
		t.Fatalf("FrameLength() = %d Keyword() = %q", e.FrameLength(), e.Keyword())
	}

	frame := make([]int16, e.FrameLength())
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		det, ok, err := e.Process(context.Background(), frame)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if ok {
			if det.Keyword != "hey-vim" || det.Text != "detected" {
				t.Fatalf("detection = %+v", det)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no detection within deadline")
}

func TestExecEngineRestartsExitedSpotter(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	kw := KeywordConfig{Path: writeKeyword(t, t.TempDir(), "hey-vim.ppn")}
	// Each run reads one frame, reports a hit and exits.
	e, err := OpenExecEngine(`sh -c 'head -c 1024 >/dev/null; echo detected'`, kw, "k1", 0.5)
	if err != nil {
		t.Fatalf("OpenExecEngine() error = %v", err)
	}

	frame := make([]int16, e.FrameLength())
	hits, exits := 0, 0
	deadline := time.Now().Add(5 * time.Second)
	for hits < 2 && time.Now().Before(deadline) {
		_, ok, err := e.Process(context.Background(), frame)
		switch {
		case errors.Is(err, errSpotterExited):
			exits++
		case ok:
			hits++
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hits < 2 || exits < 1 {
		t.Fatalf("hits = %d exits = %d, want detections across a restart", hits, exits)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, _, err := e.Process(context.Background(), frame); !errors.Is(err, errSpotterClosed) {
		t.Fatalf("Process() after Close error = %v, want %v", err, errSpotterClosed)
	}
}
