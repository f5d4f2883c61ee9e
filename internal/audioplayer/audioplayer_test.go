package audioplayer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPlayOrFallback_WritesFallbackWhenNoPlayerAvailable(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback.wav")

	p, err := New(filepath.Join(dir, "out"), fallback)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := p.PlayOrFallback([]byte("riff-fake"))
	if err != nil {
		t.Fatalf("PlayOrFallback: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result path: %v", err)
	}
	if string(data) != "riff-fake" {
		t.Fatalf("unexpected wav contents: %q", data)
	}
}

func TestNew_CreatesOutputDir(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "nested", "audio")
	if _, err := New(outDir, filepath.Join(dir, "fallback.wav")); err != nil {
		t.Fatalf("New: %v", err)
	}
	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		t.Fatalf("expected output_dir to exist: %v", err)
	}
}
