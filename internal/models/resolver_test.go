package models

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/okhotin/lingod/internal/ollama"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_FileAndDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "opus-mt-en-de.gguf"))
	if err := os.Mkdir(filepath.Join(dir, "nllb-200"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(dir)
	ctx := context.Background()

	m, err := r.Resolve(ctx, "opus-mt-en-de")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Path != filepath.Join(dir, "opus-mt-en-de.gguf") {
		t.Errorf("path = %q", m.Path)
	}

	if _, err := r.Resolve(ctx, "nllb-200"); err != nil {
		t.Errorf("Resolve(dir model): %v", err)
	}
}

func TestResolve_Unavailable(t *testing.T) {
	r := NewResolver(t.TempDir())
	_, err := r.Resolve(context.Background(), "missing-model")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}

	_, err = r.Resolve(context.Background(), "  ")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("empty name err = %v, want ErrModelUnavailable", err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.gguf"))
	writeFile(t, filepath.Join(dir, ".hidden"))
	if err := os.Mkdir(filepath.Join(dir, "b"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(dir)
	names, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v, want [a b]", names)
	}
}

type mockRemote struct {
	models map[string]bool
	pulled []string
	fail   bool
}

func (m *mockRemote) HasModel(_ context.Context, name string) bool { return m.models[name] }

func (m *mockRemote) PullModel(_ context.Context, name string, onProgress func(ollama.PullProgress)) error {
	if m.fail {
		return errors.New("no such model")
	}
	m.pulled = append(m.pulled, name)
	if onProgress != nil {
		onProgress(ollama.PullProgress{Status: "success", Total: 10, Completed: 10})
	}
	return nil
}

func TestEnsureRemote_Present(t *testing.T) {
	m := &mockRemote{models: map[string]bool{"gemma2": true}}
	if err := EnsureRemote(context.Background(), m, "gemma2", io.Discard); err != nil {
		t.Fatalf("EnsureRemote: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("pulled = %v, want none", m.pulled)
	}
}

func TestEnsureRemote_PullsMissing(t *testing.T) {
	m := &mockRemote{models: map[string]bool{}}
	if err := EnsureRemote(context.Background(), m, "gemma2", io.Discard); err != nil {
		t.Fatalf("EnsureRemote: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "gemma2" {
		t.Errorf("pulled = %v, want [gemma2]", m.pulled)
	}
}

func TestEnsureRemote_PullFailure(t *testing.T) {
	m := &mockRemote{models: map[string]bool{}, fail: true}
	err := EnsureRemote(context.Background(), m, "gemma2", io.Discard)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}
}
