// Package models resolves model identifiers against local storage and
// provisions missing models on a remote server.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/okhotin/lingod/internal/ollama"
)

// ErrModelUnavailable means the requested model could not be resolved.
var ErrModelUnavailable = errors.New("models: model unavailable")

// Model is a resolved local model.
type Model struct {
	Name string
	Path string
}

// Resolver locates model weights in a local models directory. A model
// named "m" resolves to dir/m, dir/m.gguf, or dir/m.onnx, whichever
// exists first.
type Resolver struct {
	dir string
}

// NewResolver returns a Resolver scanning dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the local model for name, or ErrModelUnavailable.
func (r *Resolver) Resolve(_ context.Context, name string) (Model, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Model{}, fmt.Errorf("%w: empty model name", ErrModelUnavailable)
	}

	candidates := []string{
		filepath.Join(r.dir, name),
		filepath.Join(r.dir, name+".gguf"),
		filepath.Join(r.dir, name+".onnx"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return Model{Name: name, Path: p}, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s not found in %s", ErrModelUnavailable, name, r.dir)
}

// List returns the names of all models present in the directory,
// extensions stripped.
func (r *Resolver) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading models dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !e.IsDir() {
			name = strings.TrimSuffix(strings.TrimSuffix(name, ".gguf"), ".onnx")
		}
		names = append(names, name)
	}
	return names, nil
}

// RemoteStore is the subset of the remote client used for provisioning.
type RemoteStore interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(ollama.PullProgress)) error
}

// EnsureRemote checks that the remote server has the model and pulls it
// when missing, writing progress to w. Unreachable servers and failed
// pulls are wrapped in ErrModelUnavailable so callers can fail fast.
func EnsureRemote(ctx context.Context, store RemoteStore, name string, w io.Writer) error {
	if store.HasModel(ctx, name) {
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", name)
	err := store.PullModel(ctx, name, func(p ollama.PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: pulling %s: %v", ErrModelUnavailable, name, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", name)
	return nil
}
