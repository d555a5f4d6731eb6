// Package assets resolves the files scripts may reference. Every path
// is relative to a single root; absolute paths and paths that climb out
// of the root are rejected before the filesystem is touched.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEscapes    = errors.New("asset path escapes the asset root")
	ErrNotAllowed = errors.New("asset path is not allowed")
	ErrNotFound   = errors.New("asset not found")
	ErrWrongKind  = errors.New("asset has the wrong media type")
)

// Asset is a resolved file under the root.
type Asset struct {
	Rel  string `json:"path"`
	Path string `json:"-"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// Resolver maps script-supplied paths onto files under Root.
type Resolver struct {
	root  string
	allow []string

	mu    sync.RWMutex
	cache map[string]Asset
}

// New creates a resolver. allow holds doublestar patterns matched
// against slash-separated relative paths; empty allows everything.
func New(root string, allow []string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset root: %w", err)
	}
	for _, pattern := range allow {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid asset pattern %q", pattern)
		}
	}
	return &Resolver{root: abs, allow: allow, cache: make(map[string]Asset)}, nil
}

// Root returns the absolute asset root.
func (r *Resolver) Root() string {
	return r.root
}

// clean validates a script path and returns its slash form relative to
// the root.
func (r *Resolver) clean(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrEscapes, p)
	}
	slashed := filepath.ToSlash(p)
	if path.IsAbs(slashed) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapes, p)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrEscapes, p)
		}
	}
	rel := path.Clean(slashed)
	if rel == "." {
		return "", fmt.Errorf("%w: %q", ErrNotFound, p)
	}
	return rel, nil
}

func (r *Resolver) allowed(rel string) bool {
	if len(r.allow) == 0 {
		return true
	}
	for _, pattern := range r.allow {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Resolve validates p and detects the media type of the file it names.
func (r *Resolver) Resolve(p string) (Asset, error) {
	rel, err := r.clean(p)
	if err != nil {
		return Asset{}, err
	}
	if !r.allowed(rel) {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotAllowed, rel)
	}

	r.mu.RLock()
	a, ok := r.cache[rel]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	full := filepath.Join(r.root, filepath.FromSlash(rel))
	// A symlink inside the root may still point outside it.
	if target, err := filepath.EvalSymlinks(full); err == nil {
		realRoot, rootErr := filepath.EvalSymlinks(r.root)
		if rootErr == nil && !within(realRoot, target) {
			return Asset{}, fmt.Errorf("%w: %s", ErrEscapes, rel)
		}
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	mtype, err := mimetype.DetectFile(full)
	if err != nil {
		return Asset{}, fmt.Errorf("mime detection failed for %s: %w", rel, err)
	}

	a = Asset{Rel: rel, Path: full, MIME: mtype.String(), Size: info.Size()}
	r.mu.Lock()
	r.cache[rel] = a
	r.mu.Unlock()
	return a, nil
}

// ResolveKind is Resolve plus a check that the media type starts with
// prefix, such as "image/" or "audio/".
func (r *Resolver) ResolveKind(p, prefix string) (Asset, error) {
	a, err := r.Resolve(p)
	if err != nil {
		return Asset{}, err
	}
	if !strings.HasPrefix(a.MIME, prefix) {
		return Asset{}, fmt.Errorf("%w: %s is %s, want %s*", ErrWrongKind, a.Rel, a.MIME, prefix)
	}
	return a, nil
}

// Index walks the root and returns every allowed asset, sorted by path.
func (r *Resolver) Index(ctx context.Context) ([]Asset, error) {
	var (
		mu   sync.Mutex
		rels []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, r.root, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(r.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !r.allowed(rel) {
			return nil
		}
		mu.Lock()
		rels = append(rels, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("asset index failed: %w", err)
	}

	sort.Strings(rels)
	out := make([]Asset, 0, len(rels))
	for _, rel := range rels {
		a, err := r.Resolve(rel)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
