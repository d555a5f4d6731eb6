package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	wavHeader = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00"), make([]byte, 24)...)
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func newTree(t *testing.T, allow ...string) *Resolver {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "img/logo.png", pngHeader)
	writeFile(t, root, "snd/beep.wav", wavHeader)
	writeFile(t, root, "notes.txt", []byte("hello\n"))
	writeFile(t, root, "secret/key.txt", []byte("hunter2\n"))

	r, err := New(root, allow)
	require.NoError(t, err)
	return r
}

func TestResolveDetectsMIME(t *testing.T) {
	r := newTree(t)

	a, err := r.Resolve("img/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.MIME)
	assert.Equal(t, "img/logo.png", a.Rel)
	assert.Equal(t, int64(len(pngHeader)), a.Size)

	a, err = r.ResolveKind("snd/beep.wav", "audio/")
	require.NoError(t, err)
	assert.Contains(t, a.MIME, "wav")

	_, err = r.ResolveKind("notes.txt", "audio/")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestResolveRejectsEscapes(t *testing.T) {
	r := newTree(t)

	for _, p := range []string{"../etc/passwd", "img/../../x", "/etc/passwd", "a/../../b"} {
		_, err := r.Resolve(p)
		assert.ErrorIs(t, err, ErrEscapes, p)
	}

	_, err := r.Resolve("missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve("img")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveRejectsSymlinkOut(t *testing.T) {
	r := newTree(t)
	outside := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	if err := os.Symlink(outside, filepath.Join(r.Root(), "link.txt")); err != nil {
		t.Skip("symlinks unavailable:", err)
	}

	_, err := r.Resolve("link.txt")
	assert.ErrorIs(t, err, ErrEscapes)
}

func TestAllowList(t *testing.T) {
	r := newTree(t, "img/**", "snd/*.wav")

	_, err := r.Resolve("img/logo.png")
	assert.NoError(t, err)
	_, err = r.Resolve("secret/key.txt")
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = New(t.TempDir(), []string{"[unclosed"})
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	r := newTree(t, "img/**", "snd/**")

	idx, err := r.Index(context.Background())
	require.NoError(t, err)

	var rels []string
	for _, a := range idx {
		rels = append(rels, a.Rel)
	}
	assert.Equal(t, []string{"img/logo.png", "snd/beep.wav"}, rels)
}
