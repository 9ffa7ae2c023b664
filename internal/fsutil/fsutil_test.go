package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyTree_Basic(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	writeFile(t, filepath.Join(src, "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "nested", "deep", "b.txt"), "beta")

	require.NoError(t, CopyTree(src, dst, CopyOptions{}))

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "nested", "deep", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(got))
}

func TestCopyTree_MergesAndOverwrites(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, "shared.txt"), "new content")
	writeFile(t, filepath.Join(dst, "shared.txt"), "old content")
	writeFile(t, filepath.Join(dst, "keep.txt"), "untouched")

	require.NoError(t, CopyTree(src, dst, CopyOptions{}))

	got, err := os.ReadFile(filepath.Join(dst, "shared.txt"))
	require.NoError(t, err)
	require.Equal(t, "new content", string(got), "conflicting file should be overwritten")

	got, err = os.ReadFile(filepath.Join(dst, "keep.txt"))
	require.NoError(t, err)
	require.Equal(t, "untouched", string(got), "unrelated destination file should survive")
}

func TestCopyTree_DereferenceSymlinks(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	writeFile(t, filepath.Join(src, "real.txt"), "payload")
	require.NoError(t, os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")))

	require.NoError(t, CopyTree(src, dst, CopyOptions{DereferenceSymlinks: true}))

	info, err := os.Lstat(filepath.Join(dst, "link.txt"))
	require.NoError(t, err)
	require.True(t, info.Mode().IsRegular(), "symlink should be materialized as a regular file")

	got, err := os.ReadFile(filepath.Join(dst, "link.txt"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestCopyTree_SourceMustBeDirectory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "file.txt")
	writeFile(t, src, "x")

	err := CopyTree(src, t.TempDir(), CopyOptions{})
	require.Error(t, err)
}

func TestListFiles_RecursiveLexicalOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.cfg"), "")
	writeFile(t, filepath.Join(root, "a.cfg"), "")
	writeFile(t, filepath.Join(root, "sub", "c.cfg"), "")

	files, err := ListFiles(root)
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "a.cfg"),
		filepath.Join(root, "b.cfg"),
		filepath.Join(root, "sub", "c.cfg"),
	}
	require.Equal(t, want, files)
}

func TestListFiles_MissingRoot(t *testing.T) {
	_, err := ListFiles(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestIsFileAndIsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	writeFile(t, file, "")

	require.True(t, IsFile(file))
	require.False(t, IsFile(dir))
	require.False(t, IsFile(filepath.Join(dir, "missing")))

	require.True(t, IsDir(dir))
	require.False(t, IsDir(file))
}
