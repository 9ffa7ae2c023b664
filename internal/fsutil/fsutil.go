// Package fsutil provides the file system helpers shared by the merge, fetch,
// and pipeline packages: recursive tree copies and file enumeration.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyOptions controls CopyTree behavior.
type CopyOptions struct {
	// DereferenceSymlinks copies the target of a symlink instead of the link
	// itself (cp -L semantics). Used when staging config trees so downstream
	// consumers see plain files.
	DereferenceSymlinks bool
}

// CopyTree recursively copies the contents of src into dst, creating dst (and
// parents) if needed. Existing files in dst are overwritten; files present
// only in dst are left alone, so copying merges into an existing tree. File
// modes are preserved.
func CopyTree(src, dst string, opts CopyOptions) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("copy tree: %s is not a directory", src)
	}

	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		entryType := entry.Type()
		if entryType&fs.ModeSymlink != 0 {
			if opts.DereferenceSymlinks {
				target, err := os.Stat(srcPath) // follows the link
				if err != nil {
					return fmt.Errorf("resolve symlink %s: %w", srcPath, err)
				}
				if target.IsDir() {
					if err := CopyTree(srcPath, dstPath, opts); err != nil {
						return err
					}
				} else if err := copyFile(srcPath, dstPath, target.Mode().Perm()); err != nil {
					return err
				}
			} else {
				linkTarget, err := os.Readlink(srcPath)
				if err != nil {
					return fmt.Errorf("read symlink %s: %w", srcPath, err)
				}
				os.Remove(dstPath)
				if err := os.Symlink(linkTarget, dstPath); err != nil {
					return fmt.Errorf("create symlink %s: %w", dstPath, err)
				}
			}
			continue
		}

		if entry.IsDir() {
			if err := CopyTree(srcPath, dstPath, opts); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", srcPath, err)
		}
		if err := copyFile(srcPath, dstPath, info.Mode().Perm()); err != nil {
			return err
		}
	}

	return nil
}

// copyFile copies a single regular file, overwriting dst if it exists.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// ListFiles returns every regular file under root, recursively, in WalkDir
// (lexical) order. Paths are absolute when root is absolute.
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
