package infra

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
// Permission bits only: it never touches structure, ownership or contents.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	home, _ := os.UserHomeDir()
	return &FileSystemManagerImpl{homeDir: home}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	expanded := fm.ExpandHome(path)
	_, err := os.Stat(expanded)
	return err == nil
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// IsBlocked reports whether the root entry has all permission bits cleared.
func (fm *FileSystemManagerImpl) IsBlocked(path string) (bool, error) {
	info, err := os.Stat(fm.ExpandHome(path))
	if err != nil {
		return false, err
	}
	return info.Mode().Perm() == 0, nil
}

// CaptureModes records the permission bits of every entry under path, keyed
// by path relative to the root ("." for the root itself).
func (fm *FileSystemManagerImpl) CaptureModes(path string) (map[string]uint32, error) {
	root := fm.ExpandHome(path)
	modes := make(map[string]uint32)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		modes[rel] = uint32(info.Mode().Perm())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modes, nil
}

// LockTree clears all permission bits on path and everything beneath it.
// Entries are collected up front and chmodded deepest-first so directories
// stay traversable until their contents are done; the root goes last.
func (fm *FileSystemManagerImpl) LockTree(path string) error {
	root := fm.ExpandHome(path)

	var entries []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		entries = append(entries, p)
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if err := os.Chmod(entries[i], 0); err != nil {
			return err
		}
	}
	return nil
}

// RestoreTree restores the recorded permission bits. The root is restored
// first to regain traversal, then children shallow-first. Entries without a
// recorded mode (created while blocked, or no record at all) fall back to
// dirMode/fileMode.
func (fm *FileSystemManagerImpl) RestoreTree(path string, modes map[string]uint32, dirMode, fileMode os.FileMode) error {
	root := fm.ExpandHome(path)

	restore := func(p string, isDir bool) error {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		mode := fileMode
		if isDir {
			mode = dirMode
		}
		if recorded, ok := modes[rel]; ok {
			mode = os.FileMode(recorded)
		}
		return os.Chmod(p, mode)
	}

	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if err := restore(root, info.IsDir()); err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		return restore(p, d.IsDir())
	})
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
