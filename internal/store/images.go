package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileImages reads scanned answer sheets from a directory. Relative paths
// resolve against Root.
type FileImages struct {
	Root string
}

// NewFileImages creates a FileImages rooted at root
func NewFileImages(root string) *FileImages {
	return &FileImages{Root: root}
}

func (f *FileImages) resolve(path string) string {
	if filepath.IsAbs(path) || f.Root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(f.Root, path)
}

// Exists reports whether path is a regular file
func (f *FileImages) Exists(path string) bool {
	info, err := os.Stat(f.resolve(path))
	return err == nil && info.Mode().IsRegular()
}

// ReadImage returns the bytes at path
func (f *FileImages) ReadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}
