package oracle

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/me/schedbench/pkg/model"
)

// ImageStore locates and reads image files.
type ImageStore interface {
	// Locate resolves an image id to a path, or returns *model.MissingResourceError.
	Locate(id string) (string, error)
	Load(path string) ([]byte, error)
}

// DirStore finds images as Dir/{id}{Ext}.
type DirStore struct {
	Dir string
	Ext string
}

// NewDirStore creates a DirStore. An empty ext defaults to ".jpg".
func NewDirStore(dir, ext string) *DirStore {
	if ext == "" {
		ext = ".jpg"
	}
	return &DirStore{Dir: dir, Ext: ext}
}

func (d *DirStore) Locate(id string) (string, error) {
	path := filepath.Join(d.Dir, id+d.Ext)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &model.MissingResourceError{ImageID: id, Path: path}
		}
		return "", err
	}
	if info.IsDir() {
		return "", &model.MissingResourceError{ImageID: id, Path: path}
	}
	return path, nil
}

func (d *DirStore) Load(path string) ([]byte, error) {
	return os.ReadFile(path)
}
