package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/streams-data-service/internal/domain"
)

// Store serves datasets from a directory tree laid out like the remote
// resource. Keys are slash-separated paths relative to the root.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// List returns the file at path, or every regular file below it.
func (s *Store) List(ctx context.Context, path string) ([]domain.ObjectInfo, error) {
	full := s.resolve(path)
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []domain.ObjectInfo{{Key: strings.Trim(path, "/"), Size: info.Size()}}, nil
	}

	var objs []domain.ObjectInfo
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		objs = append(objs, domain.ObjectInfo{Key: filepath.ToSlash(rel), Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}

	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

// Open opens a listed file. The returned object also implements io.Closer.
func (s *Store) Open(_ context.Context, obj domain.ObjectInfo) (domain.Object, error) {
	f, err := os.Open(s.resolve(obj.Key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s not found: %w", obj.Key, err)
		}
		return nil, fmt.Errorf("open %s: %w", obj.Key, err)
	}
	return &file{File: f, size: obj.Size}, nil
}

func (s *Store) resolve(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.Trim(key, "/")))
}

type file struct {
	*os.File
	size int64
}

func (f *file) Size() int64 { return f.size }
