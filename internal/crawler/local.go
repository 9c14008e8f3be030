package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/CZERTAINLY/Crawler/internal/model"
)

// NewLocal returns the worker crawling the local filesystem.
func NewLocal(deps Deps) (Worker, error) {
	root := deps.Settings.Fs.URL
	return newCrawler(model.ProtocolLocal.String(), deps, func(context.Context) (FileAbstractor, error) {
		return openLocal(root)
	})
}

// localFS is a FileAbstractor over os.Root, so the crawl never leaves
// fs.url. Symlinks and other irregular files are skipped.
type localFS struct {
	root *os.Root
}

func openLocal(dir string) (*localFS, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, dir)
		}
		return nil, err
	}
	return &localFS{root: root}, nil
}

func (l *localFS) Root() string {
	return "."
}

func (l *localFS) List(ctx context.Context, dir string) ([]FileInfo, error) {
	entries, err := fs.ReadDir(l.root.FS(), dir)
	if err != nil {
		return nil, err
	}
	ret := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		info, err := entry.Info()
		if err != nil {
			// removed while listing
			continue
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		ret = append(ret, FileInfo{
			Name:    entry.Name(),
			Path:    path.Join(dir, entry.Name()),
			Dir:     info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		})
	}
	return ret, nil
}

func (l *localFS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return l.root.Open(name)
}

func (l *localFS) Exists(_ context.Context, dir string) (bool, error) {
	info, err := l.root.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (l *localFS) Close() error {
	return l.root.Close()
}
