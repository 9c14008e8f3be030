package crawler

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// FileAbstractor hides the protocol used to reach the crawled tree. Paths
// are slash separated and relative to Root. Implementations are not safe for
// concurrent use.
type FileAbstractor interface {
	Root() string
	List(ctx context.Context, dir string) ([]FileInfo, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, dir string) (bool, error)
	Close() error
}

type FileInfo struct {
	Name    string
	Path    string // abstractor path
	Dir     bool
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	Owner   string
	Group   string
}

// Connector opens a FileAbstractor for a single crawl pass.
type Connector func(ctx context.Context) (FileAbstractor, error)
