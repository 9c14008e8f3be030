package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"strings"

	"github.com/jlaffaye/ftp"

	"github.com/CZERTAINLY/Crawler/internal/model"
)

const anonymous = "anonymous"

// NewFTP returns the worker crawling a remote host over ftp.
func NewFTP(deps Deps) (Worker, error) {
	server := deps.Settings.Server
	if server == nil {
		return nil, errors.New("server settings are required for ftp")
	}
	root := deps.Settings.Fs.URL
	return newCrawler(model.ProtocolFTP.String(), deps, func(ctx context.Context) (FileAbstractor, error) {
		return dialFTP(ctx, *server, root)
	})
}

type ftpFS struct {
	root string
	conn *ftp.ServerConn
}

func dialFTP(ctx context.Context, server model.Server, root string) (*ftpFS, error) {
	addr := hostPort(server)
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(dialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	user, pass := server.Username, server.Password
	if user == "" {
		user, pass = anonymous, anonymous
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login as %s: %w", user, err)
	}
	return &ftpFS{root: root, conn: conn}, nil
}

func (f *ftpFS) Root() string {
	return f.root
}

func (f *ftpFS) List(_ context.Context, dir string) ([]FileInfo, error) {
	entries, err := f.conn.List(dir)
	if err != nil {
		return nil, err
	}
	ret := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || strings.Contains(e.Name, "/") {
			continue
		}
		if e.Type != ftp.EntryTypeFile && e.Type != ftp.EntryTypeFolder {
			continue
		}
		ret = append(ret, FileInfo{
			Name:    e.Name,
			Path:    path.Join(dir, e.Name),
			Dir:     e.Type == ftp.EntryTypeFolder,
			Size:    int64(e.Size),
			ModTime: e.Time,
		})
	}
	return ret, nil
}

// Open starts a transfer. The returned reader must be closed before the
// next call, ftp allows a single transfer per connection.
func (f *ftpFS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return f.conn.Retr(name)
}

func (f *ftpFS) Exists(_ context.Context, dir string) (bool, error) {
	current, err := f.conn.CurrentDir()
	if err != nil {
		return false, err
	}
	if err := f.conn.ChangeDir(dir); err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return false, nil
		}
		return false, err
	}
	return true, f.conn.ChangeDir(current)
}

func (f *ftpFS) Close() error {
	return f.conn.Quit()
}
