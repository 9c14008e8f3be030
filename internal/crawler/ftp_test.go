package crawler

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/Crawler/internal/document"
	"github.com/CZERTAINLY/Crawler/internal/model"
)

const (
	ftpUser     = "crawler"
	ftpPassword = "secret"
)

// ftpServer serves a local directory over passive mode ftp. It speaks just
// enough of the protocol for the jlaffaye client: EPSV, MLSD, RETR, CWD and
// PWD. Anonymous and ftpUser logins are accepted.
type ftpServer struct {
	root string
	ln   net.Listener

	mx    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func newFTPServer(t *testing.T, root string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &ftpServer{root: root, ln: ln, conns: make(map[net.Conn]struct{})}
	srv.wg.Add(1)
	go srv.serve()
	t.Cleanup(srv.close)
	return ln.Addr().(*net.TCPAddr).Port
}

func (s *ftpServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mx.Lock()
		s.conns[conn] = struct{}{}
		s.mx.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
			s.mx.Lock()
			delete(s.conns, conn)
			s.mx.Unlock()
		}()
	}
}

func (s *ftpServer) close() {
	_ = s.ln.Close()
	s.mx.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mx.Unlock()
	s.wg.Wait()
}

func (s *ftpServer) local(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *ftpServer) handle(conn net.Conn) {
	tp := textproto.NewConn(conn)
	defer func() {
		_ = tp.Close()
	}()

	var (
		user   string
		logged bool
		cwd    = "/"
		data   net.Listener
	)
	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()
	reply := func(format string, args ...any) bool {
		return tp.PrintfLine(format, args...) == nil
	}
	resolve := func(arg string) string {
		if !path.IsAbs(arg) {
			arg = path.Join(cwd, arg)
		}
		return path.Clean(arg)
	}
	// transfer accepts the data connection the client opened after EPSV
	transfer := func(write func(io.Writer) error) bool {
		if data == nil {
			return reply("425 use EPSV first")
		}
		dc, err := data.Accept()
		_ = data.Close()
		data = nil
		if err != nil {
			return reply("425 can't open data connection")
		}
		if !reply("150 opening data connection") {
			_ = dc.Close()
			return false
		}
		err = write(dc)
		_ = dc.Close()
		if err != nil {
			return reply("451 %s", err)
		}
		return reply("226 transfer complete")
	}

	if !reply("220 crawler test ftp ready") {
		return
	}
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)
		if !logged && cmd != "USER" && cmd != "PASS" && cmd != "QUIT" {
			if !reply("530 please login") {
				return
			}
			continue
		}

		ok := true
		switch cmd {
		case "USER":
			user = arg
			ok = reply("331 password required for %s", arg)
		case "PASS":
			if user == "anonymous" || (user == ftpUser && arg == ftpPassword) {
				logged = true
				ok = reply("230 logged in")
			} else {
				ok = reply("530 login incorrect")
			}
		case "FEAT":
			ok = reply("211-Features:\r\n MLST type*;size*;modify*;\r\n UTF8\r\n211 End")
		case "TYPE", "OPTS", "NOOP":
			ok = reply("200 ok")
		case "PWD":
			ok = reply(`257 "%s" is the current directory`, cwd)
		case "CWD":
			dir := resolve(arg)
			if info, err := os.Stat(s.local(dir)); err != nil || !info.IsDir() {
				ok = reply("550 %s: no such directory", arg)
				break
			}
			cwd = dir
			ok = reply("250 directory changed")
		case "EPSV":
			if data != nil {
				_ = data.Close()
			}
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				ok = reply("425 %s", err)
				break
			}
			ok = reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "MLSD":
			dir := resolve(arg)
			entries, err := os.ReadDir(s.local(dir))
			if err != nil {
				ok = reply("550 %s: no such directory", arg)
				break
			}
			ok = transfer(func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "Type=cdir;Modify=20240101000000; .\r\n"); err != nil {
					return err
				}
				for _, entry := range entries {
					info, err := entry.Info()
					if err != nil {
						return err
					}
					modify := info.ModTime().UTC().Format("20060102150405")
					if info.IsDir() {
						_, err = fmt.Fprintf(w, "Type=dir;Modify=%s; %s\r\n", modify, entry.Name())
					} else {
						_, err = fmt.Fprintf(w, "Type=file;Size=%d;Modify=%s; %s\r\n", info.Size(), modify, entry.Name())
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		case "RETR":
			f, err := os.Open(s.local(resolve(arg)))
			if err != nil {
				ok = reply("550 %s: no such file", arg)
				break
			}
			ok = transfer(func(w io.Writer) error {
				_, err := io.Copy(w, f)
				return err
			})
			_ = f.Close()
		case "QUIT":
			_ = reply("221 bye")
			return
		default:
			ok = reply("502 %s not implemented", cmd)
		}
		if !ok {
			return
		}
	}
}

func ftpSettings(url string, port int) model.Settings {
	settings := model.DefaultSettings("job")
	settings.Fs.URL = url
	settings.Server = &model.Server{
		Hostname: "127.0.0.1",
		Port:     port,
		Protocol: model.ProtocolFTP,
	}
	return settings
}

func TestFTP_Crawl(t *testing.T) {
	t.Parallel()
	port := newFTPServer(t, tree(t))

	rec := &fakeRecorder{}
	docs := newFakeDocs()
	w, err := NewFTP(Deps{Settings: ftpSettings("/", port), Loop: 1, Documents: docs, Recorder: rec})
	require.NoError(t, err)
	w.Monitor().SetClosed(false)

	require.NoError(t, w.Run(t.Context()))
	require.ElementsMatch(t, []string{"/a.txt", "/sub/b.txt", "/sub/c.tmp", "/big.bin"}, docs.virtuals("job"))
	require.ElementsMatch(t, []string{"/", "/sub"}, docs.virtuals("job_folder"))

	raw := docs.docs["job"][document.ID("/sub/b.txt")]
	require.Contains(t, string(raw), "second file")

	rec.mx.Lock()
	defer rec.mx.Unlock()
	require.Equal(t, []error{nil}, rec.finished)
}

func TestFTP_MissingRoot(t *testing.T) {
	t.Parallel()
	port := newFTPServer(t, tree(t))

	w, err := NewFTP(Deps{Settings: ftpSettings("/missing", port), Loop: 1, Documents: newFakeDocs()})
	require.NoError(t, err)
	w.Monitor().SetClosed(false)
	require.ErrorIs(t, w.Run(t.Context()), ErrRootNotFound)
}

func TestFTP_Abstractor(t *testing.T) {
	t.Parallel()
	port := newFTPServer(t, tree(t))
	settings := ftpSettings("/", port)
	settings.Server.Username = ftpUser
	settings.Server.Password = ftpPassword

	fa, err := dialFTP(t.Context(), *settings.Server, "/")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = fa.Close()
	})
	require.Equal(t, "/", fa.Root())

	for _, tc := range []struct {
		dir  string
		want bool
	}{
		{"/", true},
		{"/sub", true},
		{"/missing", false},
		{"/a.txt", false},
	} {
		ok, err := fa.Exists(t.Context(), tc.dir)
		require.NoError(t, err, tc.dir)
		require.Equal(t, tc.want, ok, tc.dir)
	}
	// Exists restores the working directory
	cwd, err := fa.conn.CurrentDir()
	require.NoError(t, err)
	require.Equal(t, "/", cwd)

	infos, err := fa.List(t.Context(), "/")
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, info := range infos {
		names[info.Name] = info.Dir
	}
	require.Equal(t, map[string]bool{"a.txt": false, "big.bin": false, "sub": true}, names)

	infos, err = fa.List(t.Context(), "/sub")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		require.True(t, strings.HasPrefix(info.Path, "/sub/"), info.Path)
		require.False(t, info.ModTime.IsZero())
	}

	r, err := fa.Open(t.Context(), "/a.txt")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello world\n", string(b))

	_, err = fa.Open(t.Context(), "/missing.txt")
	require.Error(t, err)
}

func TestFTP_Login(t *testing.T) {
	t.Parallel()
	port := newFTPServer(t, t.TempDir())
	settings := ftpSettings("/", port)
	settings.Server.Username = ftpUser
	settings.Server.Password = "wrong"

	_, err := dialFTP(t.Context(), *settings.Server, "/")
	require.ErrorContains(t, err, "ftp login as crawler")
}

func TestFTP_Unreachable(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	w, err := NewFTP(Deps{Settings: ftpSettings("/pub", port), Loop: 1, Documents: newFakeDocs()})
	require.NoError(t, err)
	require.Equal(t, "ftp", w.Strategy())
	w.Monitor().SetClosed(false)
	require.ErrorContains(t, w.Run(t.Context()), "connecting to ftp")
}

func TestNewFTP_NoServer(t *testing.T) {
	t.Parallel()
	_, err := NewFTP(Deps{Settings: model.DefaultSettings("job"), Loop: 1, Documents: newFakeDocs()})
	require.ErrorContains(t, err, "server settings are required for ftp")
}

func TestHostPort(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		server model.Server
		want   string
	}{
		{model.Server{Hostname: "h", Protocol: model.ProtocolSSH}, "h:22"},
		{model.Server{Hostname: "h", Protocol: model.ProtocolFTP}, "h:21"},
		{model.Server{Hostname: "h", Port: 2222, Protocol: model.ProtocolSSH}, "h:2222"},
		{model.Server{Hostname: "::1", Port: 21, Protocol: model.ProtocolFTP}, "[::1]:21"},
	} {
		require.Equal(t, tc.want, hostPort(tc.server))
	}
}
