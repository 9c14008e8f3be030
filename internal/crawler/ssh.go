package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/CZERTAINLY/Crawler/internal/model"
)

const dialTimeout = 10 * time.Second

// NewSSH returns the worker crawling a remote host over sftp.
func NewSSH(deps Deps) (Worker, error) {
	server := deps.Settings.Server
	if server == nil {
		return nil, errors.New("server settings are required for ssh")
	}
	root := deps.Settings.Fs.URL
	return newCrawler(model.ProtocolSSH.String(), deps, func(ctx context.Context) (FileAbstractor, error) {
		return dialSSH(ctx, *server, root)
	})
}

type sshFS struct {
	root string
	conn *ssh.Client
	sftp *sftp.Client
}

func dialSSH(ctx context.Context, server model.Server, root string) (*sshFS, error) {
	auth, err := sshAuth(server)
	if err != nil {
		return nil, err
	}
	hostKey, err := sshHostKey(server)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}

	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	addr := hostPort(server)
	var d net.Dialer
	tcp, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// the handshake and the sftp init share the dial deadline, cancelling
	// ctx interrupts them
	if err := tcp.SetDeadline(deadline); err != nil {
		_ = tcp.Close()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = tcp.SetDeadline(time.Unix(1, 0))
	})

	c, chans, reqs, err := ssh.NewClientConn(tcp, addr, cfg)
	if err != nil {
		stop()
		_ = tcp.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, fmt.Errorf("starting sftp subsystem: %w", err)
	}
	if !stop() {
		_ = client.Close()
		_ = conn.Close()
		return nil, ctx.Err()
	}
	if err := tcp.SetDeadline(time.Time{}); err != nil {
		_ = client.Close()
		_ = conn.Close()
		return nil, err
	}
	return &sshFS{root: root, conn: conn, sftp: client}, nil
}

// sshHostKey verifies the server against server.known_hosts. Without it
// any host key is accepted.
func sshHostKey(server model.Server) (ssh.HostKeyCallback, error) {
	if server.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(server.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("reading server.known_hosts: %w", err)
	}
	return cb, nil
}

func sshAuth(server model.Server) ([]ssh.AuthMethod, error) {
	if server.PEMPath == "" {
		return []ssh.AuthMethod{ssh.Password(server.Password)}, nil
	}
	pem, err := os.ReadFile(server.PEMPath)
	if err != nil {
		return nil, fmt.Errorf("reading server.pem_path: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && server.Password != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(server.Password))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing server.pem_path: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func hostPort(server model.Server) string {
	port := server.Port
	if port == 0 {
		port = server.Protocol.DefaultPort()
	}
	return net.JoinHostPort(server.Hostname, strconv.Itoa(port))
}

func (s *sshFS) Root() string {
	return s.root
}

func (s *sshFS) List(_ context.Context, dir string) ([]FileInfo, error) {
	infos, err := s.sftp.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ret := make([]FileInfo, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		fi := FileInfo{
			Name:    info.Name(),
			Path:    path.Join(dir, info.Name()),
			Dir:     info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}
		if stat, ok := info.Sys().(*sftp.FileStat); ok {
			fi.Owner = strconv.FormatUint(uint64(stat.UID), 10)
			fi.Group = strconv.FormatUint(uint64(stat.GID), 10)
		}
		ret = append(ret, fi)
	}
	return ret, nil
}

func (s *sshFS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return s.sftp.Open(name)
}

func (s *sshFS) Exists(_ context.Context, dir string) (bool, error) {
	info, err := s.sftp.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (s *sshFS) Close() error {
	return errors.Join(s.sftp.Close(), s.conn.Close())
}
