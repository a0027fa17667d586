// Package remote runs the transport solver on a compute host: inputs are
// copied over SFTP, the solver command runs in an SSH session and the
// outputs are copied back.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/engine"
)

// killGrace separates the SIGTERM and SIGKILL sent to a cancelled command.
const killGrace = 100 * time.Millisecond

// Client is one SSH connection with its SFTP session.
type Client struct {
	cfg    config.RemoteConfig
	conn   *ssh.Client
	files  *sftp.Client
	logger zerolog.Logger
}

// ClientConfig builds the SSH client configuration of cfg.
func ClientConfig(cfg config.RemoteConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		raw, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(raw)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		password := cfg.Password
		auth = append(auth,
			ssh.Password(password),
			// Many servers only prompt through keyboard-interactive.
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method for %s", cfg.Host)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !cfg.InsecureIgnoreHostKey {
		if cfg.KnownHosts == "" {
			return nil, fmt.Errorf("known hosts are required to verify %s", cfg.Host)
		}
		var err error
		hostKey, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.ConnectTimeout,
	}, nil
}

// Address returns host:port of cfg.
func Address(cfg config.RemoteConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Dial connects to the compute host of cfg and opens an SFTP session.
func Dial(ctx context.Context, cfg config.RemoteConfig, logger zerolog.Logger) (*Client, error) {
	clientConfig, err := ClientConfig(cfg)
	if err != nil {
		return nil, engine.NewPreconditionError("invalid remote configuration", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(cfg.Host)
	}
	addr := Address(cfg)

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", addr, clientConfig)
		done <- dialResult{conn, err}
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, unavailable(addr, "connect", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, unavailable(addr, "connect", r.err)
		}
		conn = r.conn
	}

	files, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, unavailable(addr, "open sftp session", err)
	}

	logger.Debug().Str("host", addr).Str("user", cfg.User).Msg("Connected to compute host")
	return &Client{cfg: cfg, conn: conn, files: files, logger: logger}, nil
}

// Close ends the SFTP session and the connection.
func (c *Client) Close() error {
	return errors.Join(c.files.Close(), c.conn.Close())
}

// Output is what a remote command printed and how it exited.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes command in a new session. A command that exits non-zero
// returns an *ssh.ExitError along with its output. When ctx ends first the
// command is sent SIGTERM, then SIGKILL, and ctx.Err() is returned.
func (c *Client) Run(ctx context.Context, command string) (*Output, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, unavailable(c.cfg.Host, "open session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	c.logger.Debug().Str("command", command).Msg("Running remote command")
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(killGrace)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
	} else if runErr != nil {
		out.ExitCode = -1
	}
	return out, runErr
}

// ReadDir lists the entries of a remote directory.
func (c *Client) ReadDir(dir string) ([]fs.FileInfo, error) {
	return c.files.ReadDir(dir)
}

// MkdirAll creates dir and its parents on the compute host.
func (c *Client) MkdirAll(dir string) error {
	if err := c.files.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
	}
	return nil
}

// Upload copies the local file to remotePath.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := c.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}
	dst, err := c.files.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer dst.Close()

	n, err := copyContext(ctx, dst, src)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	c.logger.Debug().Str("local", localPath).Str("remote", remotePath).Int64("bytes", n).Msg("Uploaded file")
	return nil
}

// Download copies remotePath to the local file, replacing it. A missing
// remote file returns an error matching fs.ErrNotExist.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	return c.fetch(ctx, remotePath, localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// Append adds the contents of remotePath to the end of the local file.
func (c *Client) Append(ctx context.Context, remotePath, localPath string) error {
	return c.fetch(ctx, remotePath, localPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func (c *Client) fetch(ctx context.Context, remotePath, localPath string, flag int) error {
	src, err := c.files.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(localPath, flag, 0o644)
	if err != nil {
		return err
	}
	n, err := copyContext(ctx, dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	c.logger.Debug().Str("remote", remotePath).Str("local", localPath).Int64("bytes", n).Msg("Downloaded file")
	return nil
}

// Remove deletes remotePath; a missing file is not an error.
func (c *Client) Remove(remotePath string) error {
	if err := c.files.Remove(remotePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// copyContext copies src to dst, checking ctx between chunks.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func unavailable(host, op string, err error) error {
	return engine.NewTransientError(fmt.Sprintf("compute host %s: failed to %s", host, op), err).
		WithCode(engine.ErrCodeRemoteUnavailable).
		WithResource(host).
		WithOperation(op)
}
