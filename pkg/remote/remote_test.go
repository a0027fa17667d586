package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/solver"
)

// testServer is an SSH server that runs exec requests with /bin/sh and
// serves SFTP on the local filesystem.
type testServer struct {
	listener net.Listener
	hostKey  ssh.PublicKey
	addr     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	hostKey, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	serverConfig := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "mocdown" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("invalid credentials")
		},
	}
	serverConfig.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{listener: listener, hostKey: hostKey, addr: listener.Addr().String()}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handle(conn, serverConfig)
		}
	}()
	return s
}

func (s *testServer) handle(netConn net.Conn, serverConfig *ssh.ServerConfig) {
	defer netConn.Close()
	conn, chans, reqs, err := ssh.NewServerConn(netConn, serverConfig)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveChannel(channel, requests)
	}
}

func serveChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			cmd := exec.Command("/bin/sh", "-c", payload.Command)
			cmd.Stdout = channel
			cmd.Stderr = channel.Stderr()
			status := 0
			if err := cmd.Run(); err != nil {
				status = 255
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					status = exitErr.ExitCode()
				}
			}
			channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) config(t *testing.T) config.RemoteConfig {
	host, port, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.RemoteConfig{
		Host:                  host,
		Port:                  p,
		User:                  "mocdown",
		Password:              "secret",
		InsecureIgnoreHostKey: true,
		ConnectTimeout:        5 * time.Second,
		WorkDir:               t.TempDir(),
	}
}

func transportExec(command string, timeout time.Duration) *solver.Exec {
	return solver.NewExec(
		solver.Spec{Name: solver.Transport, Executable: "/local/mcnp6", Command: command, Timeout: timeout},
		solver.Spec{Name: solver.Transmute, Command: "echo local > marker"},
	)
}

func TestRunner_Transport(t *testing.T) {
	server := newTestServer(t)
	cfg := server.config(t)
	cfg.Executable = "/remote/mcnp6"
	cfg.XsDir = "/remote/xsdir"

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.i"), []byte("fuel pin\n1 1 -10 -1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.src"), []byte("source\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transport.log"), []byte("earlier\n"), 0o644))

	runner := NewRunner(cfg, transportExec(
		"cat {baseName}.i {baseName}.src > {baseName}.o && echo {executable} x={xsdir} >> {baseName}.o && echo ran >> transport.log",
		0), zerolog.Nop())

	result, err := runner.Run(context.Background(), solver.Transport, solver.Invocation{
		Dir:  dir,
		Vars: map[string]string{"baseName": "core", "xsdir": "/local/xsdir"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	out, err := os.ReadFile(filepath.Join(dir, "core.o"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "fuel pin")
	assert.Contains(t, string(out), "source")
	assert.Contains(t, string(out), "/remote/mcnp6 x=/remote/xsdir")

	log, err := os.ReadFile(filepath.Join(dir, "transport.log"))
	require.NoError(t, err)
	assert.Equal(t, "earlier\nran\n", string(log))

	remoteDir, err := runner.RemoteDir(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(remoteDir, cfg.WorkDir))
	_, err = os.Stat(filepath.Join(remoteDir, "transport.log"))
	assert.True(t, os.IsNotExist(err), "remote log is removed once collected")
	_, err = os.Stat(filepath.Join(remoteDir, "core.o"))
	assert.NoError(t, err)
}

func TestRunner_StaleOutputsRemoved(t *testing.T) {
	server := newTestServer(t)
	cfg := server.config(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.i"), []byte("deck\n"), 0o644))

	runner := NewRunner(cfg, transportExec("test ! -e {baseName}.o && touch {baseName}.o", 0), zerolog.Nop())
	remoteDir, err := runner.RemoteDir(dir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(remoteDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "core.o"), []byte("stale"), 0o644))

	inv := solver.Invocation{Dir: dir, Vars: map[string]string{"baseName": "core"}}
	_, err = runner.Run(context.Background(), solver.Transport, inv)
	require.NoError(t, err)
}

func TestRunner_Failures(t *testing.T) {
	server := newTestServer(t)
	cfg := server.config(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.i"), []byte("deck\n"), 0o644))
	inv := solver.Invocation{Dir: dir, Vars: map[string]string{"baseName": "core"}}

	t.Run("exit status", func(t *testing.T) {
		runner := NewRunner(cfg, transportExec("echo bad cards >&2; exit 3", 0), zerolog.Nop())
		result, err := runner.Run(context.Background(), solver.Transport, inv)
		require.Error(t, err)
		assert.True(t, engine.HasCode(err, engine.ErrCodeSolverFailed))
		assert.True(t, engine.IsTransient(err))
		assert.Equal(t, 3, result.ExitCode)
		assert.Contains(t, result.Stderr, "bad cards")
	})

	t.Run("timeout", func(t *testing.T) {
		runner := NewRunner(cfg, transportExec("sleep 5", 200*time.Millisecond), zerolog.Nop())
		_, err := runner.Run(context.Background(), solver.Transport, inv)
		assert.True(t, engine.HasCode(err, engine.ErrCodeTimeout), "got %v", err)
	})

	t.Run("missing input", func(t *testing.T) {
		runner := NewRunner(cfg, transportExec("true", 0), zerolog.Nop())
		_, err := runner.Run(context.Background(), solver.Transport, solver.Invocation{
			Dir: dir, Vars: map[string]string{"baseName": "absent"},
		})
		assert.True(t, engine.HasCode(err, engine.ErrCodeMissingSolverInput), "got %v", err)
	})

	t.Run("bad password", func(t *testing.T) {
		bad := cfg
		bad.Password = "wrong"
		runner := NewRunner(bad, transportExec("true", 0), zerolog.Nop())
		_, err := runner.Run(context.Background(), solver.Transport, inv)
		assert.True(t, engine.HasCode(err, engine.ErrCodeRemoteUnavailable), "got %v", err)
	})
}

func TestRunner_OtherSolversRunLocally(t *testing.T) {
	cfg := config.RemoteConfig{Host: "127.0.0.1", Port: 1, User: "nobody", Password: "x", InsecureIgnoreHostKey: true, WorkDir: "/nonexistent"}
	dir := t.TempDir()

	runner := NewRunner(cfg, transportExec("true", 0), zerolog.Nop())
	_, err := runner.Run(context.Background(), solver.Transmute, solver.Invocation{Dir: dir})
	require.NoError(t, err)

	marker, err := os.ReadFile(filepath.Join(dir, "marker"))
	require.NoError(t, err)
	assert.Equal(t, "local\n", string(marker))
}

func TestClientConfig(t *testing.T) {
	server := newTestServer(t)
	cfg := server.config(t)

	t.Run("known hosts", func(t *testing.T) {
		known := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{knownhosts.Normalize(server.addr)}, server.hostKey)
		require.NoError(t, os.WriteFile(known, []byte(line+"\n"), 0o600))

		verified := cfg
		verified.InsecureIgnoreHostKey = false
		verified.KnownHosts = known
		client, err := Dial(context.Background(), verified, zerolog.Nop())
		require.NoError(t, err)
		out, err := client.Run(context.Background(), "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", out.Stdout)
		require.NoError(t, client.Close())
	})

	t.Run("unknown host key", func(t *testing.T) {
		known := filepath.Join(t.TempDir(), "known_hosts")
		require.NoError(t, os.WriteFile(known, nil, 0o600))

		verified := cfg
		verified.InsecureIgnoreHostKey = false
		verified.KnownHosts = known
		_, err := Dial(context.Background(), verified, zerolog.Nop())
		assert.True(t, engine.HasCode(err, engine.ErrCodeRemoteUnavailable), "got %v", err)
	})

	t.Run("no authentication", func(t *testing.T) {
		_, err := ClientConfig(config.RemoteConfig{Host: "h", InsecureIgnoreHostKey: true})
		assert.Error(t, err)
	})

	t.Run("missing known hosts", func(t *testing.T) {
		_, err := ClientConfig(config.RemoteConfig{Host: "h", Password: "x"})
		assert.Error(t, err)
	})
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
