package fish

import (
	"bufio"
	"context"
	"fmt"
	"net"

	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"

	"github.com/lftpgo/xfer/xfer"
)

// connectNative dials the remote host directly with
// golang.org/x/crypto/ssh instead of spawning an external ssh binary,
// used when Options.NativeSSH is set. Auth is ssh-agent-only, grounded
// on the teacher's backend/sftp/sftp.go dialing fallback to
// github.com/xanzy/ssh-agent when no password or key file is
// configured; password auth (the common FISH case, per §4.10's
// "password:" prompt handling) stays on the external connect-program
// path in Connect, since golang.org/x/crypto/ssh has no PTY-free way
// to answer an interactive keyboard prompt the way the subprocess's
// stdin pipe does.
func (s *Session) connectNative(ctx context.Context, host string, port int) error {
	agentClient, _, err := sshagent.New()
	if err != nil {
		return xfer.Fatal("connecting to ssh-agent", err)
	}
	signers, err := agentClient.Signers()
	if err != nil {
		return xfer.Fatal("reading ssh-agent signers", err)
	}

	cfg := &ssh.ClientConfig{
		User:            s.opt.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.opt.CloseTimeout,
		ClientVersion:   "SSH-2.0-xferctl",
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	dialer := net.Dialer{Timeout: s.opt.CloseTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return xfer.NoHost(fmt.Sprintf("dialing %s: %v", addr, err), err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return xfer.LoginFailed(fmt.Sprintf("ssh handshake with %s: %v", addr, err))
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		return xfer.Fatal("opening ssh session", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return xfer.Fatal("opening ssh session stdin", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return xfer.Fatal("opening ssh session stdout", err)
	}
	prologue := "start_fish_server; TZ=GMT; LC_ALL=C; echo '### 200'"
	if err := session.Start(prologue); err != nil {
		return xfer.Fatal("starting fish server", err)
	}

	s.nativeClient = client
	s.nativeSession = session
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.cancel = func() { _ = session.Close(); _ = client.Close() }
	s.state = Starting
	s.passwordPrompts = 0
	return nil
}
