package ftp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lftpgo/xfer/xfer"
)

// fakeFTPServer wires one end of a net.Pipe to a little command/reply
// table: whichever command prefix matches first wins, so the test
// doesn't need to care about exact ordering beyond what FXPTo itself
// enforces.
func fakeFTPServer(t *testing.T, conn net.Conn, replies map[string]string) {
	t.Helper()
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(line)
			for prefix, reply := range replies {
				if strings.HasPrefix(cmd, prefix) {
					_, _ = conn.Write([]byte(reply + "\r\n"))
					break
				}
			}
		}
	}()
}

func newFXPEndpoint(t *testing.T, replies map[string]string) *Session {
	t.Helper()
	client, server := net.Pipe()
	fakeFTPServer(t, server, replies)
	return &Session{
		conn:   client,
		reader: bufio.NewReader(client),
		state:  EofIdle,
	}
}

func TestFXPToDrivesThirdPartyTransfer(t *testing.T) {
	src := newFXPEndpoint(t, map[string]string{
		"PORT": "200 PORT command successful",
		"RETR": "226 Transfer complete",
	})
	dst := newFXPEndpoint(t, map[string]string{
		"PASV": "227 Entering Passive Mode (127,0,0,1,200,10)",
		"STOR": "226 Transfer complete",
	})

	err := src.FXPTo(context.Background(), dst, "/remote/src.bin", "/remote/dst.bin")
	assert.NoError(t, err)
}

func TestFXPToSurfacesDestinationNoFile(t *testing.T) {
	src := newFXPEndpoint(t, map[string]string{
		"PORT": "200 PORT command successful",
		"RETR": "226 Transfer complete",
	})
	dst := newFXPEndpoint(t, map[string]string{
		"PASV": "227 Entering Passive Mode (127,0,0,1,200,10)",
		"STOR": "553 Permission denied",
	})

	err := src.FXPTo(context.Background(), dst, "/remote/src.bin", "/remote/no-perm.bin")
	require.Error(t, err)
	xerr, ok := err.(*xfer.Error)
	require.True(t, ok)
	assert.Equal(t, xfer.KindNoFile, xerr.Kind)
}

func TestFXPToRequiresBothSessionsIdle(t *testing.T) {
	src := newFXPEndpoint(t, nil)
	dst := newFXPEndpoint(t, nil)
	dst.state = DataOpen

	err := src.FXPTo(context.Background(), dst, "/a", "/b")
	assert.Error(t, err)
	assert.Equal(t, xfer.Again, err)
}
