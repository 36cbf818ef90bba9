package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialTCPNilResolverFallsBackToPlainDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port := mustAtoi(t, portStr)

	dialer := &net.Dialer{Timeout: 2 * time.Second}
	conn, err := DialTCP(context.Background(), nil, dialer, host, port)
	require.NoError(t, err)
	conn.Close()
}

func TestDialTCPResolvesAndDialsThroughResolver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port := mustAtoi(t, portStr)

	r := New(time.Minute, []Family{FamilyInet})
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	conn, err := DialTCP(context.Background(), r, dialer, "localhost", port)
	require.NoError(t, err)
	conn.Close()
}

func TestDialTCPInvalidatesCacheWhenEveryAddressFails(t *testing.T) {
	r := New(time.Minute, []Family{FamilyInet})
	ctx := context.Background()

	// Prime the cache.
	f := r.Resolve(ctx, "localhost", 0, 0, "", "tcp")
	_, err := f.Result()
	require.NoError(t, err)
	f2 := r.Resolve(ctx, "localhost", 0, 0, "", "tcp")
	assert.True(t, f2.Ready(), "cache should be warm before the failing dial")

	// Port 0 on an already-resolved loopback address is not listening;
	// dialing it should fail and invalidate the cache entry.
	dialer := &net.Dialer{Timeout: 200 * time.Millisecond}
	_, err = DialTCP(ctx, r, dialer, "localhost", 1)
	assert.Error(t, err)

	f3 := r.Resolve(ctx, "localhost", 0, 0, "", "tcp")
	assert.False(t, f3.Ready(), "invalidated entry should require a fresh async lookup")
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}
