package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPort(t *testing.T) {
	assert.Equal(t, "example.com:21", HostPort("example.com", 21))
	assert.Equal(t, "[::1]:22", HostPort("::1", 22))
}

func TestNetworkDefaultsToDualStack(t *testing.T) {
	r := New(time.Minute, nil)
	assert.Equal(t, "ip", r.network())
}

func TestNetworkInet4Only(t *testing.T) {
	r := New(time.Minute, []Family{FamilyInet})
	assert.Equal(t, "ip4", r.network())
}

func TestNetworkInet6Only(t *testing.T) {
	r := New(time.Minute, []Family{FamilyInet6})
	assert.Equal(t, "ip6", r.network())
}

func TestReorderPrefersConfiguredFamily(t *testing.T) {
	r := New(time.Minute, []Family{FamilyInet6, FamilyInet})
	v4 := net.ParseIP("10.0.0.1")
	v6 := net.ParseIP("::1")
	out := r.reorder([]net.IP{v4, v6})
	require.Len(t, out, 2)
	assert.True(t, out[0].Equal(v6), "IPv6 should sort first given FamilyInet6 preference")
	assert.True(t, out[1].Equal(v4))
}

func TestReorderStableWhenAlreadyPreferred(t *testing.T) {
	r := New(time.Minute, []Family{FamilyInet, FamilyInet6})
	v4a := net.ParseIP("10.0.0.1")
	v4b := net.ParseIP("10.0.0.2")
	v6 := net.ParseIP("::1")
	out := r.reorder([]net.IP{v4a, v4b, v6})
	require.Len(t, out, 3)
	assert.True(t, out[0].Equal(v4a))
	assert.True(t, out[1].Equal(v4b))
	assert.True(t, out[2].Equal(v6))
}

func TestResolveLoopbackAndCacheHit(t *testing.T) {
	r := New(time.Minute, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f := r.Resolve(ctx, "localhost", 0, 0, "", "")
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolve future never became ready")
	}
	addrs, err := f.Result()
	require.NoError(t, err)
	require.NotEmpty(t, addrs)

	// Second call should be a cache hit: Future is ready synchronously.
	f2 := r.Resolve(ctx, "localhost", 0, 0, "", "")
	assert.True(t, f2.Ready())
}

func TestInvalidateClearsCache(t *testing.T) {
	r := New(time.Minute, nil)
	ctx := context.Background()
	f := r.Resolve(ctx, "localhost", 0, 0, "", "")
	<-f.done
	r.Invalidate("localhost")

	f2 := r.Resolve(ctx, "localhost", 0, 0, "", "")
	assert.False(t, f2.Ready(), "invalidated entry should require a fresh async lookup")
}

func TestPeerSetAdvanceAndExhaustion(t *testing.T) {
	addrs := []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}
	p := NewPeerSet(addrs, 21)
	assert.Equal(t, 21, p.Port())

	cur, ok := p.Current()
	require.True(t, ok)
	assert.True(t, cur.Equal(addrs[0]))
	assert.False(t, p.Exhausted())

	assert.True(t, p.Advance())
	cur, ok = p.Current()
	require.True(t, ok)
	assert.True(t, cur.Equal(addrs[1]))

	assert.False(t, p.Advance())
	assert.True(t, p.Exhausted())
	_, ok = p.Current()
	assert.False(t, ok)

	p.Reset()
	assert.False(t, p.Exhausted())
	cur, ok = p.Current()
	require.True(t, ok)
	assert.True(t, cur.Equal(addrs[0]))
}
