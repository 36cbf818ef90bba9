// Package resolver implements the asynchronous hostname resolution
// described in §4.4: resolve(host, port, default_port, service,
// protocol) -> future(list of socket-address), with a TTL cache and an
// address-family preference ordering.
//
// github.com/patrickmn/go-cache supplies the TTL-expiring cache; it
// was chosen over a hand-rolled map+timestamp because that is exactly
// the concern it exists to solve and it is already a pack dependency
// (wired for the listing cache too, see listcache).
package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/lftpgo/xfer/xfer"
	patrickmncache "github.com/patrickmn/go-cache"
)

// Family is an address-family preference, per §4.4 ("e.g. inet,
// inet6").
type Family int

const (
	FamilyAny Family = iota
	FamilyInet
	FamilyInet6
)

// Future is the asynchronous result handle returned by Resolve. It is
// safe to poll from the scheduler's non-blocking Step: Ready() never
// blocks.
type Future struct {
	done chan struct{}
	addr []net.IP
	err  error
}

// Ready reports whether the lookup has completed.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the resolved addresses once Ready(); calling it
// before Ready() blocks, so callers must always gate on Ready first
// when driven from a non-blocking Step.
func (f *Future) Result() ([]net.IP, error) {
	<-f.done
	return f.addr, f.err
}

// Resolver performs async DNS lookups with a TTL cache, per §4.4.
// net.Resolver (stdlib) is the lookup primitive: no pack dependency
// offers a higher-level async resolver, and golang.org/x/net doesn't
// either — see DESIGN.md.
type Resolver struct {
	cache      *patrickmncache.Cache
	order      []Family
	underlying *net.Resolver
}

// New builds a Resolver. ttl<=0 disables caching (every lookup misses
// and nothing is stored); order is the address-family preference,
// defaulting to []Family{FamilyInet, FamilyInet6} when empty.
func New(ttl time.Duration, order []Family) *Resolver {
	if len(order) == 0 {
		order = []Family{FamilyInet, FamilyInet6}
	}
	expiry := ttl
	if expiry <= 0 {
		expiry = patrickmncache.NoExpiration
	}
	return &Resolver{
		cache:      patrickmncache.New(ttl, 2*orDefault(ttl)),
		order:      order,
		underlying: &net.Resolver{},
	}
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}

// Resolve looks up host (TTL-cached) and returns a Future; port and
// defaultPort are carried through for the caller's convenience (the
// cache key is host+service only, per §4.4's hostname->address-list
// scope). service/protocol are accepted for SRV-style lookups in a
// fuller resolver but unused by the plain A/AAAA path.
func (r *Resolver) Resolve(ctx context.Context, host string, port, defaultPort int, service, protocol string) *Future {
	f := &Future{done: make(chan struct{})}
	key := host
	if cached, ok := r.cache.Get(key); ok {
		f.addr = cached.([]net.IP)
		close(f.done)
		return f
	}
	go func() {
		defer close(f.done)
		ips, err := r.underlying.LookupIP(ctx, r.network(), host)
		if err != nil {
			f.err = xfer.LookupError(fmt.Sprintf("lookup %s: %v", host, err), err)
			return
		}
		ordered := r.reorder(ips)
		f.addr = ordered
		r.cache.SetDefault(key, ordered)
	}()
	return f
}

func (r *Resolver) network() string {
	if len(r.order) == 1 {
		if r.order[0] == FamilyInet {
			return "ip4"
		}
		if r.order[0] == FamilyInet6 {
			return "ip6"
		}
	}
	return "ip"
}

// reorder sorts resolved addresses to match the configured family
// preference order, per §4.4.
func (r *Resolver) reorder(ips []net.IP) []net.IP {
	rank := func(ip net.IP) int {
		isV4 := ip.To4() != nil
		for i, f := range r.order {
			if (f == FamilyInet && isV4) || (f == FamilyInet6 && !isV4) {
				return i
			}
		}
		return len(r.order)
	}
	out := append([]net.IP(nil), ips...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j]) < rank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Invalidate drops any cached result for host, e.g. after a connect
// failure that should not be trusted for the TTL's remaining life.
func (r *Resolver) Invalidate(host string) {
	r.cache.Delete(host)
}

// HostPort formats host and port the way net.Dial expects.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// DialTCP resolves host through r and dials each candidate address in
// turn, advancing the peer address set's cursor on failure before the
// next attempt, per §3. A nil r (or a failed/empty lookup) falls back
// to a plain dialer.DialContext against host:port, so callers never
// need a separate no-resolver code path.
func DialTCP(ctx context.Context, r *Resolver, dialer *net.Dialer, host string, port int) (net.Conn, error) {
	if r == nil {
		return dialer.DialContext(ctx, "tcp", HostPort(host, port))
	}
	future := r.Resolve(ctx, host, port, port, "", "tcp")
	ips, err := future.Result()
	if err != nil || len(ips) == 0 {
		return dialer.DialContext(ctx, "tcp", HostPort(host, port))
	}

	peers := NewPeerSet(ips, port)
	var lastErr error
	for {
		ip, ok := peers.Current()
		if !ok {
			break
		}
		conn, dialErr := dialer.DialContext(ctx, "tcp", HostPort(ip.String(), peers.Port()))
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
		if !peers.Advance() {
			break
		}
	}
	// every resolved address failed: the cached entry may be stale
	// (e.g. a DNS record that moved), so don't let it haunt the TTL.
	r.Invalidate(host)
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses resolved for %s", host)
	}
	return nil, lastErr
}
