// Package pool implements the SessionPool and take-over procedure of
// §4.7, plus the SessionRegistry Design Note 9 asks for in place of
// the teacher's pointer graph between peers (FirstSameSite/
// NextSameSite): a registry holding handles keyed by identity that
// owns no sessions itself.
package pool

import (
	"sync"

	"github.com/lftpgo/xfer/xfer"
)

const capacityDefault = 64

// Registry enumerates live sessions by identity without owning them —
// Design Note 9's "weak handles keyed by identity, yielding iterators;
// the registry owns no sessions".
type Registry struct {
	mu       sync.Mutex
	sessions map[xfer.Identity][]xfer.Session
	lastCwd  map[xfer.Identity]string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: map[xfer.Identity][]xfer.Session{},
		lastCwd:  map[xfer.Identity]string{},
	}
}

// Track records that session is live and reachable by its identity.
func (r *Registry) Track(s xfer.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.Identity()
	r.sessions[id] = append(r.sessions[id], s)
}

// Untrack removes session from the registry (it does not close it).
func (r *Registry) Untrack(s xfer.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.Identity()
	peers := r.sessions[id]
	for i, p := range peers {
		if p == s {
			r.sessions[id] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if cwd := s.Cwd(); cwd != "" {
		r.lastCwd[id] = cwd
	}
}

// SameSite enumerates every tracked session sharing s's identity,
// replacing the teacher's FirstSameSite/NextSameSite pointer walk with
// a plain iterator.
func (r *Registry) SameSite(s xfer.Session) []xfer.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.Identity()
	out := make([]xfer.Session, 0, len(r.sessions[id]))
	for _, p := range r.sessions[id] {
		if p != s {
			out = append(out, p)
		}
	}
	return out
}

// LastCWD returns the last working directory recorded for identity, if
// any — the "cd -" history of §3/§6.
func (r *Registry) LastCWD(id xfer.Identity) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cwd, ok := r.lastCwd[id]
	return cwd, ok
}

// Pool is the fixed-capacity ring of recently-used sessions described
// in §4.7. Reuse drops the session when the pool is full (LRU
// eviction of the oldest entry).
type Pool struct {
	mu       sync.Mutex
	capacity int
	ring     []xfer.Session
	next     int // index of the next slot to overwrite
	registry *Registry
}

// New builds a Pool with the default capacity (64) backed by registry
// for same-site enumeration.
func New(registry *Registry) *Pool {
	return &Pool{capacity: capacityDefault, registry: registry}
}

// Reuse returns session to the pool. When the pool is at capacity the
// oldest entry is evicted (closed) to make room, per §4.7.
func (p *Pool) Reuse(s xfer.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ring) < p.capacity {
		p.ring = append(p.ring, s)
		return
	}
	evicted := p.ring[p.next]
	evicted.Disconnect()
	p.ring[p.next] = s
	p.next = (p.next + 1) % p.capacity
}

// Walk calls fn for each pooled session matching protocol (empty
// string matches any), per §4.7's "(index, protocol filter)" walker.
func (p *Pool) Walk(protocol string, fn func(xfer.Session) bool) {
	p.mu.Lock()
	snapshot := append([]xfer.Session(nil), p.ring...)
	p.mu.Unlock()
	for _, s := range snapshot {
		if protocol != "" && s.Identity().Protocol != protocol {
			continue
		}
		if !fn(s) {
			return
		}
	}
}

// remove drops s from the ring without closing it (used once it has
// been handed off via take-over).
func (p *Pool) remove(s xfer.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.ring {
		if e == s {
			p.ring = append(p.ring[:i], p.ring[i+1:]...)
			if p.next > i {
				p.next--
			}
			return
		}
	}
}
