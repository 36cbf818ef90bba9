// Package ratelimit implements the token-bucket pair described in
// §4.3: one limiter per transfer (GET and PUT directions) plus two
// shared global buckets across every active transfer.
//
// golang.org/x/time/rate supplies the token-bucket primitive for the
// per-transfer side: BytesAllowed peeks a Limiter's TokensAt, and
// BytesUsed debits it via ReserveN, so the rate-limiting math itself
// lives in rate.Limiter rather than a hand-rolled clone of it. The
// global, process-wide pair still uses the hand-rolled bucket type
// below, because §4.3's global share (peek the shared pool, then
// divide by the live-limiter count before comparing against the
// per-transfer tokens) has no equivalent in rate.Limiter's API — it
// exposes a single bucket's tokens, not one shareable across readers
// with an external divisor.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lftpgo/xfer/xfer/metrics"
	"golang.org/x/time/rate"
)

// Direction selects GET or PUT, per §4.3.
type Direction int

const (
	Get Direction = iota
	Put
)

func (d Direction) String() string {
	if d == Put {
		return "put"
	}
	return "get"
}

// unlimited is the large constant BytesAllowed returns when rate==0.
const unlimited = 1 << 40

// bucket is the hand-rolled token bucket backing the two process-wide
// Global buckets. It exists because §4.3's global share — peek the
// pool, then divide by the live-limiter count before comparing against
// a transfer's own tokens — needs read access to a raw pool value that
// rate.Limiter's API doesn't expose (TokensAt reports one limiter's
// own tokens, not a value meant to be shared and divided externally
// across readers).
type bucket struct {
	mu      sync.Mutex
	rate    float64 // bytes/sec, 0 means unlimited
	poolMax float64
	pool    float64
	last    time.Time
}

func newBucket(bytesPerSec, poolMax float64) *bucket {
	if poolMax <= 0 {
		poolMax = 2 * bytesPerSec
	}
	return &bucket{rate: bytesPerSec, poolMax: poolMax, pool: poolMax, last: time.Now()}
}

func (b *bucket) setRate(bytesPerSec, poolMax float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = bytesPerSec
	if poolMax <= 0 {
		poolMax = 2 * bytesPerSec
	}
	b.poolMax = poolMax
	if b.pool > poolMax {
		b.pool = poolMax
	}
}

func (b *bucket) accrue(now time.Time) {
	if b.rate <= 0 {
		return
	}
	dt := now.Sub(b.last).Seconds()
	if dt <= 0 {
		return
	}
	b.pool += b.rate * dt
	if b.pool > b.poolMax {
		b.pool = b.poolMax
	}
	b.last = now
}

func (b *bucket) peek(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate <= 0 {
		return unlimited
	}
	b.accrue(now)
	if b.pool < 0 {
		return 0
	}
	return b.pool
}

func (b *bucket) debit(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate <= 0 {
		return
	}
	b.pool -= float64(n)
}

// Global holds the two process-wide buckets (GET, PUT) shared by every
// live Limiter, plus the live-limiter count §4.3 divides the global
// pool by. Construct one Global per process (or per test), pass it
// into every Limiter — an explicit, lifetime-scoped resource per
// Design Note 9, not a package-level singleton.
type Global struct {
	get, put *bucket
	active   int64
}

// NewGlobal builds the two shared buckets. rate<=0 means unlimited for
// that direction; max<=0 defaults to 2x rate.
func NewGlobal(getRate, getMax, putRate, putMax float64) *Global {
	return &Global{
		get: newBucket(getRate, getMax),
		put: newBucket(putRate, putMax),
	}
}

// SetLimits updates the global rate/pool-max for a direction at
// runtime (e.g. a ResMgr key changed).
func (g *Global) SetLimits(dir Direction, rate, max float64) {
	g.bucketFor(dir).setRate(rate, max)
}

func (g *Global) bucketFor(dir Direction) *bucket {
	if dir == Put {
		return g.put
	}
	return g.get
}

func (g *Global) activeCount() int64 {
	n := atomic.LoadInt64(&g.active)
	if n < 1 {
		return 1
	}
	return n
}

// Limiter is a per-transfer rate limiter: one GET rate.Limiter, one PUT
// rate.Limiter, plus a reference to the Global buckets it shares, per
// §4.3. BytesAllowed/BytesUsed below drive rlGet/rlPut directly
// (TokensAt to peek, ReserveN to debit) rather than duplicating
// rate.Limiter's own accounting in a second bucket type.
type Limiter struct {
	global *Global
	rlGet  *rate.Limiter
	rlPut  *rate.Limiter
	closed int32
}

// NewLimiter registers a new per-transfer Limiter against global and
// bumps the live-limiter count.
func NewLimiter(global *Global, getRate, getMax, putRate, putMax float64) *Limiter {
	atomic.AddInt64(&global.active, 1)
	return &Limiter{
		global: global,
		rlGet:  rate.NewLimiter(rateLimit(getRate), int(bucketSize(getRate, getMax))),
		rlPut:  rate.NewLimiter(rateLimit(putRate), int(bucketSize(putRate, putMax))),
	}
}

func rateLimit(bytesPerSec float64) rate.Limit {
	if bytesPerSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(bytesPerSec)
}

func bucketSize(bytesPerSec, max float64) float64 {
	if max <= 0 {
		max = 2 * bytesPerSec
	}
	if max <= 0 {
		max = 1 << 20
	}
	return max
}

// Close unregisters this Limiter from the active count. Idempotent.
func (l *Limiter) Close() {
	if atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		atomic.AddInt64(&l.global.active, -1)
	}
}

func (l *Limiter) rlFor(dir Direction) *rate.Limiter {
	if dir == Put {
		return l.rlPut
	}
	return l.rlGet
}

// peekLimiter reports the tokens (bytes) currently available in rl, or
// the unlimited sentinel when rl carries rate.Inf (the rate<=0 case).
func peekLimiter(rl *rate.Limiter, now time.Time) float64 {
	if rl.Limit() == rate.Inf {
		return unlimited
	}
	tokens := rl.TokensAt(now)
	if tokens < 0 {
		return 0
	}
	return tokens
}

// debitLimiter consumes n tokens from rl via ReserveN, the same
// reservation rate.Limiter.WaitN itself builds on — the difference is
// BytesUsed never waits on the reservation's delay, since the caller
// already confirmed via BytesAllowed that n bytes were clear to send.
// A ReserveN that can never be satisfied (n exceeds the bucket's
// burst) reports !OK and is a no-op, mirroring rate<=0 being a no-op.
func debitLimiter(rl *rate.Limiter, n int64) {
	if rl.Limit() == rate.Inf || n <= 0 {
		return
	}
	rl.ReserveN(time.Now(), int(n))
}

// BytesAllowed reports how many bytes may be transferred right now in
// dir, per §4.3 / §8 invariant 3: min(self.tokens, global.pool/active_count);
// never more than the configured burst, or the unlimited sentinel when
// rate==0.
func (l *Limiter) BytesAllowed(dir Direction) int64 {
	now := time.Now()
	self := peekLimiter(l.rlFor(dir), now)
	global := l.global.bucketFor(dir).peek(now)
	if self == unlimited && global == unlimited {
		return unlimited
	}
	allowed := self
	globalShare := global
	if globalShare != unlimited {
		globalShare = global / float64(l.global.activeCount())
	}
	if globalShare < allowed {
		allowed = globalShare
	}
	if allowed < 0 {
		allowed = 0
	}
	return int64(allowed)
}

// BytesUsed debits n bytes from both the per-transfer rate.Limiter and
// the global bucket for dir, per §4.3.
func (l *Limiter) BytesUsed(dir Direction, n int64) {
	debitLimiter(l.rlFor(dir), n)
	l.global.bucketFor(dir).debit(n)
	metrics.RateLimiterBytesUsed.WithLabelValues(dir.String()).Add(float64(n))
}
