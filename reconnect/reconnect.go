// Package reconnect implements the exponential-backoff reconnect
// policy of §5/§7: "Recover locally" failures (4xx-retriable codes,
// retriable 530s, TCP reset/EOF mid-transfer) drive Disconnect +
// backoff + retry, capped by net:max-retries/net:persist-retries and
// reset on success.
//
// github.com/jpillora/backoff supplies the exponential-delay
// calculation. It already rides along as an indirect dependency
// pulled in by the teacher's own module graph (rclone's go.mod lists
// it under require/indirect); that's exactly the primitive this
// policy needs, so it is promoted here to a direct, exercised
// dependency instead of a hand-rolled multiplier loop.
package reconnect

import (
	"time"

	"github.com/jpillora/backoff"
)

// Policy tracks one session's retry/backoff state against its
// configured limits, per §6's net:reconnect-interval-base/-multiplier/
// -max and net:max-retries/net:persist-retries keys.
type Policy struct {
	delay      *backoff.Backoff
	maxRetries int
	persistMax int
	attempts   int
	persisted  int
}

// New builds a Policy. multiplier<=0 defaults to 2 (matching
// jpillora/backoff's own default). maxRetries/persistMax of 0 mean
// unlimited, per §6.
func New(base, max time.Duration, multiplier float64, maxRetries, persistMax int) *Policy {
	return &Policy{
		delay:      &backoff.Backoff{Min: base, Max: max, Factor: multiplier},
		maxRetries: maxRetries,
		persistMax: persistMax,
	}
}

// Next reports the delay before the next ordinary retry attempt and
// whether net:max-retries still allows one.
func (p *Policy) Next() (time.Duration, bool) {
	if p.maxRetries > 0 && p.attempts >= p.maxRetries {
		return 0, false
	}
	p.attempts++
	return p.delay.Duration(), true
}

// NextPersistent is Next's counterpart for data-socket hangups
// mid-transfer, governed by net:persist-retries instead.
func (p *Policy) NextPersistent() (time.Duration, bool) {
	if p.persistMax > 0 && p.persisted >= p.persistMax {
		return 0, false
	}
	p.persisted++
	return p.delay.Duration(), true
}

// Reset clears both counters and the backoff delay, per §6 ("reset on
// success").
func (p *Policy) Reset() {
	p.attempts = 0
	p.persisted = 0
	p.delay.Reset()
}
