package pool

import "github.com/lftpgo/xfer/xfer"

// Takeover is implemented by driver sessions that support connection
// hand-off, per §4.7's take-over procedure. AdoptFrom atomically moves
// src's live control/data channels, response queue, path queue, and
// rate limiter into the receiver; src must end up Disconnected with
// empty buffer/queue pointers, per §8 invariant 5.
type Takeover interface {
	xfer.Session
	// IntendedPath is the path this (disconnected) session wants to
	// operate against once reconnected/taken-over.
	IntendedPath() string
	// Priority ranks sessions for Level 2 eviction: lower is evicted
	// first. Suspended sessions should rank below active ones.
	Priority() int
	// AdoptFrom moves src's owned resources into the receiver and
	// leaves src Disconnected.
	AdoptFrom(src Takeover) error
}

// Level names the three take-over tiers of §4.7.
type Level int

const (
	LevelIdleSamePath Level = iota
	LevelIdleAnyPath
	LevelEvictLowerPriority
)

// Outcome reports what take-over chose to do.
type Outcome struct {
	Level     Level
	Succeeded bool
	Source    Takeover
}

// TakeOver runs §4.7's procedure for requester against the sessions
// tracked in registry, honoring connectionLimit for Level 2.
func TakeOver(registry *Registry, requester Takeover, connectionLimit int) Outcome {
	peers := sameSiteTakeover(registry, requester)

	// Level 0: idle peer with matching intended path.
	for _, peer := range peers {
		if peer.Idle() && peer.IntendedPath() == requester.IntendedPath() {
			if err := requester.AdoptFrom(peer); err == nil {
				return Outcome{Level: LevelIdleSamePath, Succeeded: true, Source: peer}
			}
		}
	}

	// Level 1: any idle peer, regardless of path.
	for _, peer := range peers {
		if peer.Idle() {
			if err := requester.AdoptFrom(peer); err == nil {
				return Outcome{Level: LevelIdleAnyPath, Succeeded: true, Source: peer}
			}
		}
	}

	// Level 2: at the connection limit, evict the lowest-priority or
	// suspended peer and let the caller reconnect fresh; otherwise a
	// brand new connection is allowed (no take-over needed).
	if len(peers) >= connectionLimit && connectionLimit > 0 {
		var lowest Takeover
		for _, peer := range peers {
			if lowest == nil || peer.Priority() < lowest.Priority() {
				lowest = peer
			}
		}
		if lowest != nil {
			lowest.Disconnect()
			return Outcome{Level: LevelEvictLowerPriority, Succeeded: true, Source: lowest}
		}
	}

	return Outcome{Succeeded: false}
}

func sameSiteTakeover(registry *Registry, requester Takeover) []Takeover {
	sessions := registry.SameSite(requester)
	peers := make([]Takeover, 0, len(sessions))
	for _, s := range sessions {
		if t, ok := s.(Takeover); ok {
			peers = append(peers, t)
		}
	}
	return peers
}
