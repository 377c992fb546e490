package sessionsync

import (
	"github.com/platinummonkey/idlink/pkg/identity"
)

// State is the synchronizer state
type State int

const (
	StateUninitialized State = iota
	StateSyncing
	StateReady
	StateStale
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the local session state. Identity and
// Session are nil in Ready when the server reports no valid session.
type Snapshot struct {
	State       State
	Identity    *identity.Profile
	Session     *identity.SessionToken
	Observation uint64
}

// SignedIn reports whether the snapshot holds a session
func (s Snapshot) SignedIn() bool {
	return s.Identity != nil && s.Session != nil
}

// Anonymous reports whether the snapshot holds an anonymous session
func (s Snapshot) Anonymous() bool {
	return s.Identity != nil && s.Identity.Kind == identity.KindAnonymous
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Identity != nil {
		p := *s.Identity
		out.Identity = &p
	}
	if s.Session != nil {
		t := *s.Session
		out.Session = &t
	}
	return out
}
