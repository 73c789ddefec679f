// Package election defines the vocabulary shared by the coordinator:
// roles, cached facts, operation kinds, ledger events and the error taxonomy.
package election

import (
	"time"
)

// ViewerIdentity is supplied by the wallet/connectivity layer.
// Address is only meaningful when Connected is true.
type ViewerIdentity struct {
	Connected bool
	Address   string
}

// HasAddress reports whether the identity carries a usable address.
func (v ViewerIdentity) HasAddress() bool {
	return v.Connected && v.Address != ""
}

// Role is the viewer's authorization role. It is always derived, never set.
type Role int

const (
	RoleLoading Role = iota
	RoleAdmin
	RoleVoter
	RoleUnauthorized
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleVoter:
		return "voter"
	case RoleUnauthorized:
		return "unauthorized"
	default:
		return "loading"
	}
}

// Fact is one independently refreshable piece of ledger state.
type Fact int

const (
	FactSessionID Fact = iota
	FactActive
	FactParties
	FactEndTime
	FactHasVoted
	FactIsAdmin
	FactIsRegistered
)

// AllFacts lists every fact in refresh order: role reads and the active flag
// come first so dependent facts find their prerequisites resolved.
var AllFacts = []Fact{
	FactIsAdmin,
	FactIsRegistered,
	FactActive,
	FactSessionID,
	FactParties,
	FactEndTime,
	FactHasVoted,
}

func (f Fact) String() string {
	switch f {
	case FactSessionID:
		return "session_id"
	case FactActive:
		return "active"
	case FactParties:
		return "parties"
	case FactEndTime:
		return "end_time"
	case FactHasVoted:
		return "has_voted"
	case FactIsAdmin:
		return "is_admin"
	case FactIsRegistered:
		return "is_registered"
	default:
		return "unknown"
	}
}

// OperationKind names one of the five state-changing ledger operations.
type OperationKind int

const (
	OpRegisterVoter OperationKind = iota
	OpAddAdmin
	OpStartSession
	OpStopSession
	OpCastVote
)

// AllOperations lists every operation kind.
var AllOperations = []OperationKind{
	OpRegisterVoter,
	OpAddAdmin,
	OpStartSession,
	OpStopSession,
	OpCastVote,
}

func (k OperationKind) String() string {
	switch k {
	case OpRegisterVoter:
		return "register_voter"
	case OpAddAdmin:
		return "add_admin"
	case OpStartSession:
		return "start_session"
	case OpStopSession:
		return "stop_session"
	case OpCastVote:
		return "cast_vote"
	default:
		return "unknown"
	}
}

// Title is the operation's display name.
func (k OperationKind) Title() string {
	switch k {
	case OpRegisterVoter:
		return "Register Voter"
	case OpAddAdmin:
		return "Add Admin"
	case OpStartSession:
		return "Start Voting"
	case OpStopSession:
		return "Stop Voting"
	case OpCastVote:
		return "Vote"
	default:
		return "Unknown"
	}
}

// ParseOperationKind is the inverse of OperationKind.String.
func ParseOperationKind(s string) (OperationKind, bool) {
	for _, k := range AllOperations {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// SessionState is the coordinator's derived view of the current session.
//
// Parties and EndTime are only populated while Active is true, and
// ViewerHasVoted only while Active is true and the viewer is a voter.
// The *Known flags distinguish "not loaded yet" from zero values.
type SessionState struct {
	SessionID      uint64
	SessionKnown   bool
	Active         bool
	ActiveKnown    bool
	Parties        []string
	EndTime        time.Time
	EndTimeKnown   bool
	ViewerHasVoted bool
	HasVotedKnown  bool

	// Stale lists facts whose last refresh failed and whose value is the
	// previously cached one.
	Stale []Fact
}

// HasParty reports whether party is in the current party list.
func (s SessionState) HasParty(party string) bool {
	for _, p := range s.Parties {
		if p == party {
			return true
		}
	}
	return false
}

// PartyTally is one (party, votes) pair of a results snapshot.
type PartyTally struct {
	Party string `json:"party"`
	Votes uint64 `json:"votes"`
}

// ResultsSnapshot holds the outcome of the last ended session.
type ResultsSnapshot struct {
	WinningParty string       `json:"winning_party,omitempty"`
	Tally        []PartyTally `json:"tally,omitempty"`
	// Partial is set when the payload's tally could not be trusted
	// (missing arrays or mismatched lengths).
	Partial bool      `json:"partial,omitempty"`
	At      time.Time `json:"at"`
}

// Empty reports whether the snapshot carries nothing to show.
func (r ResultsSnapshot) Empty() bool {
	return r.WinningParty == "" && len(r.Tally) == 0
}
