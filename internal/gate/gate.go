// Package gate checks the preconditions of state-changing operations against
// the viewer's role and the cached session state before anything is sent to
// the ledger.
package gate

import (
	"strings"
	"time"

	"ballotwatch/internal/election"
)

// Preconditions named by ValidationError.
const (
	NeedAdmin          = "role must be admin"
	NeedVoter          = "role must be voter"
	NeedAddress        = "target must be a valid chain address"
	NeedParties        = "party list must not be empty"
	NeedDuration       = "duration must be at least one second"
	NeedInactive       = "a session is already active"
	NeedActive         = "no session is active"
	NeedActiveKnown    = "session status is not loaded"
	NeedEndTimeKnown   = "session end time is not loaded"
	NeedEndTimeReached = "session end time has not been reached"
	NeedVoteStatus     = "vote status is not loaded"
	NeedNotVoted       = "viewer has already voted in this session"
	NeedParty          = "a party must be selected"
	NeedKnownParty     = "party is not in the current party list"
)

// Request is a user's intent to perform one operation. Only the fields used
// by Kind are read.
type Request struct {
	Kind     election.OperationKind
	Target   string        // RegisterVoter, AddAdmin
	Parties  []string      // StartSession
	Duration time.Duration // StartSession
	Party    string        // CastVote
}

// View is the state a request is validated against.
type View struct {
	Role    election.Role
	Session election.SessionState
}

// Gate validates requests using its clock for end-time checks.
type Gate struct {
	now func() time.Time
}

// New returns a Gate on the wall clock.
func New() *Gate {
	return &Gate{now: time.Now}
}

// NewWithClock returns a Gate on the given clock.
func NewWithClock(now func() time.Time) *Gate {
	return &Gate{now: now}
}

// Check validates req against v at the current time.
func (g *Gate) Check(req Request, v View) (Request, error) {
	return Validate(req, v, g.now())
}

// Validate applies the rule for req.Kind. On success it returns the
// normalized request: target and party trimmed, parties trimmed and
// deduplicated in first-seen order, duration truncated to whole seconds.
func Validate(req Request, v View, now time.Time) (Request, error) {
	switch req.Kind {
	case election.OpRegisterVoter, election.OpAddAdmin:
		return checkTarget(req, v)
	case election.OpStartSession:
		return checkStart(req, v)
	case election.OpStopSession:
		return checkStop(req, v, now)
	case election.OpCastVote:
		return checkVote(req, v)
	}
	return req, reject(req.Kind, "unknown operation")
}

func reject(kind election.OperationKind, precondition string) error {
	return &election.ValidationError{Kind: kind, Precondition: precondition}
}

func checkTarget(req Request, v View) (Request, error) {
	if v.Role != election.RoleAdmin {
		return req, reject(req.Kind, NeedAdmin)
	}
	req.Target = strings.TrimSpace(req.Target)
	if !election.IsAddress(req.Target) {
		return req, reject(req.Kind, NeedAddress)
	}
	return req, nil
}

func checkStart(req Request, v View) (Request, error) {
	if v.Role != election.RoleAdmin {
		return req, reject(req.Kind, NeedAdmin)
	}
	if !v.Session.ActiveKnown {
		return req, reject(req.Kind, NeedActiveKnown)
	}
	if v.Session.Active {
		return req, reject(req.Kind, NeedInactive)
	}
	req.Parties = NormalizeParties(req.Parties)
	if len(req.Parties) == 0 {
		return req, reject(req.Kind, NeedParties)
	}
	req.Duration = req.Duration.Truncate(time.Second)
	if req.Duration < time.Second {
		return req, reject(req.Kind, NeedDuration)
	}
	return req, nil
}

func checkStop(req Request, v View, now time.Time) (Request, error) {
	if v.Role != election.RoleAdmin {
		return req, reject(req.Kind, NeedAdmin)
	}
	if !v.Session.ActiveKnown {
		return req, reject(req.Kind, NeedActiveKnown)
	}
	if !v.Session.Active {
		return req, reject(req.Kind, NeedActive)
	}
	if !v.Session.EndTimeKnown {
		return req, reject(req.Kind, NeedEndTimeKnown)
	}
	if now.Before(v.Session.EndTime) {
		return req, reject(req.Kind, NeedEndTimeReached)
	}
	return req, nil
}

func checkVote(req Request, v View) (Request, error) {
	if v.Role != election.RoleVoter {
		return req, reject(req.Kind, NeedVoter)
	}
	if !v.Session.ActiveKnown {
		return req, reject(req.Kind, NeedActiveKnown)
	}
	if !v.Session.Active {
		return req, reject(req.Kind, NeedActive)
	}
	if !v.Session.HasVotedKnown {
		return req, reject(req.Kind, NeedVoteStatus)
	}
	if v.Session.ViewerHasVoted {
		return req, reject(req.Kind, NeedNotVoted)
	}
	req.Party = strings.TrimSpace(req.Party)
	if req.Party == "" {
		return req, reject(req.Kind, NeedParty)
	}
	if !v.Session.HasParty(req.Party) {
		return req, reject(req.Kind, NeedKnownParty)
	}
	return req, nil
}

// NormalizeParties trims every name, drops empty ones and removes duplicates
// keeping the first occurrence.
func NormalizeParties(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Allowed reports which operations would currently pass their role and
// session checks, ignoring per-request inputs. Used to enable dashboard
// commands.
func Allowed(v View, now time.Time) map[election.OperationKind]bool {
	out := make(map[election.OperationKind]bool, len(election.AllOperations))
	s := v.Session
	admin := v.Role == election.RoleAdmin
	out[election.OpRegisterVoter] = admin
	out[election.OpAddAdmin] = admin
	out[election.OpStartSession] = admin && s.ActiveKnown && !s.Active
	out[election.OpStopSession] = admin && s.Active && s.EndTimeKnown && !now.Before(s.EndTime)
	out[election.OpCastVote] = v.Role == election.RoleVoter && s.Active && s.HasVotedKnown && !s.ViewerHasVoted
	return out
}
