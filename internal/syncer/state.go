package syncer

import (
	"time"

	"ballotwatch/internal/election"
)

// Session returns the derived session state. Parties and end time are only
// reported while the session is known to be active; the vote status only
// while active, for a voter, and for the current session id.
func (s *Synchronizer) Session() election.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st election.SessionState
	if e := s.entries[election.FactSessionID]; e.hasValue {
		st.SessionID = e.value.(uint64)
		st.SessionKnown = true
	}
	if e := s.entries[election.FactActive]; e.hasValue {
		st.Active = e.value.(bool)
		st.ActiveKnown = true
	}
	if st.Active {
		if e := s.entries[election.FactParties]; e.hasValue {
			parties := e.value.([]string)
			st.Parties = make([]string, len(parties))
			copy(st.Parties, parties)
		}
		if e := s.entries[election.FactEndTime]; e.hasValue {
			st.EndTime = e.value.(time.Time)
			st.EndTimeKnown = true
		}
		if e := s.entries[election.FactHasVoted]; e.hasValue && st.SessionKnown && e.session == st.SessionID && s.roles.Role() == election.RoleVoter {
			st.ViewerHasVoted = e.value.(bool)
			st.HasVotedKnown = true
		}
	}
	for _, f := range election.AllFacts {
		if s.entries[f].stale {
			st.Stale = append(st.Stale, f)
		}
	}
	return st
}

// Results returns the last session's results snapshot.
func (s *Synchronizer) Results() election.ResultsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.results
	r.Tally = append([]election.PartyTally(nil), s.results.Tally...)
	return r
}

// SetResults stores the results of an ended session.
func (s *Synchronizer) SetResults(r election.ResultsSnapshot) {
	s.mu.Lock()
	s.results = r
	s.mu.Unlock()
}

// ClearResults drops the stored results when a new session starts.
func (s *Synchronizer) ClearResults() {
	s.mu.Lock()
	s.results = election.ResultsSnapshot{}
	s.mu.Unlock()
}
