package journal

import (
	"ballotwatch/internal/coordinator"
	"ballotwatch/internal/election"
	"ballotwatch/internal/txn"
)

// Attach journals everything s produces.
func (j *Journal) Attach(s *coordinator.Session) {
	viewer := func() string { return s.Viewer().Address }

	s.OnNotification(func(n election.Notification) {
		j.Notification(viewer(), n)
		if n.Kind == election.NotifySessionEnded {
			v := s.View()
			var id uint64
			if v.Session.SessionKnown {
				id = v.Session.SessionID
			}
			j.Result(id, v.Results)
		}
	})
	s.OnRecord(func(r txn.Record) {
		j.Transaction(viewer(), r)
	})
}
