// Package journal records notifications, transaction records and session
// results to a Store. Hooks enqueue and never block the producer; a single
// writer goroutine drains the queue.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ballotwatch/internal/election"
	"ballotwatch/internal/models"
	"ballotwatch/internal/txn"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

type entry func(ctx context.Context, s Store) error

// Journal is an asynchronous writer in front of a Store.
type Journal struct {
	store   Store
	log     zerolog.Logger
	queue   chan entry
	timeout time.Duration

	mu      sync.Mutex
	dropped int
}

// New creates a Journal. Call Run to start writing.
func New(store Store, log zerolog.Logger) *Journal {
	return &Journal{
		store:   store,
		log:     log.With().Str("component", "journal").Logger(),
		queue:   make(chan entry, DefaultQueueSize),
		timeout: DefaultWriteTimeout,
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is left.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case e := <-j.queue:
			j.write(context.Background(), e)
		case <-ctx.Done():
			for {
				select {
				case e := <-j.queue:
					j.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(parent context.Context, e entry) {
	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()
	if err := e(ctx, j.store); err != nil {
		j.log.Warn().Err(err).Msg("journal write failed")
	}
}

func (j *Journal) enqueue(e entry) {
	select {
	case j.queue <- e:
	default:
		j.mu.Lock()
		j.dropped++
		n := j.dropped
		j.mu.Unlock()
		j.log.Warn().Int("dropped", n).Msg("journal queue full, entry dropped")
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Notification records n as seen by viewer.
func (j *Journal) Notification(viewer string, n election.Notification) {
	row := NotificationRow(viewer, n)
	j.enqueue(func(ctx context.Context, s Store) error {
		return s.SaveNotification(ctx, &row)
	})
}

// Transaction records the latest state of r. Idle records carry no attempt
// and are skipped.
func (j *Journal) Transaction(viewer string, r txn.Record) {
	if r.ID == uuid.Nil || r.State == txn.Idle {
		return
	}
	row := TransactionRow(viewer, r)
	j.enqueue(func(ctx context.Context, s Store) error {
		return s.SaveTransaction(ctx, &row)
	})
}

// Result records the outcome of an ended session.
func (j *Journal) Result(sessionID uint64, snap election.ResultsSnapshot) {
	if snap.Empty() && !snap.Partial {
		return
	}
	row := ResultRow(sessionID, snap)
	j.enqueue(func(ctx context.Context, s Store) error {
		return s.SaveResult(ctx, &row)
	})
}

// NotificationRow converts a notification to its database model.
func NotificationRow(viewer string, n election.Notification) models.Notification {
	return models.Notification{
		ID:      n.ID,
		Viewer:  viewer,
		Kind:    string(n.Kind),
		Message: n.Message,
		Address: n.Address,
		Party:   n.Party,
		Winner:  n.Winner,
		At:      n.At,
	}
}

// TransactionRow converts a transaction record to its database model.
func TransactionRow(viewer string, r txn.Record) models.Transaction {
	row := models.Transaction{
		ID:          r.ID,
		Viewer:      viewer,
		Kind:        r.Kind.String(),
		State:       r.State.String(),
		Handle:      string(r.Handle),
		SubmittedAt: r.SubmittedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Err != nil {
		row.Error = r.Err.Error()
	}
	return row
}

// ResultRow converts a results snapshot to its database model.
func ResultRow(sessionID uint64, snap election.ResultsSnapshot) models.SessionResult {
	row := models.SessionResult{
		SessionID:    sessionID,
		WinningParty: snap.WinningParty,
		Partial:      snap.Partial,
		EndedAt:      snap.At,
	}
	for i, t := range snap.Tally {
		row.Tally = append(row.Tally, models.PartyVote{Party: t.Party, Votes: t.Votes, Position: i})
	}
	return row
}
