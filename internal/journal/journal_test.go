package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
	"ballotwatch/internal/models"
	"ballotwatch/internal/txn"
)

const viewer = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type memStore struct {
	mu            sync.Mutex
	notifications []models.Notification
	transactions  map[uuid.UUID]models.Transaction
	results       []models.SessionResult
	fail          error
}

func newMemStore() *memStore {
	return &memStore{transactions: make(map[uuid.UUID]models.Transaction)}
}

func (s *memStore) SaveNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *memStore) SaveTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = *t
	return nil
}

func (s *memStore) SaveResult(_ context.Context, r *models.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *r)
	return nil
}

func (s *memStore) snapshot() ([]models.Notification, map[uuid.UUID]models.Transaction, []models.SessionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := make(map[uuid.UUID]models.Transaction, len(s.transactions))
	for k, v := range s.transactions {
		tx[k] = v
	}
	return append([]models.Notification(nil), s.notifications...), tx, append([]models.SessionResult(nil), s.results...)
}

func runJournal(t *testing.T, store Store) (*Journal, func()) {
	t.Helper()
	j := New(store, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()
	return j, func() {
		cancel()
		<-done
	}
}

func TestJournal_WritesEntries(t *testing.T) {
	store := newMemStore()
	j, stop := runJournal(t, store)

	n := election.NewNotification(election.NotifySessionEnded, "Voting ended! Winner: %s", "Blue")
	n.Winner = "Blue"
	j.Notification(viewer, n)

	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.Transaction(viewer, txn.Record{ID: id, Kind: election.OpCastVote, State: txn.PendingConfirmation, Handle: "0xabc", SubmittedAt: at, UpdatedAt: at})
	j.Transaction(viewer, txn.Record{ID: id, Kind: election.OpCastVote, State: txn.Failed, Handle: "0xabc",
		Err: &election.ConfirmationError{Kind: election.OpCastVote, Handle: "0xabc", Err: &ledger.RevertError{Reason: "already voted"}}, SubmittedAt: at, UpdatedAt: at.Add(time.Second)})
	j.Transaction(viewer, txn.Record{Kind: election.OpCastVote})

	j.Result(3, election.ResultsSnapshot{
		WinningParty: "Blue",
		Tally:        []election.PartyTally{{Party: "Blue", Votes: 2}, {Party: "Red", Votes: 1}},
		At:           at,
	})
	j.Result(4, election.ResultsSnapshot{})
	stop()

	notes, txs, results := store.snapshot()
	require.Len(t, notes, 1)
	assert.Equal(t, n.ID, notes[0].ID)
	assert.Equal(t, viewer, notes[0].Viewer)
	assert.Equal(t, "session_ended", notes[0].Kind)
	assert.Equal(t, "Blue", notes[0].Winner)

	require.Len(t, txs, 1)
	row := txs[id]
	assert.Equal(t, "failed", row.State)
	assert.Equal(t, "cast_vote", row.Kind)
	assert.Contains(t, row.Error, "already voted")

	require.Len(t, results, 1)
	assert.Equal(t, uint64(3), results[0].SessionID)
	require.Len(t, results[0].Tally, 2)
	assert.Equal(t, models.PartyVote{Party: "Red", Votes: 1, Position: 1}, results[0].Tally[1])
}

func TestJournal_StoreErrorsAreNotFatal(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")
	j, stop := runJournal(t, store)

	j.Notification(viewer, election.NewNotification(election.NotifyVoteCast, "Vote cast"))
	j.Transaction(viewer, txn.Record{ID: uuid.New(), Kind: election.OpStopSession, State: txn.Confirmed})
	stop()

	notes, txs, _ := store.snapshot()
	assert.Empty(t, notes)
	assert.Len(t, txs, 1)
}

func TestJournal_DropsWhenQueueFull(t *testing.T) {
	j := New(newMemStore(), zerolog.Nop())
	for i := 0; i < DefaultQueueSize+3; i++ {
		j.Notification(viewer, election.NewNotification(election.NotifyVoteCast, "Vote cast"))
	}
	assert.Equal(t, 3, j.Dropped())
}

func TestResultRow_Partial(t *testing.T) {
	row := ResultRow(0, election.ResultsSnapshot{WinningParty: "Blue", Partial: true})
	assert.True(t, row.Partial)
	assert.Empty(t, row.Tally)
	assert.Equal(t, "Blue", row.WinningParty)
}
