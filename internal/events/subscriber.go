// Package events consumes the ledger's event streams, invalidates the cached
// facts each event affects and turns events into user-visible notifications.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

// DefaultRetryDelay is the pause before re-establishing a lost subscription.
const DefaultRetryDelay = 3 * time.Second

// Cache is the part of the state synchronizer events write to.
type Cache interface {
	Invalidate(facts ...election.Fact)
	SetResults(election.ResultsSnapshot)
	ClearResults()
	Viewer() election.ViewerIdentity
}

// Notifier receives notifications. It must not block.
type Notifier func(election.Notification)

// invalidations is the dispatch table: the facts each event kind makes stale.
// Active is listed first so dependent reads wait for it.
var invalidations = map[election.EventKind][]election.Fact{
	election.EventVoterRegistered: {
		election.FactIsRegistered,
		election.FactSessionID,
	},
	election.EventSessionStarted: {
		election.FactActive,
		election.FactSessionID,
		election.FactParties,
		election.FactEndTime,
		election.FactHasVoted,
	},
	election.EventVoteCast: {
		election.FactHasVoted,
	},
	election.EventSessionEnded: {
		election.FactActive,
		election.FactSessionID,
		election.FactParties,
		election.FactEndTime,
	},
}

// Invalidates returns the facts an event kind invalidates.
func Invalidates(kind election.EventKind) []election.Fact {
	return append([]election.Fact(nil), invalidations[kind]...)
}

// Subscriber keeps one subscription per event kind alive.
type Subscriber struct {
	source     ledger.Subscriber
	cache      Cache
	notify     Notifier
	log        zerolog.Logger
	clock      func() time.Time
	retryDelay time.Duration

	mu      sync.Mutex
	running map[election.EventKind]bool
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Subscriber) { s.retryDelay = d }
}

// WithClock overrides the clock used to stamp results.
func WithClock(clock func() time.Time) Option {
	return func(s *Subscriber) { s.clock = clock }
}

// New creates a Subscriber. notify may be nil.
func New(source ledger.Subscriber, cache Cache, notify Notifier, log zerolog.Logger, opts ...Option) *Subscriber {
	if notify == nil {
		notify = func(election.Notification) {}
	}
	s := &Subscriber{
		source:     source,
		cache:      cache,
		notify:     notify,
		log:        log.With().Str("component", "events").Logger(),
		clock:      time.Now,
		retryDelay: DefaultRetryDelay,
		running:    make(map[election.EventKind]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run subscribes to every event kind and keeps the subscriptions alive until
// ctx is cancelled. Subscriptions are released before Run returns.
func (s *Subscriber) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, kind := range election.AllEventKinds {
		wg.Add(1)
		go func(kind election.EventKind) {
			defer wg.Done()
			s.maintain(ctx, kind)
		}(kind)
	}
	wg.Wait()
	return nil
}

// Subscribed reports whether the subscription for kind is currently live.
func (s *Subscriber) Subscribed(kind election.EventKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[kind]
}

func (s *Subscriber) setRunning(kind election.EventKind, v bool) {
	s.mu.Lock()
	s.running[kind] = v
	s.mu.Unlock()
}

// maintain re-establishes the subscription for kind whenever it breaks.
func (s *Subscriber) maintain(ctx context.Context, kind election.EventKind) {
	for {
		err := s.subscribeOnce(ctx, kind)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Stringer("event", kind).Dur("retry_in", s.retryDelay).Msg("subscription lost, resubscribing")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Subscriber) subscribeOnce(ctx context.Context, kind election.EventKind) error {
	sub, err := s.source.Subscribe(ctx, kind, s.Handle)
	if err != nil {
		return &election.SubscriptionError{Event: kind, Err: err}
	}
	s.setRunning(kind, true)
	s.log.Debug().Stringer("event", kind).Msg("subscribed")
	defer func() {
		s.setRunning(kind, false)
		sub.Unsubscribe()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-sub.Err():
		if !ok || err == nil {
			err = errors.New("subscription closed")
		}
		return &election.SubscriptionError{Event: kind, Err: err}
	}
}

// Handle dispatches one decoded event. Invalidation always happens; an
// incomplete payload only degrades the notification.
func (s *Subscriber) Handle(ev election.Event) {
	if ev == nil {
		return
	}
	kind := ev.Kind()
	s.log.Debug().Stringer("event", kind).Interface("payload", ev).Msg("event received")

	switch e := ev.(type) {
	case election.SessionStarted:
		s.cache.ClearResults()
	case election.SessionEnded:
		snap := ResultsFrom(e, s.clock())
		if snap.Partial {
			s.log.Warn().Int("parties", len(e.Parties)).Int("vote_counts", len(e.VoteCounts)).Msg("session ended with an incomplete tally")
		}
		s.cache.SetResults(snap)
	}

	s.cache.Invalidate(invalidations[kind]...)
	s.notify(s.notification(ev))
}

func (s *Subscriber) notification(ev election.Event) election.Notification {
	switch e := ev.(type) {
	case election.VoterRegistered:
		if e.Voter == "" {
			return election.NewNotification(election.NotifyVoterRegistered, "Voter registered")
		}
		n := election.NewNotification(election.NotifyVoterRegistered, "Voter registered: %s", e.Voter)
		n.Address = e.Voter
		return n

	case election.SessionStarted:
		return election.NewNotification(election.NotifySessionStarted, "New voting session has started!")

	case election.VoteCast:
		if e.Voter == "" || e.Party == "" {
			return election.NewNotification(election.NotifyVoteCast, "Vote cast")
		}
		n := election.NewNotification(election.NotifyVoteCast, "Vote cast by %s for %s", e.Voter, e.Party)
		n.Address = e.Voter
		n.Party = e.Party
		if election.SameAddress(e.Voter, s.cache.Viewer().Address) {
			n.Message = "Your vote for " + e.Party + " was recorded"
		}
		return n

	case election.SessionEnded:
		if e.WinningParty == "" {
			return election.NewNotification(election.NotifySessionEnded, "Voting session ended")
		}
		n := election.NewNotification(election.NotifySessionEnded, "Voting ended! Winner: %s", e.WinningParty)
		n.Winner = e.WinningParty
		return n
	}
	return election.NewNotification(election.NotificationKind("unknown"), "Unknown ledger event")
}

// ResultsFrom builds a results snapshot from a SessionEnded payload. Parties
// and vote counts are paired by index only when both are present and equally
// long; otherwise the tally is dropped and the snapshot marked partial.
func ResultsFrom(e election.SessionEnded, at time.Time) election.ResultsSnapshot {
	snap := election.ResultsSnapshot{
		WinningParty: e.WinningParty,
		At:           at,
	}
	switch {
	case e.Parties == nil || e.VoteCounts == nil:
		snap.Partial = true
	case len(e.Parties) != len(e.VoteCounts):
		snap.Partial = true
	default:
		snap.Tally = make([]election.PartyTally, len(e.Parties))
		for i, party := range e.Parties {
			snap.Tally[i] = election.PartyTally{Party: party, Votes: e.VoteCounts[i]}
		}
	}
	if e.WinningParty == "" {
		snap.Partial = true
	}
	return snap
}
