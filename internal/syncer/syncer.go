// Package syncer owns the cached view of ledger state. Each fact is refreshed
// independently with at most one read in flight, and results are applied in
// fetch-sequence order so a slow read never overwrites a fresher one.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
	"ballotwatch/internal/role"
)

// FactStatus describes the cache entry of one fact.
type FactStatus struct {
	HasValue bool
	Stale    bool
	Deferred bool
	InFlight bool
	AsOf     time.Time
	// Seq is the fetch sequence number of the applied value.
	Seq     uint64
	LastErr error
}

type flight struct {
	done chan struct{}
	err  error
}

func newFlight() *flight {
	return &flight{done: make(chan struct{})}
}

func (f *flight) finish(err error) {
	f.err = err
	close(f.done)
}

type entry struct {
	value    any
	hasValue bool
	asOf     time.Time
	stale    bool
	lastErr  error
	deferred bool

	// session is the session id a has-voted value was read for.
	session uint64

	nextSeq    uint64
	appliedSeq uint64

	running *flight
	queued  *flight
}

// busy reports whether a read of the entry is outstanding or queued.
func (e *entry) busy() bool {
	return e.running != nil || e.queued != nil
}

// Synchronizer is the per-viewer fact cache.
type Synchronizer struct {
	reader ledger.Reader
	log    zerolog.Logger
	clock  func() time.Time
	roles  *role.Tracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	viewer    election.ViewerIdentity
	entries   map[election.Fact]*entry
	results   election.ResultsSnapshot
	observers []func(election.Fact)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the clock used for as-of markers.
func WithClock(clock func() time.Time) Option {
	return func(s *Synchronizer) { s.clock = clock }
}

// New creates a synchronizer reading through r. It starts with a
// disconnected viewer; call SetViewer before refreshing.
func New(r ledger.Reader, log zerolog.Logger, opts ...Option) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		reader:  r,
		log:     log.With().Str("component", "syncer").Logger(),
		clock:   time.Now,
		roles:   role.NewTracker(),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[election.Fact]*entry, len(election.AllFacts)),
	}
	for _, f := range election.AllFacts {
		s.entries[f] = &entry{}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChange registers an observer called after a fact's cache entry changes.
// Observers run on the refreshing goroutine and must not block.
func (s *Synchronizer) OnChange(fn func(election.Fact)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// SetViewer updates the viewer identity. Disconnecting or switching address
// tears the cache down to its loading state; reads still in flight for the
// previous viewer are fenced off by sequence number.
func (s *Synchronizer) SetViewer(id election.ViewerIdentity) {
	s.mu.Lock()
	changed := id.Connected != s.viewer.Connected || !election.SameAddress(id.Address, s.viewer.Address)
	if !id.Connected {
		id.Address = ""
	}
	s.viewer = id
	s.roles.SetViewer(id)
	if changed {
		s.resetLocked()
		s.results = election.ResultsSnapshot{}
	}
	s.mu.Unlock()

	if changed {
		s.log.Debug().Bool("connected", id.Connected).Str("address", id.Address).Msg("viewer changed, cache reset")
		for _, f := range election.AllFacts {
			s.notify(f)
		}
	}
}

func (s *Synchronizer) resetLocked() {
	for _, e := range s.entries {
		e.value = nil
		e.hasValue = false
		e.asOf = time.Time{}
		e.stale = false
		e.lastErr = nil
		e.deferred = false
		e.session = 0
		e.appliedSeq = e.nextSeq
		// Detach in-flight reads; their results land behind the fence.
		e.running = nil
		if e.queued != nil {
			e.queued.finish(nil)
			e.queued = nil
		}
	}
}

// Viewer returns the current viewer identity.
func (s *Synchronizer) Viewer() election.ViewerIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewer
}

// Role returns the viewer's role as derived from the cached role reads.
func (s *Synchronizer) Role() election.Role {
	return s.roles.Role()
}

// Refresh re-reads one fact and waits for the outcome. A refresh requested
// while a read of the same fact is in flight is coalesced into a single
// follow-up read. Deferred and no-op requests return nil immediately.
// A failed read returns *election.ReadError and leaves the cached value in
// place.
func (s *Synchronizer) Refresh(ctx context.Context, f election.Fact) error {
	s.mu.Lock()
	fl := s.requestLocked(f)
	s.mu.Unlock()

	select {
	case <-fl.done:
		return fl.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAll refreshes every fact and returns the joined read errors.
func (s *Synchronizer) RefreshAll(ctx context.Context) error {
	s.mu.Lock()
	flights := make([]*flight, 0, len(election.AllFacts))
	for _, f := range election.AllFacts {
		flights = append(flights, s.requestLocked(f))
	}
	s.mu.Unlock()

	var errs []error
	for _, fl := range flights {
		select {
		case <-fl.done:
			if fl.err != nil {
				errs = append(errs, fl.err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Invalidate schedules a refresh of each fact without waiting. Failures are
// logged and leave the previous values in place.
func (s *Synchronizer) Invalidate(facts ...election.Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facts {
		s.requestLocked(f)
	}
}

// Status returns the cache status of one fact.
func (s *Synchronizer) Status(f election.Fact) FactStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[f]
	return FactStatus{
		HasValue: e.hasValue,
		Stale:    e.stale,
		Deferred: e.deferred,
		InFlight: e.running != nil,
		AsOf:     e.asOf,
		Seq:      e.appliedSeq,
		LastErr:  e.lastErr,
	}
}

// Close cancels outstanding reads and waits for their goroutines.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

type decision int

const (
	decideRead decision = iota
	decideSkip
	decideDefer
)

// gateLocked decides whether a read of f may be issued now and with which
// arguments.
func (s *Synchronizer) gateLocked(f election.Fact) (decision, []any, uint64) {
	if s.ctx.Err() != nil || !s.viewer.Connected {
		return decideSkip, nil, 0
	}
	switch f {
	case election.FactIsAdmin, election.FactIsRegistered:
		if s.viewer.Address == "" {
			return decideDefer, nil, 0
		}
		return decideRead, []any{s.viewer.Address}, 0

	case election.FactParties, election.FactEndTime:
		active := s.entries[election.FactActive]
		if !active.hasValue || active.busy() {
			return decideDefer, nil, 0
		}
		if !active.value.(bool) {
			return decideSkip, nil, 0
		}
		return decideRead, nil, 0

	case election.FactHasVoted:
		active := s.entries[election.FactActive]
		session := s.entries[election.FactSessionID]
		if active.busy() || session.busy() {
			return decideDefer, nil, 0
		}
		if active.hasValue && !active.value.(bool) {
			return decideSkip, nil, 0
		}
		if !active.hasValue || !session.hasValue || s.viewer.Address == "" || s.roles.Role() != election.RoleVoter {
			return decideDefer, nil, 0
		}
		id := session.value.(uint64)
		return decideRead, []any{ledger.Uint256(id), s.viewer.Address}, id
	}
	return decideRead, nil, 0
}

// requestLocked returns the flight that will satisfy a refresh of f.
func (s *Synchronizer) requestLocked(f election.Fact) *flight {
	e := s.entries[f]
	if e.running != nil {
		if e.queued == nil {
			e.queued = newFlight()
		}
		return e.queued
	}
	return s.launchLocked(f, newFlight())
}

func (s *Synchronizer) launchLocked(f election.Fact, fl *flight) *flight {
	e := s.entries[f]
	dec, args, session := s.gateLocked(f)
	switch dec {
	case decideSkip:
		e.deferred = false
		fl.finish(nil)
		return fl
	case decideDefer:
		e.deferred = true
		fl.finish(nil)
		return fl
	}

	e.deferred = false
	e.nextSeq++
	seq := e.nextSeq
	e.running = fl

	s.wg.Add(1)
	go s.fetch(f, fl, seq, session, args)
	return fl
}

func (s *Synchronizer) fetch(f election.Fact, fl *flight, seq, session uint64, args []any) {
	defer s.wg.Done()

	raw, err := s.reader.Read(s.ctx, readFunction(f), args...)
	var v any
	if err == nil {
		v, err = decode(f, raw)
	}
	var rerr error
	if err != nil {
		rerr = &election.ReadError{Fact: f, Err: err}
	}

	s.mu.Lock()
	changed := s.commitLocked(f, seq, session, v, rerr)
	e := s.entries[f]
	if e.running == fl {
		e.running = nil
		if e.queued != nil {
			next := e.queued
			e.queued = nil
			s.launchLocked(f, next)
		}
	}
	s.resumeDeferredLocked()
	s.mu.Unlock()

	if changed {
		s.notify(f)
	}
	fl.finish(rerr)
}

// commitLocked applies a read outcome if its sequence number is newer than
// the applied one. Failures keep the previous value and mark it stale.
func (s *Synchronizer) commitLocked(f election.Fact, seq, session uint64, v any, err error) bool {
	e := s.entries[f]
	if seq <= e.appliedSeq {
		s.log.Debug().Stringer("fact", f).Uint64("seq", seq).Uint64("applied", e.appliedSeq).Msg("discarding out-of-order read")
		return false
	}
	if err != nil {
		e.stale = true
		e.lastErr = err
		s.log.Warn().Err(err).Stringer("fact", f).Uint64("seq", seq).Msg("read failed, keeping cached value")
		return true
	}

	prev, hadPrev := e.value, e.hasValue
	e.value = v
	e.hasValue = true
	e.asOf = s.clock()
	e.stale = false
	e.lastErr = nil
	e.appliedSeq = seq
	e.session = session

	switch f {
	case election.FactIsAdmin:
		s.roles.SetAdmin(role.Read{Value: v.(bool)})
	case election.FactIsRegistered:
		s.roles.SetVoter(role.Read{Value: v.(bool)})
	case election.FactSessionID:
		// A vote status read for another session is no longer meaningful.
		if hadPrev && prev.(uint64) != v.(uint64) {
			s.requestLocked(election.FactHasVoted)
		}
	}
	return true
}

// resumeDeferredLocked re-evaluates deferred requests after a read completed,
// since a prerequisite may have resolved.
func (s *Synchronizer) resumeDeferredLocked() {
	for _, f := range election.AllFacts {
		e := s.entries[f]
		if e.deferred && e.running == nil {
			s.launchLocked(f, newFlight())
		}
	}
}

func (s *Synchronizer) notify(f election.Fact) {
	s.mu.RLock()
	obs := make([]func(election.Fact), len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()
	for _, fn := range obs {
		fn(f)
	}
}

func readFunction(f election.Fact) ledger.Function {
	switch f {
	case election.FactSessionID:
		return ledger.FnCurrentSessionID
	case election.FactActive:
		return ledger.FnVotingStarted
	case election.FactParties:
		return ledger.FnGetParties
	case election.FactEndTime:
		return ledger.FnVotingEndTime
	case election.FactHasVoted:
		return ledger.FnHasVotedInSession
	case election.FactIsAdmin:
		return ledger.FnIsAdmin
	case election.FactIsRegistered:
		return ledger.FnIsVoterRegistered
	}
	panic(fmt.Sprintf("syncer: unknown fact %d", f))
}

// decode normalizes a raw read into the cached representation:
// uint64 for the session id, time.Time for the end time, []string for the
// parties and bool otherwise.
func decode(f election.Fact, raw any) (any, error) {
	switch f {
	case election.FactSessionID:
		return ledger.AsUint64(raw)
	case election.FactEndTime:
		secs, err := ledger.AsUint64(raw)
		if err != nil {
			return nil, err
		}
		return time.Unix(int64(secs), 0).UTC(), nil
	case election.FactParties:
		return ledger.AsStrings(raw)
	default:
		return ledger.AsBool(raw)
	}
}
