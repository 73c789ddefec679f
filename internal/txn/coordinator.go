// Package txn tracks the lifecycle of state-changing ledger operations, one
// record per operation kind.
package txn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

var (
	// ErrInFlight rejects a submission while the kind's previous attempt is
	// still submitting or awaiting confirmation.
	ErrInFlight = errors.New("operation already in flight")
	// ErrClosed rejects submissions after Close.
	ErrClosed = errors.New("transaction coordinator closed")
	// ErrAbandoned is returned by Wait when Reset dropped the attempt before
	// it finished.
	ErrAbandoned = errors.New("operation abandoned")
)

// State is a record's lifecycle state.
type State int

const (
	Idle State = iota
	Submitting
	PendingConfirmation
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case PendingConfirmation:
		return "pending_confirmation"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Terminal reports whether s is Confirmed or Failed.
func (s State) Terminal() bool {
	return s == Confirmed || s == Failed
}

// InFlight reports whether s is Submitting or PendingConfirmation.
func (s State) InFlight() bool {
	return s == Submitting || s == PendingConfirmation
}

// Record is one submission attempt.
type Record struct {
	ID          uuid.UUID
	Kind        election.OperationKind
	State       State
	Handle      ledger.Handle
	Err         error
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Call is the ledger write an operation performs.
type Call struct {
	Fn   ledger.Function
	Args []any
}

// Invalidator receives the refreshes implied by a confirmed operation.
type Invalidator interface {
	Invalidate(facts ...election.Fact)
}

// implied lists the facts a confirmed operation makes stale.
var implied = map[election.OperationKind][]election.Fact{
	election.OpRegisterVoter: {election.FactIsRegistered},
	election.OpAddAdmin:      {election.FactIsAdmin},
	election.OpStartSession: {
		election.FactActive,
		election.FactSessionID,
		election.FactParties,
		election.FactEndTime,
		election.FactHasVoted,
	},
	election.OpStopSession: {
		election.FactActive,
		election.FactSessionID,
		election.FactParties,
		election.FactEndTime,
	},
	election.OpCastVote: {election.FactHasVoted},
}

// Implies returns the facts refreshed when an operation of kind confirms.
func Implies(kind election.OperationKind) []election.Fact {
	return append([]election.Fact(nil), implied[kind]...)
}

type attempt struct {
	rec       Record
	done      chan struct{}
	abandoned bool
	cancel    context.CancelFunc // set while a confirmation is awaited
}

// Coordinator owns the per-kind records.
type Coordinator struct {
	writer        ledger.Writer
	cache         Invalidator
	log           zerolog.Logger
	clock         func() time.Time
	confirmations int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	current   map[election.OperationKind]*attempt
	history   []Record
	observers []func(Record)
	closed    bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used to stamp records.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// New creates a Coordinator writing through w and refreshing cache on
// confirmation.
func New(w ledger.Writer, cache Invalidator, log zerolog.Logger, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		writer:        w,
		cache:         cache,
		log:           log.With().Str("component", "txn").Logger(),
		clock:         time.Now,
		confirmations: ledger.ConfirmationsRequired,
		ctx:           ctx,
		cancel:        cancel,
		current:       make(map[election.OperationKind]*attempt),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnChange registers fn to be called with every record transition.
func (c *Coordinator) OnChange(fn func(Record)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Submit starts a new attempt for kind. It returns ErrInFlight without
// touching the ledger when the previous attempt has not finished; a terminal
// previous attempt is archived. The write itself is awaited; confirmation is
// awaited in the background.
func (c *Coordinator) Submit(ctx context.Context, kind election.OperationKind, call Call) (Record, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Record{Kind: kind}, ErrClosed
	}
	if a := c.current[kind]; a != nil {
		if a.rec.State.InFlight() {
			rec := a.rec
			c.mu.Unlock()
			return rec, ErrInFlight
		}
		c.history = append(c.history, a.rec)
	}
	now := c.clock()
	a := &attempt{
		rec: Record{
			ID:          uuid.New(),
			Kind:        kind,
			State:       Submitting,
			SubmittedAt: now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	c.current[kind] = a
	rec := a.rec
	c.mu.Unlock()
	c.emit(rec)

	c.log.Info().Stringer("kind", kind).Str("fn", string(call.Fn)).Str("id", rec.ID.String()).Msg("submitting")
	h, err := c.writer.Write(ctx, call.Fn, call.Args...)
	if err != nil {
		serr := &election.SubmissionError{Kind: kind, Err: err}
		rec, ok := c.transition(a, func(r *Record) {
			r.State = Failed
			r.Err = serr
		})
		if ok {
			close(a.done)
		}
		c.log.Warn().Err(err).Stringer("kind", kind).Msg("submission failed")
		return rec, serr
	}

	rec, ok := c.transition(a, func(r *Record) {
		r.State = PendingConfirmation
		r.Handle = h
	})
	if !ok {
		return rec, nil
	}

	c.mu.Lock()
	if c.closed || a.abandoned {
		c.mu.Unlock()
		return rec, nil
	}
	ctx, cancel := context.WithCancel(c.ctx)
	a.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()
	go c.await(ctx, a, h)
	return rec, nil
}

func (c *Coordinator) await(ctx context.Context, a *attempt, h ledger.Handle) {
	defer c.wg.Done()
	defer a.cancel()
	kind := a.rec.Kind
	err := c.writer.AwaitConfirmation(ctx, h, c.confirmations)
	if ctx.Err() != nil {
		// Torn down or reset: the wait is abandoned and the record left as is.
		return
	}
	if err != nil {
		cerr := &election.ConfirmationError{Kind: kind, Handle: string(h), Err: err}
		if _, ok := c.transition(a, func(r *Record) {
			r.State = Failed
			r.Err = cerr
		}); ok {
			close(a.done)
		}
		c.log.Warn().Err(err).Stringer("kind", kind).Str("handle", string(h)).Msg("confirmation failed")
		return
	}
	if _, ok := c.transition(a, func(r *Record) { r.State = Confirmed }); ok {
		c.log.Info().Stringer("kind", kind).Str("handle", string(h)).Msg("confirmed")
		c.cache.Invalidate(implied[kind]...)
		close(a.done)
	}
}

// transition applies fn to a's record if a is still the kind's current
// attempt and the coordinator is open. Callers close a.done once a terminal
// transition has been fully handled.
func (c *Coordinator) transition(a *attempt, fn func(*Record)) (Record, bool) {
	c.mu.Lock()
	if c.closed || c.current[a.rec.Kind] != a {
		rec := a.rec
		c.mu.Unlock()
		return rec, false
	}
	fn(&a.rec)
	a.rec.UpdatedAt = c.clock()
	rec := a.rec
	c.mu.Unlock()
	c.emit(rec)
	return rec, true
}

func (c *Coordinator) emit(rec Record) {
	c.mu.Lock()
	observers := append([]func(Record){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(rec)
	}
}

// Record returns the current record for kind; Idle if there is none.
func (c *Coordinator) Record(kind election.OperationKind) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.current[kind]; a != nil {
		return a.rec
	}
	return Record{Kind: kind}
}

// Records returns the current record of every kind.
func (c *Coordinator) Records() []Record {
	out := make([]Record, 0, len(election.AllOperations))
	for _, kind := range election.AllOperations {
		out = append(out, c.Record(kind))
	}
	return out
}

// History returns archived records, oldest first.
func (c *Coordinator) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.history...)
}

// Retire archives a terminal record, returning the kind to Idle. It reports
// false if the record is not terminal.
func (c *Coordinator) Retire(kind election.OperationKind) bool {
	c.mu.Lock()
	a := c.current[kind]
	if a == nil || !a.rec.State.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.history = append(c.history, a.rec)
	delete(c.current, kind)
	c.mu.Unlock()
	c.emit(Record{Kind: kind, UpdatedAt: c.clock()})
	return true
}

// Wait blocks until the current attempt for kind is terminal or ctx ends.
func (c *Coordinator) Wait(ctx context.Context, kind election.OperationKind) (Record, error) {
	c.mu.Lock()
	a := c.current[kind]
	c.mu.Unlock()
	if a == nil {
		return Record{Kind: kind}, nil
	}
	select {
	case <-a.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if a.abandoned {
			return a.rec, ErrAbandoned
		}
		return a.rec, nil
	case <-ctx.Done():
		return c.Record(kind), ctx.Err()
	}
}

// Reset abandons every current attempt and returns all kinds to Idle.
// Pending confirmation waits are cancelled; their records are archived as
// they were and never reach a terminal state or invalidate the cache.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	var kinds []election.OperationKind
	for _, kind := range election.AllOperations {
		a := c.current[kind]
		if a == nil {
			continue
		}
		delete(c.current, kind)
		c.history = append(c.history, a.rec)
		kinds = append(kinds, kind)
		if a.rec.State.Terminal() {
			continue
		}
		a.abandoned = true
		if a.cancel != nil {
			a.cancel()
		}
		close(a.done)
	}
	c.mu.Unlock()

	if len(kinds) > 0 {
		c.log.Info().Int("records", len(kinds)).Msg("records reset")
	}
	for _, kind := range kinds {
		c.emit(Record{Kind: kind, UpdatedAt: c.clock()})
	}
}

// Close abandons pending confirmation waits without failing their records.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}
