// Package coordinator wires the role tracker, state synchronizer, event
// subscriber, action gate and transaction coordinator into one per-viewer
// session.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ballotwatch/internal/election"
	"ballotwatch/internal/events"
	"ballotwatch/internal/gate"
	"ballotwatch/internal/ledger"
	"ballotwatch/internal/syncer"
	"ballotwatch/internal/txn"
)

// DefaultNotificationLimit bounds the notifications kept in memory.
const DefaultNotificationLimit = 100

// Options tune a Session. Zero values select the defaults.
type Options struct {
	RetryDelay        time.Duration
	NotificationLimit int
	Clock             func() time.Time
}

// View is a point-in-time snapshot of everything a session knows.
type View struct {
	Viewer     election.ViewerIdentity
	Role       election.Role
	Session    election.SessionState
	Results    election.ResultsSnapshot
	Records    []txn.Record
	Allowed    map[election.OperationKind]bool
	Subscribed map[election.EventKind]bool
}

// Session is the coordinator for one viewer.
type Session struct {
	ledger ledger.Ledger
	log    zerolog.Logger
	clock  func() time.Time
	limit  int

	state  *syncer.Synchronizer
	events *events.Subscriber
	gate   *gate.Gate
	txns   *txn.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopSubs  context.CancelFunc // nil while subscriptions are released
	subsDone  chan struct{}
	closed    bool
	notes     []election.Notification
	sinks     []func(election.Notification)
	recorders []func(txn.Record)
	listeners []func()
}

// New builds a session over l. Nothing talks to the ledger until Start.
func New(l ledger.Ledger, log zerolog.Logger, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NotificationLimit <= 0 {
		opts.NotificationLimit = DefaultNotificationLimit
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = events.DefaultRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ledger: l,
		log:    log.With().Str("component", "session").Logger(),
		clock:  opts.Clock,
		limit:  opts.NotificationLimit,
		gate:   gate.NewWithClock(opts.Clock),
		ctx:    ctx,
		cancel: cancel,
	}
	s.state = syncer.New(l, log, syncer.WithClock(opts.Clock))
	s.events = events.New(l, s.state, s.publish, log,
		events.WithRetryDelay(opts.RetryDelay),
		events.WithClock(opts.Clock),
	)
	s.txns = txn.New(l, s.state, log, txn.WithClock(opts.Clock))

	s.state.OnChange(func(election.Fact) { s.changed() })
	s.txns.OnChange(s.onRecord)
	return s
}

// Start opens the event subscriptions. The viewer is set separately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.subscribeLocked()
	s.log.Info().Msg("session started")
	return nil
}

// subscribeLocked runs the event subscriber unless it is already running.
func (s *Session) subscribeLocked() {
	if s.stopSubs != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.stopSubs, s.subsDone = cancel, done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		_ = s.events.Run(ctx)
	}()
}

// unsubscribe releases the event subscriptions and waits until they are gone.
func (s *Session) unsubscribe() {
	s.mu.Lock()
	cancel, done := s.stopSubs, s.subsDone
	s.stopSubs, s.subsDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetViewer switches the viewer. Leaving the previous viewer (disconnecting
// or changing address) abandons its transaction records; disconnecting also
// releases the event subscriptions until a viewer connects again. With an
// address present every fact is reloaded in the background.
func (s *Session) SetViewer(id election.ViewerIdentity) {
	prev := s.state.Viewer()
	s.state.SetViewer(id)
	if prev.HasAddress() && (!id.HasAddress() || !election.SameAddress(prev.Address, id.Address)) {
		s.txns.Reset()
	}
	if !id.HasAddress() {
		s.unsubscribe()
		s.log.Info().Msg("viewer disconnected")
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.started {
		s.subscribeLocked()
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		if err := s.state.RefreshAll(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("initial load incomplete")
		}
	}()
}

// Refresh re-reads every fact and waits for the outcome.
func (s *Session) Refresh(ctx context.Context) error {
	return s.state.RefreshAll(ctx)
}

// Submit validates req against the current view and hands the resulting
// ledger call to the transaction coordinator. Validation failures never reach
// the ledger.
func (s *Session) Submit(ctx context.Context, req gate.Request) (txn.Record, error) {
	req, err := s.gate.Check(req, gate.View{Role: s.state.Role(), Session: s.state.Session()})
	if err != nil {
		s.log.Debug().Err(err).Stringer("kind", req.Kind).Msg("request rejected")
		return txn.Record{Kind: req.Kind}, err
	}
	return s.txns.Submit(ctx, req.Kind, CallFor(req))
}

// Wait blocks until the current attempt of kind is terminal.
func (s *Session) Wait(ctx context.Context, kind election.OperationKind) (txn.Record, error) {
	return s.txns.Wait(ctx, kind)
}

// Retire returns a finished operation kind to idle.
func (s *Session) Retire(kind election.OperationKind) bool {
	return s.txns.Retire(kind)
}

// CallFor translates a validated request into the contract call it performs.
func CallFor(req gate.Request) txn.Call {
	fn := ledger.WriteFunction(req.Kind)
	switch req.Kind {
	case election.OpRegisterVoter, election.OpAddAdmin:
		return txn.Call{Fn: fn, Args: []any{req.Target}}
	case election.OpStartSession:
		parties := append([]string(nil), req.Parties...)
		return txn.Call{Fn: fn, Args: []any{parties, ledger.Uint256(uint64(req.Duration / time.Second))}}
	case election.OpCastVote:
		return txn.Call{Fn: fn, Args: []any{req.Party}}
	}
	return txn.Call{Fn: fn}
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	role := s.state.Role()
	st := s.state.Session()
	v := View{
		Viewer:     s.state.Viewer(),
		Role:       role,
		Session:    st,
		Results:    s.state.Results(),
		Records:    s.txns.Records(),
		Allowed:    gate.Allowed(gate.View{Role: role, Session: st}, s.clock()),
		Subscribed: make(map[election.EventKind]bool, len(election.AllEventKinds)),
	}
	for _, k := range election.AllEventKinds {
		v.Subscribed[k] = s.events.Subscribed(k)
	}
	return v
}

// Viewer returns the current viewer identity.
func (s *Session) Viewer() election.ViewerIdentity {
	return s.state.Viewer()
}

// Status returns the cache status of one fact.
func (s *Session) Status(f election.Fact) syncer.FactStatus {
	return s.state.Status(f)
}

// Records returns the current transaction record of every kind.
func (s *Session) Records() []txn.Record {
	return s.txns.Records()
}

// History returns archived transaction records.
func (s *Session) History() []txn.Record {
	return s.txns.History()
}

// Notifications returns the retained notifications, oldest first.
func (s *Session) Notifications() []election.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]election.Notification(nil), s.notes...)
}

// OnNotification registers a sink for every new notification. Sinks run on
// the producing goroutine and must not block.
func (s *Session) OnNotification(fn func(election.Notification)) {
	s.mu.Lock()
	s.sinks = append(s.sinks, fn)
	s.mu.Unlock()
}

// OnRecord registers fn for every transaction record transition.
func (s *Session) OnRecord(fn func(txn.Record)) {
	s.mu.Lock()
	s.recorders = append(s.recorders, fn)
	s.mu.Unlock()
}

// OnChange registers fn to be called whenever the view may have changed.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) publish(n election.Notification) {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	if over := len(s.notes) - s.limit; over > 0 {
		s.notes = append([]election.Notification(nil), s.notes[over:]...)
	}
	sinks := append([]func(election.Notification){}, s.sinks...)
	s.mu.Unlock()

	s.log.Info().Str("kind", string(n.Kind)).Msg(n.Message)
	for _, fn := range sinks {
		fn(n)
	}
	s.changed()
}

func (s *Session) onRecord(r txn.Record) {
	s.mu.Lock()
	recorders := append([]func(txn.Record){}, s.recorders...)
	s.mu.Unlock()
	for _, fn := range recorders {
		fn(r)
	}

	switch r.State {
	case txn.Confirmed:
		n := election.NewNotification(election.NotifyTransaction, "%s successful!", r.Kind.Title())
		s.publish(n)
		return
	case txn.Failed:
		n := election.NewNotification(election.NotifyTransaction, "%s error: %v", r.Kind.Title(), r.Err)
		s.publish(n)
		return
	}
	s.changed()
}

func (s *Session) changed() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Close releases the subscriptions, abandons confirmation waits and stops
// outstanding reads. It does not close the ledger.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.txns.Close()
	s.state.Close()
	s.log.Info().Msg("session closed")
}
