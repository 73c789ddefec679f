// Package memory is an in-process election contract implementing
// ledger.Ledger. It backs the "memory" ledger backend and the coordinator
// tests, and supports failure injection and held confirmations.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

// ErrUnknownHandle is returned when awaiting a handle that was never issued.
var ErrUnknownHandle = errors.New("unknown transaction handle")

type tx struct {
	from  string
	fn    ledger.Function
	args  []any
	done  bool
	err   error
	held  bool
	ready chan struct{}
}

type sub struct {
	l       *Ledger
	kind    election.EventKind
	id      int
	handler ledger.Handler
	errc    chan error
	once    sync.Once
}

func (s *sub) Err() <-chan error { return s.errc }

func (s *sub) Unsubscribe() {
	s.once.Do(func() {
		s.l.mu.Lock()
		delete(s.l.subs[s.kind], s.id)
		s.l.mu.Unlock()
		close(s.errc)
	})
}

// Ledger is the in-memory contract. The zero value is not usable; call New.
type Ledger struct {
	mu  sync.Mutex
	now func() time.Time

	signer string

	admins    map[string]bool
	voters    map[string]bool
	sessionID uint64
	active    bool
	parties   []string
	endTime   time.Time
	tally     map[string]uint64
	voted     map[uint64]map[string]bool

	txs       map[ledger.Handle]*tx
	txSeq     int
	holdAll   bool
	readErrs  map[ledger.Function]error
	writeErrs map[ledger.Function]error
	reads     map[ledger.Function]int

	subs   map[election.EventKind]map[int]*sub
	subSeq int
}

var _ ledger.Ledger = (*Ledger)(nil)

// New creates a contract whose deployer, signer, is the first admin.
func New(signer string) *Ledger {
	l := &Ledger{
		now:       time.Now,
		signer:    signer,
		admins:    map[string]bool{},
		voters:    map[string]bool{},
		tally:     map[string]uint64{},
		voted:     map[uint64]map[string]bool{},
		txs:       map[ledger.Handle]*tx{},
		readErrs:  map[ledger.Function]error{},
		writeErrs: map[ledger.Function]error{},
		reads:     map[ledger.Function]int{},
		subs:      map[election.EventKind]map[int]*sub{},
	}
	if signer != "" {
		l.admins[key(signer)] = true
	}
	return l
}

func key(addr string) string { return strings.ToLower(addr) }

// SetClock replaces the contract's clock.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// SetSigner changes the account writes are sent from.
func (l *Ledger) SetSigner(addr string) {
	l.mu.Lock()
	l.signer = addr
	l.mu.Unlock()
}

// Viewer returns the signing account.
func (l *Ledger) Viewer() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signer
}

// FailReads makes every read of fn fail with err until cleared with nil.
func (l *Ledger) FailReads(fn ledger.Function, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.readErrs, fn)
		return
	}
	l.readErrs[fn] = err
}

// FailWrites makes every write of fn fail with err until cleared with nil.
func (l *Ledger) FailWrites(fn ledger.Function, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.writeErrs, fn)
		return
	}
	l.writeErrs[fn] = err
}

// HoldConfirmations keeps subsequent writes unconfirmed until Release.
func (l *Ledger) HoldConfirmations(hold bool) {
	l.mu.Lock()
	l.holdAll = hold
	l.mu.Unlock()
}

// Release confirms a held write.
func (l *Ledger) Release(h ledger.Handle) {
	l.mu.Lock()
	t := l.txs[h]
	if t != nil && t.held {
		t.held = false
		close(t.ready)
	}
	l.mu.Unlock()
}

// Pending returns the handles of held writes.
func (l *Ledger) Pending() []ledger.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Handle
	for h, t := range l.txs {
		if t.held {
			out = append(out, h)
		}
	}
	return out
}

// Reads returns how many times fn was read.
func (l *Ledger) Reads(fn ledger.Function) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads[fn]
}

// Read evaluates a view function.
func (l *Ledger) Read(ctx context.Context, fn ledger.Function, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads[fn]++
	if err := l.readErrs[fn]; err != nil {
		return nil, err
	}

	switch fn {
	case ledger.FnCurrentSessionID:
		return ledger.Uint256(l.sessionID), nil
	case ledger.FnVotingStarted:
		return l.active, nil
	case ledger.FnGetParties:
		return append([]string(nil), l.parties...), nil
	case ledger.FnVotingEndTime:
		if l.endTime.IsZero() {
			return ledger.Uint256(0), nil
		}
		return ledger.Uint256(uint64(l.endTime.Unix())), nil
	case ledger.FnIsAdmin, ledger.FnIsVoterRegistered:
		addr, err := addressArg(args, 0)
		if err != nil {
			return nil, err
		}
		if fn == ledger.FnIsAdmin {
			return l.admins[key(addr)], nil
		}
		return l.voters[key(addr)], nil
	case ledger.FnHasVotedInSession:
		id, err := uintArg(args, 0)
		if err != nil {
			return nil, err
		}
		addr, err := addressArg(args, 1)
		if err != nil {
			return nil, err
		}
		return l.voted[id][key(addr)], nil
	}
	return nil, &ledger.RevertError{Reason: fmt.Sprintf("unknown function %s", fn)}
}

// Write queues a transaction from the signer and returns its handle. The
// contract rules are checked when the transaction confirms.
func (l *Ledger) Write(ctx context.Context, fn ledger.Function, args ...any) (ledger.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writeErrs[fn]; err != nil {
		return "", err
	}
	if l.signer == "" {
		return "", errors.New("no signer configured")
	}
	l.txSeq++
	h := ledger.Handle(fmt.Sprintf("0x%064x", l.txSeq))
	t := &tx{from: l.signer, fn: fn, args: args, held: l.holdAll, ready: make(chan struct{})}
	if !t.held {
		close(t.ready)
	}
	l.txs[h] = t
	return h, nil
}

// AwaitConfirmation executes the transaction once it is released and reports
// whether it reverted. Events are delivered before it returns.
func (l *Ledger) AwaitConfirmation(ctx context.Context, h ledger.Handle, _ int) error {
	l.mu.Lock()
	t := l.txs[h]
	l.mu.Unlock()
	if t == nil {
		return ErrUnknownHandle
	}
	select {
	case <-t.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	if t.done {
		err := t.err
		l.mu.Unlock()
		return err
	}
	events, err := l.execLocked(t)
	t.done, t.err = true, err
	l.mu.Unlock()

	for _, ev := range events {
		l.Emit(ev)
	}
	return err
}

func (l *Ledger) execLocked(t *tx) ([]election.Event, error) {
	from := key(t.from)
	revert := func(reason string) ([]election.Event, error) {
		return nil, &ledger.RevertError{Reason: reason}
	}
	switch t.fn {
	case ledger.FnRegisterVoter, ledger.FnAddAdmin:
		if !l.admins[from] {
			return revert("caller is not an admin")
		}
		addr, err := addressArg(t.args, 0)
		if err != nil {
			return nil, err
		}
		if t.fn == ledger.FnAddAdmin {
			l.admins[key(addr)] = true
			return nil, nil
		}
		if l.voters[key(addr)] {
			return revert("voter already registered")
		}
		l.voters[key(addr)] = true
		return []election.Event{election.VoterRegistered{Voter: addr}}, nil

	case ledger.FnStartVoting:
		if !l.admins[from] {
			return revert("caller is not an admin")
		}
		if l.active {
			return revert("voting already started")
		}
		if len(t.args) < 2 {
			return revert("missing arguments")
		}
		parties, err := ledger.AsStrings(t.args[0])
		if err != nil {
			return nil, err
		}
		secs, err := uintArg(t.args, 1)
		if err != nil {
			return nil, err
		}
		if len(parties) == 0 || secs == 0 {
			return revert("invalid session parameters")
		}
		l.sessionID++
		l.active = true
		l.parties = parties
		l.endTime = l.now().Add(time.Duration(secs) * time.Second).Truncate(time.Second)
		l.tally = map[string]uint64{}
		return []election.Event{election.SessionStarted{EndTime: l.endTime, Parties: append([]string(nil), parties...)}}, nil

	case ledger.FnStopVoting:
		if !l.admins[from] {
			return revert("caller is not an admin")
		}
		if !l.active {
			return revert("voting not started")
		}
		if l.now().Before(l.endTime) {
			return revert("voting period not over")
		}
		ended := election.SessionEnded{Parties: append([]string(nil), l.parties...)}
		var best uint64
		for _, p := range l.parties {
			n := l.tally[p]
			ended.VoteCounts = append(ended.VoteCounts, n)
			if ended.WinningParty == "" || n > best {
				ended.WinningParty, best = p, n
			}
		}
		l.active = false
		l.parties = nil
		l.endTime = time.Time{}
		return []election.Event{ended}, nil

	case ledger.FnVote:
		if !l.voters[from] {
			return revert("voter not registered")
		}
		if !l.active {
			return revert("voting not started")
		}
		if l.voted[l.sessionID][from] {
			return revert("already voted")
		}
		party, ok := argAt(t.args, 0).(string)
		if !ok || !contains(l.parties, party) {
			return revert("unknown party")
		}
		if l.voted[l.sessionID] == nil {
			l.voted[l.sessionID] = map[string]bool{}
		}
		l.voted[l.sessionID][from] = true
		l.tally[party]++
		return []election.Event{election.VoteCast{Voter: t.from, Party: party}}, nil
	}
	return revert(fmt.Sprintf("unknown function %s", t.fn))
}

// Subscribe registers h for events of kind.
func (l *Ledger) Subscribe(ctx context.Context, kind election.EventKind, h ledger.Handler) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subSeq++
	s := &sub{l: l, kind: kind, id: l.subSeq, handler: h, errc: make(chan error, 1)}
	if l.subs[kind] == nil {
		l.subs[kind] = map[int]*sub{}
	}
	l.subs[kind][s.id] = s
	return s, nil
}

// Subscribers returns the number of live subscriptions for kind.
func (l *Ledger) Subscribers(kind election.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[kind])
}

// Break fails every live subscription for kind with err.
func (l *Ledger) Break(kind election.EventKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, s := range l.subs[kind] {
		select {
		case s.errc <- err:
		default:
		}
		delete(l.subs[kind], id)
	}
}

// Emit delivers ev to the subscribers of its kind, as if the contract had
// logged it.
func (l *Ledger) Emit(ev election.Event) {
	l.mu.Lock()
	var handlers []ledger.Handler
	for _, s := range l.subs[ev.Kind()] {
		handlers = append(handlers, s.handler)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Close drops every subscription.
func (l *Ledger) Close() error {
	l.mu.Lock()
	var all []*sub
	for _, m := range l.subs {
		for _, s := range m {
			all = append(all, s)
		}
	}
	l.mu.Unlock()
	for _, s := range all {
		s.Unsubscribe()
	}
	return nil
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func addressArg(args []any, i int) (string, error) {
	s, ok := argAt(args, i).(string)
	if !ok || !election.IsAddress(s) {
		return "", &ledger.RevertError{Reason: fmt.Sprintf("argument %d is not an address", i)}
	}
	return s, nil
}

func uintArg(args []any, i int) (uint64, error) {
	v := argAt(args, i)
	if b, ok := v.(*big.Int); ok {
		return ledger.AsUint64(b)
	}
	n, err := ledger.AsUint64(v)
	if err != nil {
		return 0, &ledger.RevertError{Reason: fmt.Sprintf("argument %d: %v", i, err)}
	}
	return n, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
