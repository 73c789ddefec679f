package comet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

// Attribute keys of the application's "election" event.
const (
	attrKind         = "election.kind"
	attrVoter        = "election.voter"
	attrParty        = "election.party"
	attrParties      = "election.parties"
	attrEndTime      = "election.end_time"
	attrWinningParty = "election.winning_party"
	attrVoteCounts   = "election.vote_counts"
)

// Query returns the subscription query for one event kind.
func Query(kind election.EventKind) string {
	return fmt.Sprintf("tm.event = 'Tx' AND %s = '%s'", attrKind, ledger.EventName(kind))
}

type subscription struct {
	l     *Ledger
	name  string
	query string
	errc  chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *subscription) Err() <-chan error { return s.errc }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.l.mu.Lock()
		delete(s.l.subs, s)
		s.l.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.l.client.Unsubscribe(ctx, s.name, s.query)
	})
}

// fail reports err on the subscription unless it already failed.
func (s *subscription) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

// Subscribe streams decoded events of one kind to h.
func (l *Ledger) Subscribe(ctx context.Context, kind election.EventKind, h ledger.Handler) (ledger.Subscription, error) {
	s := &subscription{
		l:     l,
		name:  subscriberPrefix + "-" + kind.String(),
		query: Query(kind),
		errc:  make(chan error, 1),
		quit:  make(chan struct{}),
	}
	ch, err := l.client.Subscribe(ctx, s.name, s.query)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()

	l.startEventHandler(s, kind.String(), ch, func(ev rpccoretypes.ResultEvent) {
		h(eventFromAttributes(kind, ev.Events))
	})
	return s, nil
}

// startEventHandler starts a goroutine to handle events from a channel
func (l *Ledger) startEventHandler(s *subscription, name string, ch <-chan rpccoretypes.ResultEvent, handler func(rpccoretypes.ResultEvent)) {
	go func() {
		for {
			select {
			case <-s.quit:
				return
			case ev, ok := <-ch:
				if !ok {
					s.fail(fmt.Errorf("%s event channel closed", name))
					return
				}
				handler(ev)
			}
		}
	}()
}

// watchdog fails every live subscription when no block has been seen for
// StaleAfter, so the event subscriber re-establishes them.
func (l *Ledger) watchdog(ctx context.Context) {
	blocks, err := l.client.Subscribe(ctx, subscriberPrefix+"-watchdog", "tm.event = 'NewBlock'")
	if err != nil {
		l.log.Warn().Err(err).Msg("block watchdog disabled")
		return
	}
	ticker := time.NewTicker(l.cfg.StaleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-blocks:
			if !ok {
				l.log.Warn().Msg("block channel closed, watchdog stopped")
				return
			}
			l.mu.Lock()
			l.lastBlock = time.Now()
			l.mu.Unlock()
		case <-ticker.C:
			if l.shouldReconnect() {
				l.log.Warn().Dur("stale_after", l.cfg.StaleAfter).Msg("no blocks received, failing subscriptions")
				l.failAll(errors.New("reconnect: no new blocks"))
			}
		}
	}
}

func (l *Ledger) shouldReconnect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastBlock) <= l.cfg.StaleAfter {
		return false
	}
	l.lastBlock = time.Now()
	return true
}

func (l *Ledger) failAll(err error) {
	l.mu.Lock()
	subs := make([]*subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

// eventFromAttributes decodes an election event from Tx event attributes.
// Missing or malformed attributes leave the corresponding field zero.
func eventFromAttributes(kind election.EventKind, attrs map[string][]string) election.Event {
	switch kind {
	case election.EventVoterRegistered:
		return election.VoterRegistered{Voter: firstAttr(attrs, attrVoter)}
	case election.EventSessionStarted:
		ev := election.SessionStarted{Parties: jsonStrings(firstAttr(attrs, attrParties))}
		if secs, err := strconv.ParseInt(firstAttr(attrs, attrEndTime), 10, 64); err == nil {
			ev.EndTime = time.Unix(secs, 0).UTC()
		}
		return ev
	case election.EventVoteCast:
		return election.VoteCast{
			Voter: firstAttr(attrs, attrVoter),
			Party: firstAttr(attrs, attrParty),
		}
	case election.EventSessionEnded:
		ev := election.SessionEnded{
			WinningParty: firstAttr(attrs, attrWinningParty),
			Parties:      jsonStrings(firstAttr(attrs, attrParties)),
		}
		if raw := firstAttr(attrs, attrVoteCounts); raw != "" {
			var counts []json.Number
			if err := json.Unmarshal([]byte(raw), &counts); err == nil {
				ev.VoteCounts = make([]uint64, 0, len(counts))
				for _, c := range counts {
					n, err := strconv.ParseUint(c.String(), 10, 64)
					if err != nil {
						ev.VoteCounts = nil
						break
					}
					ev.VoteCounts = append(ev.VoteCounts, n)
				}
			}
		}
		return ev
	}
	return nil
}

func firstAttr(attrs map[string][]string, key string) string {
	for ak, vals := range attrs {
		if strings.EqualFold(ak, key) && len(vals) > 0 {
			if v := strings.TrimSpace(vals[0]); v != "" {
				return v
			}
		}
	}
	return ""
}

func jsonStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
