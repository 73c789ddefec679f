package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

// codec binds the contract ABI to an address.
type codec struct {
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
}

// newCodec parses the contract ABI. backend may be nil when only log
// decoding is needed.
func newCodec(address common.Address, backend bind.ContractBackend) (*codec, error) {
	parsed, err := abi.JSON(strings.NewReader(ledger.ContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &codec{
		abi:      parsed,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// query filters the contract's logs of one event kind.
func (c *codec) query(kind election.EventKind) (ethereum.FilterQuery, error) {
	ev, ok := c.abi.Events[ledger.EventName(kind)]
	if !ok {
		return ethereum.FilterQuery{}, fmt.Errorf("no abi event for %s", kind)
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}, nil
}

// decode unpacks a log. The returned event is never nil: fields that fail
// to decode are left zero and the error is reported alongside.
func (c *codec) decode(kind election.EventKind, lg types.Log) (election.Event, error) {
	fields := map[string]any{}
	err := c.contract.UnpackLogIntoMap(fields, ledger.EventName(kind), lg)
	return eventFromFields(kind, fields), err
}

func eventFromFields(kind election.EventKind, fields map[string]any) election.Event {
	switch kind {
	case election.EventVoterRegistered:
		return election.VoterRegistered{Voter: addressField(fields, "voter")}
	case election.EventSessionStarted:
		ev := election.SessionStarted{Parties: stringsField(fields, "parties")}
		if n, ok := fields["endTime"].(*big.Int); ok && n.IsInt64() {
			ev.EndTime = time.Unix(n.Int64(), 0).UTC()
		}
		return ev
	case election.EventVoteCast:
		party, _ := fields["party"].(string)
		return election.VoteCast{Voter: addressField(fields, "voter"), Party: party}
	case election.EventSessionEnded:
		winner, _ := fields["winningParty"].(string)
		ev := election.SessionEnded{WinningParty: winner, Parties: stringsField(fields, "parties")}
		if counts, ok := fields["voteCounts"].([]*big.Int); ok {
			ev.VoteCounts = make([]uint64, 0, len(counts))
			for _, n := range counts {
				if n == nil || !n.IsUint64() {
					ev.VoteCounts = nil
					break
				}
				ev.VoteCounts = append(ev.VoteCounts, n.Uint64())
			}
		}
		return ev
	}
	return nil
}

func addressField(fields map[string]any, name string) string {
	if a, ok := fields[name].(common.Address); ok {
		return a.Hex()
	}
	return ""
}

func stringsField(fields map[string]any, name string) []string {
	if s, ok := fields[name].([]string); ok {
		return s
	}
	return nil
}

type subscription struct {
	inner ethereum.Subscription
	errc  chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *subscription) Err() <-chan error { return s.errc }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.inner.Unsubscribe()
	})
}

// Subscribe streams decoded logs of one event kind to h.
func (l *Ledger) Subscribe(ctx context.Context, kind election.EventKind, h ledger.Handler) (ledger.Subscription, error) {
	q, err := l.codec.query(kind)
	if err != nil {
		return nil, err
	}
	logs := make(chan types.Log, 16)
	inner, err := l.client.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}
	s := &subscription{
		inner: inner,
		errc:  make(chan error, 1),
		quit:  make(chan struct{}),
	}
	go l.deliver(s, kind, logs, h)
	return s, nil
}

func (l *Ledger) deliver(s *subscription, kind election.EventKind, logs <-chan types.Log, h ledger.Handler) {
	defer close(s.errc)
	for {
		select {
		case <-s.quit:
			return
		case err := <-s.inner.Err():
			if err == nil {
				err = fmt.Errorf("log subscription ended")
			}
			s.errc <- err
			return
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			ev, err := l.codec.decode(kind, lg)
			if err != nil {
				l.log.Warn().Err(err).Stringer("event", kind).Str("tx", lg.TxHash.Hex()).Msg("partial event payload")
			}
			h(ev)
		}
	}
}
