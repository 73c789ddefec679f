package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

const (
	admin = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	voter = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func confirm(t *testing.T, l *Ledger, fn ledger.Function, args ...any) error {
	t.Helper()
	h, err := l.Write(context.Background(), fn, args...)
	require.NoError(t, err)
	return l.AwaitConfirmation(context.Background(), h, ledger.ConfirmationsRequired)
}

func read(t *testing.T, l *Ledger, fn ledger.Function, args ...any) any {
	t.Helper()
	v, err := l.Read(context.Background(), fn, args...)
	require.NoError(t, err)
	return v
}

func TestLedger_SessionLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(admin)
	l.SetClock(func() time.Time { return now })

	var got []election.Event
	for _, kind := range election.AllEventKinds {
		_, err := l.Subscribe(context.Background(), kind, func(ev election.Event) { got = append(got, ev) })
		require.NoError(t, err)
	}

	require.NoError(t, confirm(t, l, ledger.FnRegisterVoter, voter))
	assert.Equal(t, true, read(t, l, ledger.FnIsVoterRegistered, voter))
	assert.Equal(t, false, read(t, l, ledger.FnIsAdmin, voter))

	require.NoError(t, confirm(t, l, ledger.FnStartVoting, []string{"A", "B"}, ledger.Uint256(600)))
	assert.Equal(t, true, read(t, l, ledger.FnVotingStarted))
	assert.Equal(t, []string{"A", "B"}, read(t, l, ledger.FnGetParties))
	assert.Equal(t, ledger.Uint256(uint64(now.Unix()+600)), read(t, l, ledger.FnVotingEndTime))
	assert.Equal(t, ledger.Uint256(1), read(t, l, ledger.FnCurrentSessionID))

	l.SetSigner(voter)
	require.NoError(t, confirm(t, l, ledger.FnVote, "A"))
	assert.Equal(t, true, read(t, l, ledger.FnHasVotedInSession, ledger.Uint256(1), voter))

	var revert *ledger.RevertError
	require.ErrorAs(t, confirm(t, l, ledger.FnVote, "A"), &revert)
	assert.Equal(t, "already voted", revert.Reason)

	l.SetSigner(admin)
	require.ErrorAs(t, confirm(t, l, ledger.FnStopVoting), &revert)
	assert.Equal(t, "voting period not over", revert.Reason)

	now = now.Add(601 * time.Second)
	require.NoError(t, confirm(t, l, ledger.FnStopVoting))
	assert.Equal(t, false, read(t, l, ledger.FnVotingStarted))

	require.Len(t, got, 4)
	assert.Equal(t, election.VoterRegistered{Voter: voter}, got[0])
	assert.Equal(t, election.VoteCast{Voter: voter, Party: "A"}, got[2])
	assert.Equal(t, election.SessionEnded{
		WinningParty: "A",
		Parties:      []string{"A", "B"},
		VoteCounts:   []uint64{1, 0},
	}, got[3])
}

func TestLedger_FailureInjection(t *testing.T) {
	l := New(admin)
	boom := errors.New("boom")

	l.FailReads(ledger.FnGetParties, boom)
	_, err := l.Read(context.Background(), ledger.FnGetParties)
	require.ErrorIs(t, err, boom)
	l.FailReads(ledger.FnGetParties, nil)
	_, err = l.Read(context.Background(), ledger.FnGetParties)
	require.NoError(t, err)

	l.FailWrites(ledger.FnAddAdmin, boom)
	_, err = l.Write(context.Background(), ledger.FnAddAdmin, voter)
	require.ErrorIs(t, err, boom)
}

func TestLedger_HeldConfirmation(t *testing.T) {
	l := New(admin)
	l.HoldConfirmations(true)

	h, err := l.Write(context.Background(), ledger.FnAddAdmin, voter)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Handle{h}, l.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.AwaitConfirmation(ctx, h, 1), context.DeadlineExceeded)

	l.Release(h)
	require.NoError(t, l.AwaitConfirmation(context.Background(), h, 1))
	assert.Equal(t, true, read(t, l, ledger.FnIsAdmin, voter))
}

func TestLedger_BreakAndClose(t *testing.T) {
	l := New(admin)
	s, err := l.Subscribe(context.Background(), election.EventVoteCast, func(election.Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Subscribers(election.EventVoteCast))

	l.Break(election.EventVoteCast, errors.New("gone"))
	assert.Error(t, <-s.Err())
	assert.Zero(t, l.Subscribers(election.EventVoteCast))

	_, err = l.Subscribe(context.Background(), election.EventSessionEnded, func(election.Event) {})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Zero(t, l.Subscribers(election.EventSessionEnded))
}
