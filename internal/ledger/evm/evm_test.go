package evm

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

const (
	contractAddr = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	voterAddr    = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func testCodec(t *testing.T) *codec {
	t.Helper()
	c, err := newCodec(common.HexToAddress(contractAddr), nil)
	require.NoError(t, err)
	return c
}

func packLog(t *testing.T, c *codec, kind election.EventKind, topics []common.Hash, values ...any) types.Log {
	t.Helper()
	ev := c.abi.Events[ledger.EventName(kind)]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return types.Log{
		Address: c.address,
		Topics:  append([]common.Hash{ev.ID}, topics...),
		Data:    data,
	}
}

func TestCodec_ContractFunctions(t *testing.T) {
	c := testCodec(t)
	for _, fn := range []ledger.Function{
		ledger.FnCurrentSessionID, ledger.FnIsAdmin, ledger.FnIsVoterRegistered,
		ledger.FnVotingStarted, ledger.FnGetParties, ledger.FnVotingEndTime,
		ledger.FnHasVotedInSession, ledger.FnRegisterVoter, ledger.FnAddAdmin,
		ledger.FnStartVoting, ledger.FnStopVoting, ledger.FnVote,
	} {
		_, ok := c.abi.Methods[string(fn)]
		assert.True(t, ok, "missing method %s", fn)
	}
	for _, kind := range election.AllEventKinds {
		q, err := c.query(kind)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{c.address}, q.Addresses)
		require.Len(t, q.Topics, 1)
	}
}

func TestCodec_DecodeSessionEnded(t *testing.T) {
	c := testCodec(t)
	lg := packLog(t, c, election.EventSessionEnded, nil,
		"Blue", []string{"Blue", "Red"}, []*big.Int{big.NewInt(120), big.NewInt(80)})

	ev, err := c.decode(election.EventSessionEnded, lg)
	require.NoError(t, err)
	assert.Equal(t, election.SessionEnded{
		WinningParty: "Blue",
		Parties:      []string{"Blue", "Red"},
		VoteCounts:   []uint64{120, 80},
	}, ev)
}

func TestCodec_DecodeIndexedVoter(t *testing.T) {
	c := testCodec(t)
	voterTopic := common.BytesToHash(common.HexToAddress(voterAddr).Bytes())

	ev, err := c.decode(election.EventVoteCast, packLog(t, c, election.EventVoteCast, []common.Hash{voterTopic}, "A"))
	require.NoError(t, err)
	assert.Equal(t, election.VoteCast{Voter: voterAddr, Party: "A"}, ev)

	ev, err = c.decode(election.EventVoterRegistered, packLog(t, c, election.EventVoterRegistered, []common.Hash{voterTopic}))
	require.NoError(t, err)
	assert.Equal(t, election.VoterRegistered{Voter: voterAddr}, ev)
}

func TestCodec_DecodeSessionStarted(t *testing.T) {
	c := testCodec(t)
	end := time.Unix(1_760_000_000, 0).UTC()
	lg := packLog(t, c, election.EventSessionStarted, nil, big.NewInt(end.Unix()), []string{"A", "B"})

	ev, err := c.decode(election.EventSessionStarted, lg)
	require.NoError(t, err)
	assert.Equal(t, election.SessionStarted{EndTime: end, Parties: []string{"A", "B"}}, ev)
}

func TestCodec_TruncatedLogStillYieldsEvent(t *testing.T) {
	c := testCodec(t)
	lg := packLog(t, c, election.EventSessionEnded, nil, "Blue", []string{"Blue"}, []*big.Int{big.NewInt(1)})
	lg.Data = lg.Data[:40]

	ev, err := c.decode(election.EventSessionEnded, lg)
	require.Error(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, election.EventSessionEnded, ev.Kind())
}

func TestEventFromFields_OversizedCountDropsTally(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 70)
	ev := eventFromFields(election.EventSessionEnded, map[string]any{
		"winningParty": "Blue",
		"parties":      []string{"Blue", "Red"},
		"voteCounts":   []*big.Int{big.NewInt(1), huge},
	})
	assert.Equal(t, election.SessionEnded{WinningParty: "Blue", Parties: []string{"Blue", "Red"}}, ev)
}

func TestCodec_Args(t *testing.T) {
	c := testCodec(t)
	session := big.NewInt(3)

	out := c.args(ledger.FnHasVotedInSession, []any{session, voterAddr})
	assert.Equal(t, session, out[0])
	assert.Equal(t, common.HexToAddress(voterAddr), out[1])

	out = c.args(ledger.FnRegisterVoter, []any{voterAddr})
	assert.Equal(t, common.HexToAddress(voterAddr), out[0])

	out = c.args(ledger.FnStartVoting, []any{[]string{"A"}, session})
	assert.Equal(t, []any{[]string{"A"}, session}, out)
}

func TestCodec_ArgsKeepsAddressShapedPartyName(t *testing.T) {
	c := testCodec(t)
	out := c.args(ledger.FnVote, []any{voterAddr})
	assert.Equal(t, voterAddr, out[0])

	_, err := c.abi.Pack(string(ledger.FnVote), out...)
	require.NoError(t, err)
}

func TestConfirmed(t *testing.T) {
	assert.True(t, confirmed(100, 100, 1))
	assert.True(t, confirmed(100, 90, 0))
	assert.False(t, confirmed(100, 100, 2))
	assert.True(t, confirmed(100, 101, 2))
}

func TestRevertFrom(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Same(t, plain, revertFrom(plain))

	var rerr *ledger.RevertError
	require.ErrorAs(t, revertFrom(errors.New("execution reverted")), &rerr)
	assert.Empty(t, rerr.Reason)

	// Error(string) selector 0x08c379a0 with the reason "not admin".
	data := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000009" +
		"6e6f742061646d696e0000000000000000000000000000000000000000000000"
	require.ErrorAs(t, revertFrom(dataError{msg: "execution reverted: not admin", data: data}), &rerr)
	assert.Equal(t, "not admin", rerr.Reason)
}

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }
