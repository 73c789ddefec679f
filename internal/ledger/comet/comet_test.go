package comet

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func TestQuery(t *testing.T) {
	assert.Equal(t, "tm.event = 'Tx' AND election.kind = 'VotingSessionEnded'", Query(election.EventSessionEnded))
	assert.Equal(t, "tm.event = 'Tx' AND election.kind = 'VoteCast'", Query(election.EventVoteCast))
}

func TestEventFromAttributes(t *testing.T) {
	ev := eventFromAttributes(election.EventSessionEnded, map[string][]string{
		"election.kind":          {"VotingSessionEnded"},
		"election.winning_party": {"Blue"},
		"election.parties":       {`["Blue","Red"]`},
		"election.vote_counts":   {`[120,80]`},
		"tm.event":               {"Tx"},
	})
	assert.Equal(t, election.SessionEnded{
		WinningParty: "Blue",
		Parties:      []string{"Blue", "Red"},
		VoteCounts:   []uint64{120, 80},
	}, ev)

	ev = eventFromAttributes(election.EventSessionStarted, map[string][]string{
		"Election.End_Time": {"1760000000"},
		"election.parties":  {`["A","B"]`},
	})
	assert.Equal(t, election.SessionStarted{
		EndTime: time.Unix(1760000000, 0).UTC(),
		Parties: []string{"A", "B"},
	}, ev)

	ev = eventFromAttributes(election.EventVoteCast, map[string][]string{
		"election.voter": {" " + testAddress + " "},
		"election.party": {"A"},
	})
	assert.Equal(t, election.VoteCast{Voter: testAddress, Party: "A"}, ev)
}

func TestEventFromAttributes_Malformed(t *testing.T) {
	ev := eventFromAttributes(election.EventSessionEnded, map[string][]string{
		"election.parties":     {`not json`},
		"election.vote_counts": {`[1,-2]`},
	})
	assert.Equal(t, election.SessionEnded{}, ev)

	ev = eventFromAttributes(election.EventVoterRegistered, nil)
	assert.Equal(t, election.VoterRegistered{}, ev)
}

func TestDecodeValue(t *testing.T) {
	v, err := decodeValue([]byte(`true`))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = decodeValue([]byte(`18446744073709551616`))
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("18446744073709551616", 10)
	assert.Equal(t, 0, want.Cmp(v.(*big.Int)))

	v, err = decodeValue([]byte(`["A","B"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, v)

	_, err = decodeValue([]byte(`1.5`))
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key, addr, err := parseKey(testKey)
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr)
	assert.Len(t, key, 32)

	_, _, err = parseKey("0x1234")
	assert.Error(t, err)
}

func TestEnvelope_Signed(t *testing.T) {
	key, addr, err := parseKey(testKey)
	require.NoError(t, err)
	l := &Ledger{key: key, from: addr, nonce: 41}

	bz, err := l.envelope(ledger.FnStartVoting, []any{[]string{"A", "B"}, ledger.Uint256(600)})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(bz, &env))
	assert.Equal(t, "startVoting", env.Fn)
	assert.Equal(t, addr, env.From)
	assert.Equal(t, uint64(42), env.Nonce)
	assert.JSONEq(t, `[["A","B"],600]`, string(env.Args))
	assert.True(t, key.PubKey().VerifySignature(env.SignBytes(), env.Signature))
}

func TestConfirmed(t *testing.T) {
	assert.True(t, confirmed(10, 10, 1))
	assert.False(t, confirmed(10, 10, 3))
	assert.True(t, confirmed(10, 12, 3))
}
