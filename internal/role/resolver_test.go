package role

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ballotwatch/internal/election"
)

const viewer = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestResolve_AllCombinations(t *testing.T) {
	bools := []bool{false, true}
	for _, connected := range bools {
		for _, hasAddr := range bools {
			for _, adminVal := range bools {
				for _, adminPending := range bools {
					for _, voterVal := range bools {
						for _, voterPending := range bools {
							in := Inputs{
								Connected: connected,
								Admin:     Read{Value: adminVal, Pending: adminPending},
								Voter:     Read{Value: voterVal, Pending: voterPending},
							}
							if hasAddr {
								in.Address = viewer
							}
							got := Resolve(in)

							var want election.Role
							switch {
							case !connected || !hasAddr || adminPending || voterPending:
								want = election.RoleLoading
							case adminVal:
								want = election.RoleAdmin
							case voterVal:
								want = election.RoleVoter
							default:
								want = election.RoleUnauthorized
							}
							assert.Equal(t, want, got, "inputs %+v", in)
						}
					}
				}
			}
		}
	}
}

func TestResolve_AdminWinsOverVoter(t *testing.T) {
	got := Resolve(Inputs{
		Connected: true,
		Address:   viewer,
		Admin:     Read{Value: true},
		Voter:     Read{Value: true},
	})
	assert.Equal(t, election.RoleAdmin, got)
}

func TestResolve_AdminWaitsForVoterRead(t *testing.T) {
	got := Resolve(Inputs{
		Connected: true,
		Address:   viewer,
		Admin:     Read{Value: true},
		Voter:     Read{Pending: true},
	})
	assert.Equal(t, election.RoleLoading, got)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, election.RoleLoading, tr.Role())

	assert.Equal(t, election.RoleLoading, tr.SetViewer(election.ViewerIdentity{Connected: true, Address: viewer}))
	assert.Equal(t, election.RoleLoading, tr.SetAdmin(Read{Value: false}))
	assert.Equal(t, election.RoleVoter, tr.SetVoter(Read{Value: true}))

	t.Run("same address keeps reads", func(t *testing.T) {
		role := tr.SetViewer(election.ViewerIdentity{Connected: true, Address: viewer})
		assert.Equal(t, election.RoleVoter, role)
	})

	t.Run("disconnect resets to loading", func(t *testing.T) {
		assert.Equal(t, election.RoleLoading, tr.SetViewer(election.ViewerIdentity{}))
		in := tr.Inputs()
		assert.True(t, in.Admin.Pending)
		assert.True(t, in.Voter.Pending)
		assert.Empty(t, in.Address)
	})
}
