// Package role derives the viewer's authorization role from the connection
// state and the two ledger role reads.
package role

import (
	"sync"

	"ballotwatch/internal/election"
)

// Read is the state of one boolean ledger read. Pending is true until the
// read has produced a value; a read that failed before ever succeeding stays
// pending.
type Read struct {
	Value   bool
	Pending bool
}

// Inputs are everything the role depends on.
type Inputs struct {
	Connected bool
	Address   string
	Admin     Read
	Voter     Read
}

// Resolve computes the role. It stays Loading while either read is pending;
// after that Admin takes priority and the voter value is not consulted.
func Resolve(in Inputs) election.Role {
	if !in.Connected || in.Address == "" {
		return election.RoleLoading
	}
	if in.Admin.Pending || in.Voter.Pending {
		return election.RoleLoading
	}
	if in.Admin.Value {
		return election.RoleAdmin
	}
	if in.Voter.Value {
		return election.RoleVoter
	}
	return election.RoleUnauthorized
}

// Tracker holds the latest inputs and recomputes the role on every change.
type Tracker struct {
	mu   sync.RWMutex
	in   Inputs
	role election.Role
}

// NewTracker returns a tracker for a disconnected viewer.
func NewTracker() *Tracker {
	return &Tracker{
		in: Inputs{
			Admin: Read{Pending: true},
			Voter: Read{Pending: true},
		},
		role: election.RoleLoading,
	}
}

// SetViewer updates the identity part of the inputs. A changed address
// resets both reads to pending.
func (t *Tracker) SetViewer(id election.ViewerIdentity) election.Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !id.Connected || !election.SameAddress(id.Address, t.in.Address) {
		t.in.Admin = Read{Pending: true}
		t.in.Voter = Read{Pending: true}
	}
	t.in.Connected = id.Connected
	t.in.Address = id.Address
	if !id.Connected {
		t.in.Address = ""
	}
	t.role = Resolve(t.in)
	return t.role
}

// SetAdmin records the admin read.
func (t *Tracker) SetAdmin(r Read) election.Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in.Admin = r
	t.role = Resolve(t.in)
	return t.role
}

// SetVoter records the registered-voter read.
func (t *Tracker) SetVoter(r Read) election.Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.in.Voter = r
	t.role = Resolve(t.in)
	return t.role
}

// Role returns the role for the current inputs.
func (t *Tracker) Role() election.Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.role
}

// Inputs returns a copy of the current inputs.
func (t *Tracker) Inputs() Inputs {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.in
}
