// Package ledger defines the RPC collaborator the coordinator talks to:
// contract reads, writes, confirmation waits and event subscriptions.
// Concrete transports live in the evm and comet subpackages.
package ledger

import (
	"context"
	"fmt"

	"ballotwatch/internal/election"
)

// ConfirmationsRequired is the number of confirmations awaited per write.
const ConfirmationsRequired = 1

// Function is a contract function name.
type Function string

const (
	FnCurrentSessionID  Function = "currentSessionId"
	FnIsAdmin           Function = "isAdmin"
	FnIsVoterRegistered Function = "isVoterRegistered"
	FnVotingStarted     Function = "votingStarted"
	FnGetParties        Function = "getParties"
	FnVotingEndTime     Function = "votingEndTime"
	FnHasVotedInSession Function = "hasVotedInSession"

	FnRegisterVoter Function = "registerVoter"
	FnAddAdmin      Function = "addAdmin"
	FnStartVoting   Function = "startVoting"
	FnStopVoting    Function = "stopVoting"
	FnVote          Function = "vote"
)

// Handle identifies a submitted write (a transaction hash).
type Handle string

// Handler receives decoded events.
type Handler func(election.Event)

// Subscription is a live event subscription. Err delivers at most one error
// when the subscription breaks; it is closed by Unsubscribe.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// Reader performs contract reads. Values are normalized to bool, *big.Int,
// string or []string regardless of transport.
type Reader interface {
	Read(ctx context.Context, fn Function, args ...any) (any, error)
}

// Writer submits state-changing calls and waits for their confirmation.
type Writer interface {
	Write(ctx context.Context, fn Function, args ...any) (Handle, error)
	AwaitConfirmation(ctx context.Context, h Handle, confirmations int) error
}

// Subscriber opens one subscription per event kind.
type Subscriber interface {
	Subscribe(ctx context.Context, kind election.EventKind, h Handler) (Subscription, error)
}

// Ledger is the full collaborator.
type Ledger interface {
	Reader
	Writer
	Subscriber
	// Viewer is the address the ledger signs writes with, empty if the
	// ledger is read-only.
	Viewer() string
	Close() error
}

// RevertError reports a read or write rejected by the contract itself.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// EventName maps an event kind to the contract's event name.
func EventName(kind election.EventKind) string {
	switch kind {
	case election.EventVoterRegistered:
		return "VoterRegistered"
	case election.EventSessionStarted:
		return "VotingSessionStarted"
	case election.EventVoteCast:
		return "VoteCast"
	case election.EventSessionEnded:
		return "VotingSessionEnded"
	default:
		return ""
	}
}

// WriteFunction maps an operation kind to the contract function it calls.
func WriteFunction(kind election.OperationKind) Function {
	switch kind {
	case election.OpRegisterVoter:
		return FnRegisterVoter
	case election.OpAddAdmin:
		return FnAddAdmin
	case election.OpStartSession:
		return FnStartVoting
	case election.OpStopSession:
		return FnStopVoting
	case election.OpCastVote:
		return FnVote
	default:
		return ""
	}
}
