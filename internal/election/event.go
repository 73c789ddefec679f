package election

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one of the ledger's event streams.
type EventKind int

const (
	EventVoterRegistered EventKind = iota
	EventSessionStarted
	EventVoteCast
	EventSessionEnded
)

// AllEventKinds lists every subscribed event kind.
var AllEventKinds = []EventKind{
	EventVoterRegistered,
	EventSessionStarted,
	EventVoteCast,
	EventSessionEnded,
}

func (k EventKind) String() string {
	switch k {
	case EventVoterRegistered:
		return "VoterRegistered"
	case EventSessionStarted:
		return "SessionStarted"
	case EventVoteCast:
		return "VoteCast"
	case EventSessionEnded:
		return "SessionEnded"
	default:
		return "Unknown"
	}
}

// Event is a decoded ledger event. Payload fields are all optional: ledger
// adapters leave a field zero when it is absent or cannot be decoded.
type Event interface {
	Kind() EventKind
}

type VoterRegistered struct {
	Voter string
}

type SessionStarted struct {
	EndTime time.Time
	Parties []string
}

type VoteCast struct {
	Voter string
	Party string
}

type SessionEnded struct {
	WinningParty string
	Parties      []string
	VoteCounts   []uint64
}

func (VoterRegistered) Kind() EventKind { return EventVoterRegistered }
func (SessionStarted) Kind() EventKind  { return EventSessionStarted }
func (VoteCast) Kind() EventKind        { return EventVoteCast }
func (SessionEnded) Kind() EventKind    { return EventSessionEnded }

// NotificationKind classifies user-visible notifications.
type NotificationKind string

const (
	NotifyVoterRegistered NotificationKind = "voter_registered"
	NotifySessionStarted  NotificationKind = "session_started"
	NotifyVoteCast        NotificationKind = "vote_cast"
	NotifySessionEnded    NotificationKind = "session_ended"
	NotifyTransaction     NotificationKind = "transaction"
)

// Notification is a user-visible message produced from events and
// transaction outcomes.
type Notification struct {
	ID      uuid.UUID        `json:"id"`
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
	Address string           `json:"address,omitempty"`
	Party   string           `json:"party,omitempty"`
	Winner  string           `json:"winner,omitempty"`
	At      time.Time        `json:"at"`
}

// NewNotification stamps a notification with a fresh id and time.
func NewNotification(kind NotificationKind, format string, args ...any) Notification {
	return Notification{
		ID:      uuid.New(),
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	}
}
