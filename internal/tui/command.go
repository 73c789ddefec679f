package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ballotwatch/internal/election"
	"ballotwatch/internal/gate"
)

var commands = map[string]election.OperationKind{
	"register": election.OpRegisterVoter,
	"admin":    election.OpAddAdmin,
	"start":    election.OpStartSession,
	"stop":     election.OpStopSession,
	"vote":     election.OpCastVote,
}

func commandName(k election.OperationKind) string {
	for name, kind := range commands {
		if kind == k {
			return name
		}
	}
	return k.String()
}

// ParseCommand turns a command line into a request. It only checks shape;
// preconditions are left to the gate.
func ParseCommand(line string) (gate.Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return gate.Request{}, errors.New("empty command")
	}
	kind, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return gate.Request{}, fmt.Errorf("unknown command %q", fields[0])
	}
	args := fields[1:]
	req := gate.Request{Kind: kind}

	switch kind {
	case election.OpRegisterVoter, election.OpAddAdmin:
		if len(args) != 1 {
			return req, fmt.Errorf("usage: %s <address>", fields[0])
		}
		req.Target = args[0]
	case election.OpStartSession:
		if len(args) < 2 {
			return req, errors.New("usage: start <seconds|duration> <party> [party...]")
		}
		d, err := ParseDuration(args[0])
		if err != nil {
			return req, err
		}
		req.Duration = d
		req.Parties = SplitParties(strings.Join(args[1:], " "))
	case election.OpStopSession:
		if len(args) != 0 {
			return req, errors.New("usage: stop")
		}
	case election.OpCastVote:
		if len(args) == 0 {
			return req, errors.New("usage: vote <party>")
		}
		req.Party = strings.Join(args, " ")
	}
	return req, nil
}

// ParseDuration accepts whole seconds ("600") or a Go duration ("10m").
func ParseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// SplitParties splits a party list on commas, or on whitespace when there
// are no commas.
func SplitParties(s string) []string {
	var parts []string
	if strings.Contains(s, ",") {
		parts = strings.Split(s, ",")
	} else {
		parts = strings.Fields(s)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
