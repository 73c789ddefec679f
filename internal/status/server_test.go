package status

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotwatch/internal/coordinator"
	"ballotwatch/internal/election"
	"ballotwatch/internal/gate"
	"ballotwatch/internal/models"
	"ballotwatch/internal/registry"
	"ballotwatch/internal/txn"
)

const viewer = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type fakeSource struct {
	mu    sync.Mutex
	view  coordinator.View
	notes []election.Notification
	got   []gate.Request
	rec   txn.Record
	err   error
}

func (f *fakeSource) View() coordinator.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSource) Notifications() []election.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes
}

func (f *fakeSource) Submit(_ context.Context, req gate.Request) (txn.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.rec, f.err
}

type fakeRegistrar struct {
	err error
}

func (f *fakeRegistrar) Register(_ context.Context, p registry.Profile) (models.VoterProfile, error) {
	if f.err != nil {
		return models.VoterProfile{}, f.err
	}
	return models.VoterProfile{ID: 7, Name: p.Name}, nil
}

func subscribedAll(v bool) map[election.EventKind]bool {
	out := make(map[election.EventKind]bool)
	for _, k := range election.AllEventKinds {
		out[k] = v
	}
	return out
}

func activeView() coordinator.View {
	end := time.Date(2026, 11, 3, 20, 0, 0, 0, time.UTC)
	return coordinator.View{
		Viewer: election.ViewerIdentity{Connected: true, Address: viewer},
		Role:   election.RoleVoter,
		Session: election.SessionState{
			SessionID: 4, SessionKnown: true,
			Active: true, ActiveKnown: true,
			Parties: []string{"Blue", "Red"},
			EndTime: end, EndTimeKnown: true,
			HasVotedKnown: true,
			Stale:         []election.Fact{election.FactParties},
		},
		Records:    []txn.Record{{Kind: election.OpCastVote}},
		Allowed:    map[election.OperationKind]bool{election.OpCastVote: true, election.OpStartSession: false},
		Subscribed: subscribedAll(true),
	}
}

func newTestServer(src Source, reg Registrar) (*Server, *Hub) {
	hub := NewHub()
	return NewServer(src, reg, hub, zerolog.Nop()), hub
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	src := &fakeSource{view: activeView()}
	s, _ := newTestServer(src, nil)

	rec := do(t, s.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	src.view.Subscribed[election.EventVoteCast] = false
	rec = do(t, s.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"subscriptions":3,"expected":4,"clients":0}`, rec.Body.String())
}

func TestState(t *testing.T) {
	s, _ := newTestServer(&fakeSource{view: activeView()}, nil)
	rec := do(t, s.Router(), http.MethodGet, "/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, viewer, got.Viewer)
	assert.Equal(t, "voter", got.Role)
	require.NotNil(t, got.Session.ID)
	assert.Equal(t, uint64(4), *got.Session.ID)
	assert.Equal(t, []string{"Blue", "Red"}, got.Session.Parties)
	require.NotNil(t, got.Session.ViewerHasVoted)
	assert.False(t, *got.Session.ViewerHasVoted)
	assert.Equal(t, []string{"parties"}, got.Session.Stale)
	assert.Nil(t, got.Results)
	assert.Equal(t, map[string]bool{"cast_vote": true, "start_session": false}, got.Allowed)
	require.Len(t, got.Operations, 1)
	assert.Equal(t, "idle", got.Operations[0].State)
	assert.Empty(t, got.Operations[0].ID)
}

func TestState_LoadingHidesUnknownFacts(t *testing.T) {
	s, _ := newTestServer(&fakeSource{view: coordinator.View{}}, nil)
	rec := do(t, s.Router(), http.MethodGet, "/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.JSONEq(t, `{}`, string(raw["session"]))
	assert.JSONEq(t, `"loading"`, string(raw["role"]))
}

func TestSubmit(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		err  error
		code int
	}{
		{"accepted", "/v1/operations/start_session", `{"parties":["Blue","Red"],"duration_seconds":600}`, nil, http.StatusAccepted},
		{"unknown kind", "/v1/operations/burn", ``, nil, http.StatusNotFound},
		{"bad body", "/v1/operations/cast_vote", `{"colour":"blue"}`, nil, http.StatusBadRequest},
		{"rejected", "/v1/operations/cast_vote", `{"party":"Blue"}`,
			&election.ValidationError{Kind: election.OpCastVote, Precondition: gate.NeedNotVoted}, http.StatusUnprocessableEntity},
		{"in flight", "/v1/operations/stop_session", ``, txn.ErrInFlight, http.StatusConflict},
		{"wallet refused", "/v1/operations/add_admin", `{"target":"` + viewer + `"}`,
			&election.SubmissionError{Kind: election.OpAddAdmin, Err: errors.New("user rejected")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{err: tc.err, rec: txn.Record{ID: uuid.New(), Kind: election.OpStartSession, State: txn.PendingConfirmation, Handle: "0x01"}}
			s, _ := newTestServer(src, nil)
			rec := do(t, s.Router(), http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	src := &fakeSource{rec: txn.Record{ID: uuid.New(), Kind: election.OpStartSession, State: txn.PendingConfirmation}}
	s, _ := newTestServer(src, nil)
	do(t, s.Router(), http.MethodPost, "/v1/operations/START_SESSION", `{"parties":["Blue"],"duration_seconds":90}`)
	require.Len(t, src.got, 1)
	assert.Equal(t, gate.Request{Kind: election.OpStartSession, Parties: []string{"Blue"}, Duration: 90 * time.Second}, src.got[0])
}

func TestRegister(t *testing.T) {
	body := `{"name":"Ada","tax_id":"1234 5678 9012","email":"ada@example.com","chain_address":"` + viewer + `","residential_address":"12 Square"}`

	s, _ := newTestServer(&fakeSource{}, nil)
	assert.Equal(t, http.StatusNotImplemented, do(t, s.Router(), http.MethodPost, "/v1/register", body).Code)

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"created", nil, http.StatusCreated},
		{"duplicate", registry.ErrDuplicate, http.StatusConflict},
		{"invalid", errors.Join(registry.ErrBadEmail, registry.ErrMissingName), http.StatusBadRequest},
		{"store down", errors.New("dial tcp: refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeSource{}, &fakeRegistrar{err: tc.err})
			rec := do(t, s.Router(), http.MethodPost, "/v1/register", body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestStreamNotifications(t *testing.T) {
	s, hub := newTestServer(&fakeSource{}, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/notifications/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	n := election.NewNotification(election.NotifySessionStarted, "New voting session has started!")
	hub.Broadcast(n)

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	assert.Equal(t, "session_started", event)
	var got election.Notification
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.Message, got.Message)

	cancel()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}
