package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ballotwatch/internal/election"
	"ballotwatch/internal/ledger"
)

// MockLedger is a mock implementation of ledger.Ledger. Variadic call
// arguments are recorded as a single []any.
type MockLedger struct {
	mock.Mock
}

var _ ledger.Ledger = (*MockLedger)(nil)

func (m *MockLedger) Read(ctx context.Context, fn ledger.Function, args ...any) (any, error) {
	ret := m.Called(ctx, fn, args)
	return ret.Get(0), ret.Error(1)
}

func (m *MockLedger) Write(ctx context.Context, fn ledger.Function, args ...any) (ledger.Handle, error) {
	ret := m.Called(ctx, fn, args)
	return ret.Get(0).(ledger.Handle), ret.Error(1)
}

func (m *MockLedger) AwaitConfirmation(ctx context.Context, h ledger.Handle, confirmations int) error {
	ret := m.Called(ctx, h, confirmations)
	return ret.Error(0)
}

func (m *MockLedger) Subscribe(ctx context.Context, kind election.EventKind, h ledger.Handler) (ledger.Subscription, error) {
	ret := m.Called(ctx, kind, h)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(ledger.Subscription), ret.Error(1)
}

func (m *MockLedger) Viewer() string {
	ret := m.Called()
	return ret.String(0)
}

func (m *MockLedger) Close() error {
	ret := m.Called()
	return ret.Error(0)
}

// MockInvalidator records invalidations requested by the transaction
// coordinator.
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(facts ...election.Fact) {
	m.Called(facts)
}
