package mocks

import (
	"context"

	"referral_engine/internal/store"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

var _ store.Store = (*MockStore)(nil)

func (m *MockStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	args := m.Called(ctx, collection, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Document), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, collection, id string, v any) (bool, error) {
	args := m.Called(ctx, collection, id, v)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, collection, id string, v any) error {
	args := m.Called(ctx, collection, id, v)
	return args.Error(0)
}

func (m *MockStore) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	args := m.Called(ctx, collection, id, fields)
	return args.Error(0)
}

func (m *MockStore) Increment(ctx context.Context, collection, id, field string, delta float64) error {
	args := m.Called(ctx, collection, id, field, delta)
	return args.Error(0)
}

func (m *MockStore) Query(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	args := m.Called(ctx, collection, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Document), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, collection, id string) error {
	args := m.Called(ctx, collection, id)
	return args.Error(0)
}
