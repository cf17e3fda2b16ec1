// Package mocks provides test doubles for the store interfaces.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/factbase/internal/model"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// LoadFieldStore provides a mock function with given fields: ctx, entityID
func (_m *MockStore) LoadFieldStore(ctx context.Context, entityID string) (*model.FieldStore, error) {
	ret := _m.Called(ctx, entityID)

	if len(ret) == 0 {
		panic("no return value specified for LoadFieldStore")
	}

	var r0 *model.FieldStore
	if rf, ok := ret.Get(0).(func(context.Context, string) *model.FieldStore); ok {
		r0 = rf(ctx, entityID)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.FieldStore)
	}
	return r0, ret.Error(1)
}

// SaveFieldStore provides a mock function with given fields: ctx, fs
func (_m *MockStore) SaveFieldStore(ctx context.Context, fs *model.FieldStore) error {
	ret := _m.Called(ctx, fs)

	if len(ret) == 0 {
		panic("no return value specified for SaveFieldStore")
	}

	if rf, ok := ret.Get(0).(func(context.Context, *model.FieldStore) error); ok {
		return rf(ctx, fs)
	}
	return ret.Error(0)
}

// SaveGraph provides a mock function with given fields: ctx, g
func (_m *MockStore) SaveGraph(ctx context.Context, g *model.Graph) error {
	ret := _m.Called(ctx, g)

	if len(ret) == 0 {
		panic("no return value specified for SaveGraph")
	}
	return ret.Error(0)
}

// LoadGraph provides a mock function with given fields: ctx, entityID
func (_m *MockStore) LoadGraph(ctx context.Context, entityID string) (*model.Graph, error) {
	ret := _m.Called(ctx, entityID)

	if len(ret) == 0 {
		panic("no return value specified for LoadGraph")
	}

	var r0 *model.Graph
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Graph)
	}
	return r0, ret.Error(1)
}

// GetLatestRun provides a mock function with given fields: ctx, entityID, kind
func (_m *MockStore) GetLatestRun(ctx context.Context, entityID string, kind string) (*model.Run, error) {
	ret := _m.Called(ctx, entityID, kind)

	if len(ret) == 0 {
		panic("no return value specified for GetLatestRun")
	}

	var r0 *model.Run
	if rf, ok := ret.Get(0).(func(context.Context, string, string) *model.Run); ok {
		r0 = rf(ctx, entityID, kind)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Run)
	}
	return r0, ret.Error(1)
}

// GetLatestCompleteRun provides a mock function with given fields: ctx, entityID, kind
func (_m *MockStore) GetLatestCompleteRun(ctx context.Context, entityID string, kind string) (*model.Run, error) {
	ret := _m.Called(ctx, entityID, kind)

	if len(ret) == 0 {
		panic("no return value specified for GetLatestCompleteRun")
	}

	var r0 *model.Run
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Run)
	}
	return r0, ret.Error(1)
}

// GetRun provides a mock function with given fields: ctx, runID
func (_m *MockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	ret := _m.Called(ctx, runID)

	if len(ret) == 0 {
		panic("no return value specified for GetRun")
	}

	var r0 *model.Run
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.Run)
	}
	return r0, ret.Error(1)
}

// CreateRun provides a mock function with given fields: ctx, run
func (_m *MockStore) CreateRun(ctx context.Context, run *model.Run) error {
	ret := _m.Called(ctx, run)

	if len(ret) == 0 {
		panic("no return value specified for CreateRun")
	}
	return ret.Error(0)
}

// ListEntities provides a mock function with given fields: ctx
func (_m *MockStore) ListEntities(ctx context.Context) ([]string, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for ListEntities")
	}

	var r0 []string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	return r0, ret.Error(1)
}

// Migrate provides a mock function with given fields: ctx
func (_m *MockStore) Migrate(ctx context.Context) error {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Migrate")
	}
	return ret.Error(0)
}

// Ping provides a mock function with given fields: ctx
func (_m *MockStore) Ping(ctx context.Context) error {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Ping")
	}
	return ret.Error(0)
}

// Close provides a mock function with given fields:
func (_m *MockStore) Close() error {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Close")
	}
	return ret.Error(0)
}

// NewMockStore creates a new instance of MockStore. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
