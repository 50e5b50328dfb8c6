package test

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	dbadapter "github.com/tigerroll/billcache/pkg/batch/adapter/database"
	coreadapter "github.com/tigerroll/billcache/pkg/batch/core/adapter"
)

// MockDBConnectionResolver is a testify mock of database.DBConnectionResolver.
type MockDBConnectionResolver struct {
	mock.Mock
}

// ResolveDBConnection mocks the ResolveDBConnection method.
func (m *MockDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	args := m.Called(ctx, name)
	conn, _ := args.Get(0).(dbadapter.DBConnection)
	return conn, args.Error(1)
}

// ResolveConnection mocks the ResolveConnection method.
func (m *MockDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreadapter.ResourceConnection, error) {
	args := m.Called(ctx, name)
	conn, _ := args.Get(0).(coreadapter.ResourceConnection)
	return conn, args.Error(1)
}

// StaticConnectionResolver resolves a fixed set of named connections.
type StaticConnectionResolver struct {
	conns map[string]dbadapter.DBConnection
}

// NewSingleConnectionResolver returns a resolver that answers every name with conn.
func NewSingleConnectionResolver(conn dbadapter.DBConnection) *StaticConnectionResolver {
	return &StaticConnectionResolver{conns: map[string]dbadapter.DBConnection{"*": conn}}
}

// NewStaticConnectionResolver returns a resolver over the given name -> connection map.
func NewStaticConnectionResolver(conns map[string]dbadapter.DBConnection) *StaticConnectionResolver {
	return &StaticConnectionResolver{conns: conns}
}

// ResolveDBConnection implements database.DBConnectionResolver.
func (r *StaticConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}
	if conn, ok := r.conns["*"]; ok {
		return conn, nil
	}
	return nil, fmt.Errorf("test resolver: no connection named '%s'", name)
}

// ResolveConnection implements coreadapter.ResourceConnectionResolver.
func (r *StaticConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreadapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

var _ dbadapter.DBConnectionResolver = (*StaticConnectionResolver)(nil)
var _ dbadapter.DBConnectionResolver = (*MockDBConnectionResolver)(nil)
