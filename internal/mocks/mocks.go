// Package mocks holds the hand-written testify mocks shared across test
// suites. Packages with purely local doubles keep them next to the tests;
// these are the ones several suites need.
package mocks

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// -- Page Driver Mock --

// MockDriver mocks the platform.Driver interface.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Find(ctx context.Context, loc platform.Locator) (platform.Element, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(platform.Element), args.Error(1)
}

func (m *MockDriver) IsVisible(ctx context.Context, el platform.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) IsEnabled(ctx context.Context, el platform.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) IsObscured(ctx context.Context, el platform.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Click(ctx context.Context, el platform.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) ReadText(ctx context.Context, el platform.Element) (string, error) {
	args := m.Called(ctx, el)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) TypeText(ctx context.Context, el platform.Element, text string) error {
	return m.Called(ctx, el, text).Error(0)
}

func (m *MockDriver) ScreenshotRegion(ctx context.Context, loc platform.Locator) ([]byte, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockDriver) WaitReady(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) WaitUntil(ctx context.Context, timeout time.Duration, pred func(ctx context.Context) (bool, error)) error {
	return m.Called(ctx, timeout, pred).Error(0)
}

// AcquireOpLock defaults to passing the inbound context through with a no-op
// release, so most tests only need Return(nil, nil).
func (m *MockDriver) AcquireOpLock(ctx context.Context) (context.Context, func()) {
	args := m.Called(ctx)
	out := ctx
	if c, ok := args.Get(0).(context.Context); ok {
		out = c
	}
	release := func() {}
	if f, ok := args.Get(1).(func()); ok {
		release = f
	}
	return out, release
}

// -- Element Mock --

// MockElement mocks the platform.Element handle.
type MockElement struct {
	mock.Mock
}

func (m *MockElement) Locator() platform.Locator {
	args := m.Called()
	if loc, ok := args.Get(0).(platform.Locator); ok {
		return loc
	}
	return platform.Locator{}
}

// -- Database Pool Mock --

// MockDBPool mocks the store.DBPool interface for failure paths pgxmock
// cannot stage.
type MockDBPool struct {
	mock.Mock
}

func (m *MockDBPool) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDBPool) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockDBPool) Query(ctx context.Context, sql string, queryArgs ...interface{}) (pgx.Rows, error) {
	args := m.Called(ctx, sql, queryArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *MockDBPool) Exec(ctx context.Context, sql string, execArgs ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, execArgs)
	if args.Get(0) == nil {
		return pgconn.CommandTag{}, args.Error(1)
	}
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *MockDBPool) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	args := m.Called(ctx, tableName, columnNames, rowSrc)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}
