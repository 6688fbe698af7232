package pantheonix

import (
	"context"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockNakamaModule is a testify-backed double for runtime.NakamaModule, used where a
// test needs to script storage or directory failures. The happy paths use the simpler
// in-memory testNakamaModule instead.
type MockNakamaModule struct {
	mock.Mock
	runtime.NakamaModule
	logger *zap.Logger
}

// NewMockNakama returns a new instance of MockNakamaModule for use in tests.
func NewMockNakama(t *testing.T) *MockNakamaModule {
	logger, _ := zap.NewDevelopment()
	return &MockNakamaModule{
		logger: logger,
	}
}

func (m *MockNakamaModule) Log(msg string, fields ...zap.Field) {
	if m.logger != nil {
		m.logger.Info(msg, fields...)
	}
}

func (m *MockNakamaModule) StorageRead(ctx context.Context, objectIDs []*runtime.StorageRead) ([]*api.StorageObject, error) {
	args := m.Called(ctx, objectIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*api.StorageObject), args.Error(1)
}

func (m *MockNakamaModule) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	args := m.Called(ctx, writes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*api.StorageObjectAck), args.Error(1)
}

func (m *MockNakamaModule) StorageDelete(ctx context.Context, objectIDs []*runtime.StorageDelete) error {
	args := m.Called(ctx, objectIDs)
	return args.Error(0)
}

func (m *MockNakamaModule) StorageList(ctx context.Context, callerID, userID, collection string, limit int, cursor string) ([]*api.StorageObject, string, error) {
	args := m.Called(ctx, callerID, userID, collection, limit, cursor)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]*api.StorageObject), args.String(1), args.Error(2)
}

func (m *MockNakamaModule) NotificationsSend(ctx context.Context, notifications []*runtime.NotificationSend) error {
	args := m.Called(ctx, notifications)
	return args.Error(0)
}

func (m *MockNakamaModule) UsersGetId(ctx context.Context, userIDs []string, facebookIDs []string) ([]*api.User, error) {
	args := m.Called(ctx, userIDs, facebookIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*api.User), args.Error(1)
}
