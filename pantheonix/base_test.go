package pantheonix

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/require"
)

// testNakamaModule is a test double for runtime.NakamaModule. Only the methods the
// systems use are implemented; everything else panics through the embedded nil
// interface. Guarded by a mutex because persistence runs on background goroutines.
type testNakamaModule struct {
	runtime.NakamaModule

	mu            sync.Mutex
	storageData   map[string]string // collection:key:userID -> value
	notifications []*runtime.NotificationSend
	users         map[string]*api.User
}

func newTestNakama() *testNakamaModule {
	return &testNakamaModule{
		storageData: make(map[string]string),
		users:       make(map[string]*api.User),
	}
}

func formatStorageKey(collection, key, userID string) string {
	return collection + ":" + key + ":" + userID
}

func (n *testNakamaModule) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]*api.StorageObject, 0, len(reads))
	for _, read := range reads {
		value, exists := n.storageData[formatStorageKey(read.Collection, read.Key, read.UserID)]
		if exists {
			result = append(result, &api.StorageObject{
				Collection: read.Collection,
				Key:        read.Key,
				UserId:     read.UserID,
				Value:      value,
				Version:    "1",
			})
		}
	}
	return result, nil
}

func (n *testNakamaModule) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]*api.StorageObjectAck, 0, len(writes))
	for _, write := range writes {
		n.storageData[formatStorageKey(write.Collection, write.Key, write.UserID)] = write.Value
		result = append(result, &api.StorageObjectAck{
			Collection: write.Collection,
			Key:        write.Key,
			UserId:     write.UserID,
			Version:    "1",
		})
	}
	return result, nil
}

func (n *testNakamaModule) StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, del := range deletes {
		delete(n.storageData, formatStorageKey(del.Collection, del.Key, del.UserID))
	}
	return nil
}

func (n *testNakamaModule) StorageList(ctx context.Context, callerID, userID, collection string, limit int, cursor string) ([]*api.StorageObject, string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]*api.StorageObject, 0)
	for fullKey, value := range n.storageData {
		parts := strings.SplitN(fullKey, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if collection != "" && parts[0] != collection {
			continue
		}
		if userID != "" && parts[2] != userID {
			continue
		}
		result = append(result, &api.StorageObject{
			Collection: parts[0],
			Key:        parts[1],
			UserId:     parts[2],
			Value:      value,
			Version:    "1",
		})
	}
	return result, "", nil
}

func (n *testNakamaModule) NotificationsSend(ctx context.Context, notifications []*runtime.NotificationSend) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notifications...)
	return nil
}

func (n *testNakamaModule) UsersGetId(ctx context.Context, userIDs []string, facebookIDs []string) ([]*api.User, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]*api.User, 0, len(userIDs))
	for _, id := range userIDs {
		if user, ok := n.users[id]; ok {
			result = append(result, user)
		}
	}
	return result, nil
}

func (n *testNakamaModule) notificationCount(code int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, notification := range n.notifications {
		if notification.Code == code {
			count++
		}
	}
	return count
}

// mockLogger is a simple logger that implements runtime.Logger for testing.
type mockLogger struct{}

func (l *mockLogger) Debug(format string, v ...interface{})                   {}
func (l *mockLogger) Info(format string, v ...interface{})                    {}
func (l *mockLogger) Warn(format string, v ...interface{})                    {}
func (l *mockLogger) Error(format string, v ...interface{})                   {}
func (l *mockLogger) WithField(key string, v interface{}) runtime.Logger      { return l }
func (l *mockLogger) WithFields(fields map[string]interface{}) runtime.Logger { return l }
func (l *mockLogger) Fields() map[string]interface{}                          { return nil }

// newTestPantheonix wires a full facade with all five systems over the in-memory
// Nakama double. Nil configs fall back to defaults.
func newTestPantheonix(t *testing.T, devotionConfig *DevotionConfig, religionsConfig *ReligionsConfig, civilizationsConfig *CivilizationsConfig, blessingsConfig *BlessingsConfig, effectsConfig *EffectsConfig) *pantheonixImpl {
	t.Helper()
	logger := &mockLogger{}

	if devotionConfig == nil {
		devotionConfig = &DevotionConfig{}
	}
	if religionsConfig == nil {
		religionsConfig = &ReligionsConfig{}
	}
	if civilizationsConfig == nil {
		civilizationsConfig = &CivilizationsConfig{}
	}
	if blessingsConfig == nil {
		blessingsConfig = &BlessingsConfig{}
	}
	if effectsConfig == nil {
		effectsConfig = &EffectsConfig{}
	}

	civilizationsSystem, err := NewNakamaCivilizationsSystem(logger, civilizationsConfig)
	require.NoError(t, err)
	blessingsSystem, err := NewNakamaBlessingsSystem(blessingsConfig)
	require.NoError(t, err)

	px := &pantheonixImpl{
		personalizers: make([]Personalizer, 0),
		publishers:    make([]Publisher, 0),
		systems: map[SystemType]System{
			SystemTypeDevotion:      NewNakamaDevotionSystem(devotionConfig),
			SystemTypeReligions:     NewNakamaReligionsSystem(logger, religionsConfig),
			SystemTypeCivilizations: civilizationsSystem,
			SystemTypeBlessings:     blessingsSystem,
			SystemTypeEffects:       NewNakamaEffectsSystem(logger, effectsConfig),
		},
	}
	for _, system := range px.systems {
		switch s := system.(type) {
		case *NakamaDevotionSystem:
			s.SetPantheonix(px)
		case *NakamaReligionsSystem:
			s.SetPantheonix(px)
		case *NakamaCivilizationsSystem:
			s.SetPantheonix(px)
		case *NakamaBlessingsSystem:
			s.SetPantheonix(px)
		case *NakamaEffectsSystem:
			s.SetPantheonix(px)
		}
	}
	return px
}
