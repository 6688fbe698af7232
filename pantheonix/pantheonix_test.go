package pantheonix

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type authEvent struct {
	userID  string
	created bool
}

type recordingPublisher struct {
	sync.Mutex
	events []*PublisherEvent
	auths  []authEvent
}

func (p *recordingPublisher) Authenticate(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, created bool) {
	p.Lock()
	defer p.Unlock()
	p.auths = append(p.auths, authEvent{userID: userID, created: created})
}

func (p *recordingPublisher) Send(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, events []*PublisherEvent) {
	p.Lock()
	defer p.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) eventNames() []string {
	p.Lock()
	defer p.Unlock()
	names := make([]string, 0, len(p.events))
	for _, event := range p.events {
		names = append(names, event.Name)
	}
	return names
}

func TestPantheonix_PublisherReceivesMembershipEvents(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	publisher := &recordingPublisher{}
	px.AddPublisher(publisher)

	devotion := px.GetDevotionSystem()
	religions := px.GetReligionsSystem()
	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.Background()

	religion, err := religions.Create(ctx, logger, nk, "founder", "Order of Dawn", DeityDomainSun, true, "")
	require.NoError(t, err)
	_, err = devotion.JoinReligion(ctx, logger, nk, "user1", religion.ID)
	require.NoError(t, err)
	_, err = devotion.LeaveReligion(ctx, logger, nk, "user1")
	require.NoError(t, err)
	require.NoError(t, religions.Disband(ctx, logger, nk, "founder", religion.ID))

	names := publisher.eventNames()
	assert.Contains(t, names, "religion_created")
	assert.Contains(t, names, "religion_joined")
	assert.Contains(t, names, "religion_left")
	assert.Contains(t, names, "religion_disbanded")
}

// testInitializer captures the after-authenticate hooks so tests can fire them the way
// the game server would.
type testInitializer struct {
	runtime.Initializer

	afterDevice func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateDeviceRequest) error
}

func (i *testInitializer) RegisterAfterAuthenticateDevice(fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateDeviceRequest) error) error {
	i.afterDevice = fn
	return nil
}

func (i *testInitializer) RegisterAfterAuthenticateEmail(fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateEmailRequest) error) error {
	return nil
}

func (i *testInitializer) RegisterAfterAuthenticateCustom(fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateCustomRequest) error) error {
	return nil
}

func TestPantheonix_AuthEventReachesPublishers(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	publisher := &recordingPublisher{}
	px.AddPublisher(publisher)

	initializer := &testInitializer{}
	require.NoError(t, px.registerAuthEventHooks(initializer))
	require.NotNil(t, initializer.afterDevice)

	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, "user1")

	session := &api.Session{Created: true}
	require.NoError(t, initializer.afterDevice(ctx, logger, nil, nk, session, &api.AuthenticateDeviceRequest{}))

	publisher.Lock()
	defer publisher.Unlock()
	require.Len(t, publisher.auths, 1)
	assert.Equal(t, "user1", publisher.auths[0].userID)
	assert.True(t, publisher.auths[0].created)
}

func TestPantheonix_AuthEventWithoutSessionUserIgnored(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	publisher := &recordingPublisher{}
	px.AddPublisher(publisher)

	initializer := &testInitializer{}
	require.NoError(t, px.registerAuthEventHooks(initializer))

	logger := &mockLogger{}
	nk := newTestNakama()

	session := &api.Session{Created: false}
	require.NoError(t, initializer.afterDevice(context.Background(), logger, nil, nk, session, &api.AuthenticateDeviceRequest{}))

	publisher.Lock()
	defer publisher.Unlock()
	assert.Empty(t, publisher.auths)
}

func TestPantheonix_GetSystemsNilWhenAbsent(t *testing.T) {
	px := &pantheonixImpl{systems: make(map[SystemType]System)}

	assert.Nil(t, px.GetDevotionSystem())
	assert.Nil(t, px.GetReligionsSystem())
	assert.Nil(t, px.GetCivilizationsSystem())
	assert.Nil(t, px.GetBlessingsSystem())
	assert.Nil(t, px.GetEffectsSystem())
}

func TestPantheonix_FlushPropagatesStorageError(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	devotion := px.GetDevotionSystem()
	logger := &mockLogger{}
	ctx := context.Background()

	nk := NewMockNakama(t)
	nk.On("StorageRead", mock.Anything, mock.Anything).Return([]*api.StorageObject{}, nil)
	nk.On("StorageWrite", mock.Anything, mock.Anything).Return(nil, errors.New("storage down"))

	_, err := devotion.AddFavor(ctx, logger, nk, "user1", 10)
	require.NoError(t, err, "in-memory state is authoritative, write-behind failure is deferred")

	assert.Error(t, px.Flush(ctx, logger, nk))
}

type catalogPersonalizer struct {
	catalog map[string]*BlessingDefinition
}

func (c *catalogPersonalizer) GetValue(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, system System, identity string) (any, error) {
	if system.GetType() != SystemTypeBlessings {
		return nil, nil
	}
	return &BlessingsConfig{Blessings: c.catalog}, nil
}

func TestPantheonix_PersonalizedCatalog(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, testBlessingsConfig(), nil)
	px.AddPersonalizer(&catalogPersonalizer{
		catalog: map[string]*BlessingDefinition{
			"seasonal_gift": {Name: "Seasonal Gift", Domain: DeityDomainUniversal, Kind: BlessingKindPlayer},
		},
	})

	logger := &mockLogger{}
	nk := newTestNakama()
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_USER_ID, "user1")

	payload, err := rpcBlessingsCatalog(px)(ctx, logger, nil, nk, "")
	require.NoError(t, err)

	var response BlessingCatalogResponse
	require.NoError(t, json.Unmarshal([]byte(payload), &response))
	require.Len(t, response.Blessings, 1)
	assert.Contains(t, response.Blessings, "seasonal_gift")
}

func TestPantheonix_RpcRequiresSessionUser(t *testing.T) {
	px := newTestPantheonix(t, nil, nil, nil, nil, nil)
	logger := &mockLogger{}
	nk := newTestNakama()

	_, err := rpcDevotionGet(px)(context.Background(), logger, nil, nk, "")
	assert.ErrorIs(t, err, ErrNoSessionUser)
}
