package pantheonix

import (
	"context"
	"database/sql"
	"io"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// pantheonixImpl implements the Pantheonix interface.
type pantheonixImpl struct {
	personalizers []Personalizer
	publishers    []Publisher

	// Store systems in a map by type
	systems map[SystemType]System
}

// Init initializes a Pantheonix type with the configurations provided.
func Init(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, configs ...SystemConfig) (Pantheonix, error) {
	px := &pantheonixImpl{
		personalizers: make([]Personalizer, 0),
		publishers:    make([]Publisher, 0),
		systems:       make(map[SystemType]System),
	}

	for _, config := range configs {
		if err := px.initSystem(ctx, logger, nk, initializer, config); err != nil {
			return nil, err
		}
	}

	if err := px.registerAuthEventHooks(initializer); err != nil {
		return nil, err
	}

	return px, nil
}

// registerAuthEventHooks forwards authentication events to the publisher chain. The
// session carries the created flag; the user id is taken from the hook context.
func (p *pantheonixImpl) registerAuthEventHooks(initializer runtime.Initializer) error {
	after := func(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, session *api.Session) {
		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			return
		}
		p.BroadcastAuthEvent(ctx, logger, nk, userID, session.Created)
	}

	if err := initializer.RegisterAfterAuthenticateDevice(func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateDeviceRequest) error {
		after(ctx, logger, nk, out)
		return nil
	}); err != nil {
		return err
	}
	if err := initializer.RegisterAfterAuthenticateEmail(func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateEmailRequest) error {
		after(ctx, logger, nk, out)
		return nil
	}); err != nil {
		return err
	}
	if err := initializer.RegisterAfterAuthenticateCustom(func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateCustomRequest) error {
		after(ctx, logger, nk, out)
		return nil
	}); err != nil {
		return err
	}
	return nil
}

// initSystem initializes a specific system based on its type.
func (p *pantheonixImpl) initSystem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, config SystemConfig) error {
	logger.Info("Initializing system type: %v, config file: %s", config.GetType(), config.GetConfigFile())

	var configBytes []byte
	if config.GetConfigFile() != "" {
		configData, err := nk.ReadFile(config.GetConfigFile())
		if err != nil {
			logger.Error("Failed to read config file %s: %v", config.GetConfigFile(), err)
			return err
		}
		configBytes, err = io.ReadAll(configData)
		configData.Close()
		if err != nil {
			logger.Error("Failed to read config file contents: %v", err)
			return err
		}
	}

	var system System

	switch config.GetType() {
	case SystemTypeDevotion:
		devotionConfig := &DevotionConfig{}
		if err := parseConfig(config.GetConfigFile(), configBytes, devotionConfig); err != nil {
			logger.Error("Failed to parse Devotion system config: %v", err)
			return err
		}
		system = NewNakamaDevotionSystem(devotionConfig)

	case SystemTypeReligions:
		religionsConfig := &ReligionsConfig{}
		if err := parseConfig(config.GetConfigFile(), configBytes, religionsConfig); err != nil {
			logger.Error("Failed to parse Religions system config: %v", err)
			return err
		}
		system = NewNakamaReligionsSystem(logger, religionsConfig)

	case SystemTypeCivilizations:
		civilizationsConfig := &CivilizationsConfig{}
		if err := parseConfig(config.GetConfigFile(), configBytes, civilizationsConfig); err != nil {
			logger.Error("Failed to parse Civilizations system config: %v", err)
			return err
		}
		civilizationsSystem, err := NewNakamaCivilizationsSystem(logger, civilizationsConfig)
		if err != nil {
			logger.Error("Failed to initialize Civilizations system: %v", err)
			return err
		}
		system = civilizationsSystem

	case SystemTypeBlessings:
		blessingsConfig := &BlessingsConfig{}
		if err := parseConfig(config.GetConfigFile(), configBytes, blessingsConfig); err != nil {
			logger.Error("Failed to parse Blessings system config: %v", err)
			return err
		}
		blessingsSystem, err := NewNakamaBlessingsSystem(blessingsConfig)
		if err != nil {
			logger.Error("Failed to initialize Blessings system: %v", err)
			return err
		}
		system = blessingsSystem

	case SystemTypeEffects:
		effectsConfig := &EffectsConfig{}
		if err := parseConfig(config.GetConfigFile(), configBytes, effectsConfig); err != nil {
			logger.Error("Failed to parse Effects system config: %v", err)
			return err
		}
		system = NewNakamaEffectsSystem(logger, effectsConfig)

	default:
		logger.Error("Unknown system type: %v", config.GetType())
		return ErrBadInput
	}

	p.systems[config.GetType()] = system

	// Wire the system back to the facade so systems can reach each other.
	switch s := system.(type) {
	case *NakamaDevotionSystem:
		s.SetPantheonix(p)
	case *NakamaReligionsSystem:
		s.SetPantheonix(p)
	case *NakamaCivilizationsSystem:
		s.SetPantheonix(p)
	case *NakamaBlessingsSystem:
		s.SetPantheonix(p)
	case *NakamaEffectsSystem:
		s.SetPantheonix(p)
	}

	if config.GetRegister() {
		if err := p.registerSystemRpcs(initializer, config.GetType()); err != nil {
			return err
		}
	}

	return nil
}

// registerSystemRpcs registers the RPC endpoints belonging to one system type.
func (p *pantheonixImpl) registerSystemRpcs(initializer runtime.Initializer, systemType SystemType) error {
	switch systemType {
	case SystemTypeDevotion:
		if err := initializer.RegisterRpc(RpcIdDevotionGet, rpcDevotionGet(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdDevotionJoinReligion, rpcDevotionJoinReligion(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdDevotionLeaveReligion, rpcDevotionLeaveReligion(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdDevotionAddFavor, rpcDevotionAddFavor(p)); err != nil {
			return err
		}

	case SystemTypeReligions:
		if err := initializer.RegisterRpc(RpcIdReligionsCreate, rpcReligionsCreate(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsGet, rpcReligionsGet(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsList, rpcReligionsList(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsRoster, rpcReligionsRoster(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsInvite, rpcReligionsInvite(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsAcceptInvite, rpcReligionsAcceptInvite(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsDeclineInvite, rpcReligionsDeclineInvite(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsKick, rpcReligionsKick(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsTransferFounder, rpcReligionsTransferFounder(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsDisband, rpcReligionsDisband(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsEditDescription, rpcReligionsEditDescription(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsSetVisibility, rpcReligionsSetVisibility(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsCreateRole, rpcReligionsCreateRole(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsDeleteRole, rpcReligionsDeleteRole(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsModifyRole, rpcReligionsModifyRole(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsAssignRole, rpcReligionsAssignRole(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReligionsAddPrestige, rpcReligionsAddPrestige(p)); err != nil {
			return err
		}

	case SystemTypeCivilizations:
		if err := initializer.RegisterRpc(RpcIdCivilizationsCreate, rpcCivilizationsCreate(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsGet, rpcCivilizationsGet(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsList, rpcCivilizationsList(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsInvite, rpcCivilizationsInvite(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsAcceptInvite, rpcCivilizationsAcceptInvite(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsDeclineInvite, rpcCivilizationsDeclineInvite(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsKick, rpcCivilizationsKick(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsDisband, rpcCivilizationsDisband(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsEditIcon, rpcCivilizationsEditIcon(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCivilizationsEditDescription, rpcCivilizationsEditDescription(p)); err != nil {
			return err
		}

	case SystemTypeBlessings:
		if err := initializer.RegisterRpc(RpcIdBlessingsCatalog, rpcBlessingsCatalog(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdBlessingsGetPlayer, rpcBlessingsGetPlayer(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdBlessingsGetReligion, rpcBlessingsGetReligion(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdBlessingsUnlockPlayer, rpcBlessingsUnlockPlayer(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdBlessingsUnlockReligion, rpcBlessingsUnlockReligion(p)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdBlessingsActiveModifiers, rpcBlessingsActiveModifiers(p)); err != nil {
			return err
		}

	case SystemTypeEffects:
		if err := initializer.RegisterRpc(RpcIdEffectsDamageReceived, rpcEffectsDamageReceived(p)); err != nil {
			return err
		}
	}

	return nil
}

// SetPersonalizer is deprecated in favor of AddPersonalizer.
func (p *pantheonixImpl) SetPersonalizer(personalizer Personalizer) {
	p.personalizers = []Personalizer{personalizer}
}

// AddPersonalizer appends a personalizer to the chain applied to system configs.
func (p *pantheonixImpl) AddPersonalizer(personalizer Personalizer) {
	p.personalizers = append(p.personalizers, personalizer)
}

// AddPublisher appends a publisher receiving gameplay events.
func (p *pantheonixImpl) AddPublisher(publisher Publisher) {
	p.publishers = append(p.publishers, publisher)
}

// GetDevotionSystem returns the devotion system, or nil if not configured.
func (p *pantheonixImpl) GetDevotionSystem() DevotionSystem {
	system, ok := p.systems[SystemTypeDevotion].(DevotionSystem)
	if !ok {
		return nil
	}
	return system
}

// GetReligionsSystem returns the religions system, or nil if not configured.
func (p *pantheonixImpl) GetReligionsSystem() ReligionsSystem {
	system, ok := p.systems[SystemTypeReligions].(ReligionsSystem)
	if !ok {
		return nil
	}
	return system
}

// GetCivilizationsSystem returns the civilizations system, or nil if not configured.
func (p *pantheonixImpl) GetCivilizationsSystem() CivilizationsSystem {
	system, ok := p.systems[SystemTypeCivilizations].(CivilizationsSystem)
	if !ok {
		return nil
	}
	return system
}

// GetBlessingsSystem returns the blessings system, or nil if not configured.
func (p *pantheonixImpl) GetBlessingsSystem() BlessingsSystem {
	system, ok := p.systems[SystemTypeBlessings].(BlessingsSystem)
	if !ok {
		return nil
	}
	return system
}

// GetEffectsSystem returns the effects system, or nil if not configured.
func (p *pantheonixImpl) GetEffectsSystem() EffectsSystem {
	system, ok := p.systems[SystemTypeEffects].(EffectsSystem)
	if !ok {
		return nil
	}
	return system
}

// SendPublisherEvents broadcasts events to all registered publishers.
func (p *pantheonixImpl) SendPublisherEvents(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, events []*PublisherEvent) {
	if len(events) == 0 {
		return
	}
	for _, publisher := range p.publishers {
		publisher.Send(ctx, logger, nk, userID, events)
	}
}

// BroadcastAuthEvent notifies all publishers about user authentication.
func (p *pantheonixImpl) BroadcastAuthEvent(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string, created bool) {
	if len(p.publishers) == 0 {
		return
	}

	for _, publisher := range p.publishers {
		publisher.Authenticate(ctx, logger, nk, userID, created)
	}
}

// Flush persists all dirty aggregates held in memory by the systems. Call at controlled
// shutdown, typically from a registered shutdown hook.
func (p *pantheonixImpl) Flush(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	var firstErr error
	for _, system := range p.systems {
		f, ok := system.(flusher)
		if !ok {
			continue
		}
		if err := f.Flush(ctx, logger, nk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
