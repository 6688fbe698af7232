package pantheonix

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	RpcIdBlessingsCatalog         = "blessings_catalog"
	RpcIdBlessingsGetPlayer       = "blessings_get_player"
	RpcIdBlessingsGetReligion     = "blessings_get_religion"
	RpcIdBlessingsUnlockPlayer    = "blessings_unlock_player"
	RpcIdBlessingsUnlockReligion  = "blessings_unlock_religion"
	RpcIdBlessingsActiveModifiers = "blessings_active_modifiers"
)

type BlessingUnlockRequest struct {
	BlessingId string `json:"blessing_id"`
}

type BlessingReligionUnlockRequest struct {
	ReligionId string `json:"religion_id"`
	BlessingId string `json:"blessing_id"`
}

type BlessingCatalogResponse struct {
	Blessings map[string]*BlessingDefinition `json:"blessings"`
}

type BlessingNodesResponse struct {
	Nodes map[string]*BlessingNodeState `json:"nodes"`
}

type BlessingModifiersResponse struct {
	Modifiers map[string]int64 `json:"modifiers"`
}

// personalizedConfig runs a system's config through the personalizer chain for one
// user. Later personalizers win; a personalizer returning nil leaves the config as-is.
func (p *pantheonixImpl) personalizedConfig(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, system System, userID string) any {
	config := system.GetConfig()
	for _, personalizer := range p.personalizers {
		personalized, err := personalizer.GetValue(ctx, logger, nk, system, userID)
		if err != nil {
			logger.Error("Personalizer failed for user %s: %v", userID, err)
			continue
		}
		if personalized != nil {
			config = personalized
		}
	}
	return config
}

func rpcBlessingsCatalog(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		blessingsSystem := p.GetBlessingsSystem()
		if blessingsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		catalog := blessingsSystem.Catalog()
		if config, ok := p.personalizedConfig(ctx, logger, nk, blessingsSystem, userId).(*BlessingsConfig); ok && config != nil {
			catalog = config.Blessings
		}
		return marshalRpcResponse(logger, &BlessingCatalogResponse{Blessings: catalog})
	}
}

func rpcBlessingsGetPlayer(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		blessingsSystem := p.GetBlessingsSystem()
		if blessingsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		nodes, err := blessingsSystem.GetPlayerBlessings(ctx, logger, nk, userId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &BlessingNodesResponse{Nodes: nodes})
	}
}

func rpcBlessingsGetReligion(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		blessingsSystem := p.GetBlessingsSystem()
		if blessingsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request ReligionIdRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal ReligionIdRequest: %v", err)
			return "", ErrPayloadDecode
		}

		nodes, err := blessingsSystem.GetReligionBlessings(ctx, logger, nk, request.ReligionId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &BlessingNodesResponse{Nodes: nodes})
	}
}

func rpcBlessingsUnlockPlayer(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		blessingsSystem := p.GetBlessingsSystem()
		if blessingsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request BlessingUnlockRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal BlessingUnlockRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.BlessingId == "" {
			return "", ErrBadInput
		}

		node, err := blessingsSystem.UnlockPlayerBlessing(ctx, logger, nk, userId, request.BlessingId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, node)
	}
}

func rpcBlessingsUnlockReligion(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		blessingsSystem := p.GetBlessingsSystem()
		if blessingsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		var request BlessingReligionUnlockRequest
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal BlessingReligionUnlockRequest: %v", err)
			return "", ErrPayloadDecode
		}
		if request.ReligionId == "" || request.BlessingId == "" {
			return "", ErrBadInput
		}

		node, err := blessingsSystem.UnlockReligionBlessing(ctx, logger, nk, userId, request.ReligionId, request.BlessingId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, node)
	}
}

func rpcBlessingsActiveModifiers(p *pantheonixImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		blessingsSystem := p.GetBlessingsSystem()
		if blessingsSystem == nil {
			return "", ErrSystemNotAvailable
		}

		userId, err := sessionUserId(ctx)
		if err != nil {
			return "", err
		}

		modifiers, err := blessingsSystem.ActiveStatModifiers(ctx, logger, nk, userId)
		if err != nil {
			return "", err
		}
		return marshalRpcResponse(logger, &BlessingModifiersResponse{Modifiers: modifiers})
	}
}
